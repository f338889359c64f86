package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wayli-app/relay/internal/auth"
	"github.com/wayli-app/relay/internal/channel"
	"github.com/wayli-app/relay/internal/config"
	"github.com/wayli-app/relay/internal/events"
	"github.com/wayli-app/relay/internal/kv"
	"github.com/wayli-app/relay/internal/observability"
	"github.com/wayli-app/relay/internal/presence"
)

// ChannelHandler serves the long-poll surface: subscribe, pull and
// unsubscribe. It composes the channel and presence managers; neither
// writes the other's namespace.
type ChannelHandler struct {
	store         kv.Store
	cfg           *config.Config
	authenticator auth.Authenticator
	authorizer    auth.Authorizer
	recorder      events.Recorder
	metrics       *observability.Metrics
}

// NewChannelHandler creates the long-poll handler.
func NewChannelHandler(store kv.Store, cfg *config.Config, authenticator auth.Authenticator, authorizer auth.Authorizer, recorder events.Recorder, metrics *observability.Metrics) *ChannelHandler {
	return &ChannelHandler{
		store:         store,
		cfg:           cfg,
		authenticator: authenticator,
		authorizer:    authorizer,
		recorder:      recorder,
		metrics:       metrics,
	}
}

// SubscribeRequest is the POST /channels/subscribe body.
type SubscribeRequest struct {
	Channels string `json:"channels"`
}

// SubscribeResponse is returned by subscribe and unsubscribe.
type SubscribeResponse struct {
	Token    *string  `json:"token"`
	Channels []string `json:"channels"`
}

// PullResponse carries the drained backlog. Items is null when the poll
// budget expired with nothing to deliver.
type PullResponse struct {
	Items []channel.QueuedMessage `json:"items"`
}

// UnsubscribeRequest is the POST /channels/unsubscribe body.
type UnsubscribeRequest struct {
	Token    string `json:"token"`
	Channels string `json:"channels"`
}

// HandleSubscribe mints a new subscription token for the requested
// channels and registers presence for project channels.
func (h *ChannelHandler) HandleSubscribe(c *fiber.Ctx) error {
	user, err := h.resolveUser(c)
	if err != nil {
		return SendErrorWithCode(c, fiber.StatusForbidden, "Forbidden", "FORBIDDEN")
	}

	var req SubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithCode(c, fiber.StatusBadRequest, "Invalid request body", "BAD_REQUEST")
	}

	channels := splitChannels(req.Channels)
	if len(channels) == 0 {
		return SendErrorWithCode(c, fiber.StatusBadRequest, "No channels requested", "EMPTY_CHANNELS")
	}
	for _, ch := range channels {
		if !user.Superuser && !h.authorizer.Permits(c.UserContext(), user, ch) {
			log.Debug().Int64("user_id", user.ID).Str("channel", ch).Msg("Channel access denied")
			return SendErrorWithCode(c, fiber.StatusForbidden, "Forbidden", "CHANNEL_DENIED")
		}
	}

	token := uuid.New().String()
	ctx := c.UserContext()

	if projectID, ok := channel.ProjectID(channels); ok {
		pm := h.presenceManager(projectID)
		if !pm.AddCollaborator(ctx, user, token) {
			return SendErrorWithCode(c, fiber.StatusInternalServerError, "Subscribe failed, retry", "RETRY_EXHAUSTED")
		}
	}

	mgr := h.channelManager(channels)
	if !mgr.Subscribe(ctx, token) {
		return SendErrorWithCode(c, fiber.StatusInternalServerError, "Subscribe failed, retry", "RETRY_EXHAUSTED")
	}

	log.Debug().Int64("user_id", user.ID).Strs("channels", channels).Msg("Subscribed")
	return c.JSON(SubscribeResponse{Token: &token, Channels: channels})
}

// HandlePull long-polls the token's backlog. Presence is refreshed and
// swept after each poll, which keeps active pollers out of the sweep.
func (h *ChannelHandler) HandlePull(c *fiber.Ctx) error {
	user, err := h.resolveUser(c)
	if err != nil {
		return SendErrorWithCode(c, fiber.StatusForbidden, "Forbidden", "FORBIDDEN")
	}

	token := c.Query("token")
	channels := splitChannels(c.Query("channels"))
	if token == "" || len(channels) == 0 {
		return SendErrorWithCode(c, fiber.StatusBadRequest, "token and channels are required", "BAD_REQUEST")
	}

	// The poll loop owns its own deadline with headroom above the retry
	// budget; the sweep below still runs when the budget expires empty.
	budget := time.Duration(h.cfg.Channels.PullRetries)*h.cfg.Channels.PullSleep + 5*time.Second
	ctx, cancel := context.WithTimeout(c.UserContext(), budget)
	defer cancel()

	items := h.channelManager(channels).Pop(ctx, token)

	if projectID, ok := channel.ProjectID(channels); ok {
		pm := h.presenceManager(projectID)
		pm.RefreshCollaborator(ctx, token)
		pm.PurgeExpired(ctx)
	}

	log.Debug().Int64("user_id", user.ID).Int("items", len(items)).Msg("Pull completed")
	return c.JSON(PullResponse{Items: items})
}

// HandleUnsubscribe removes the token from the requested channels and
// drops project presence.
func (h *ChannelHandler) HandleUnsubscribe(c *fiber.Ctx) error {
	user, err := h.resolveUser(c)
	if err != nil {
		return SendErrorWithCode(c, fiber.StatusForbidden, "Forbidden", "FORBIDDEN")
	}

	var req UnsubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithCode(c, fiber.StatusBadRequest, "Invalid request body", "BAD_REQUEST")
	}

	channels := splitChannels(req.Channels)
	if req.Token == "" || len(channels) == 0 {
		return SendErrorWithCode(c, fiber.StatusBadRequest, "token and channels are required", "BAD_REQUEST")
	}
	ctx := c.UserContext()

	if projectID, ok := channel.ProjectID(channels); ok {
		h.presenceManager(projectID).RemoveCollaborator(ctx, req.Token)
	}
	h.channelManager(channels).Unsubscribe(ctx, req.Token)

	log.Debug().Int64("user_id", user.ID).Strs("channels", channels).Msg("Unsubscribed")
	return c.JSON(SubscribeResponse{Token: nil, Channels: channels})
}

// resolveUser authenticates the bearer credential on the request.
func (h *ChannelHandler) resolveUser(c *fiber.Ctx) (*auth.User, error) {
	credential := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
	return h.authenticator.Resolve(c.UserContext(), credential)
}

func (h *ChannelHandler) channelManager(channels []string) *channel.Manager {
	return channel.NewManager(h.store, h.cfg.Channels, h.cfg.KV.DefaultTTL, channels, h.metrics)
}

func (h *ChannelHandler) presenceManager(projectID int64) *presence.Manager {
	return presence.NewManager(h.store, h.cfg.Presence, h.cfg.KV.DefaultTTL,
		h.cfg.Channels.WriteRetries, h.cfg.Channels.WriteSleep, projectID, h.recorder, h.metrics)
}

// splitChannels parses the comma-separated channel list, dropping blanks.
func splitChannels(csv string) []string {
	var channels []string
	for _, part := range strings.Split(csv, ",") {
		if ch := strings.TrimSpace(part); ch != "" {
			channels = append(channels, ch)
		}
	}
	return channels
}
