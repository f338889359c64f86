package channel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wayli-app/relay/internal/config"
	"github.com/wayli-app/relay/internal/kv"
	"github.com/wayli-app/relay/internal/observability"
)

// QueuedMessage is one undelivered message in a subscriber's backlog.
type QueuedMessage struct {
	Message    json.RawMessage `json:"message"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Manager performs subscribe, publish, pop and unsubscribe against a fixed
// list of target channels. Instances are cheap and created per request; all
// state lives in the KV store, so concurrent managers coordinate via CAS.
type Manager struct {
	store    kv.Store
	cfg      config.ChannelsConfig
	ttl      time.Duration
	channels []string
	metrics  *observability.Metrics

	// now is swappable in tests.
	now func() time.Time
}

// NewManager creates a manager bound to the given channels.
func NewManager(store kv.Store, cfg config.ChannelsConfig, ttl time.Duration, channels []string, metrics *observability.Metrics) *Manager {
	return &Manager{
		store:    store,
		cfg:      cfg,
		ttl:      ttl,
		channels: channels,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Channels returns the manager's bound channel list.
func (m *Manager) Channels() []string {
	return m.channels
}

// Subscribe CAS-appends the token to every bound channel's subscriber set.
// Returns true only if every channel was updated. A token already present
// in a channel's set counts as success for that channel.
func (m *Manager) Subscribe(ctx context.Context, token string) bool {
	for _, ch := range m.channels {
		_, ok := kv.Retry(ctx, m.cfg.WriteRetries, m.cfg.WriteSleep, func(ctx context.Context) kv.Result[struct{}] {
			entry, err := m.store.Get(ctx, m.cfg.ClientsNamespace, ch)
			if err != nil {
				return kv.Continue[struct{}]()
			}
			if entry == nil {
				// Initialize the set, then re-read and CAS on the next attempt.
				if err := m.store.Set(ctx, m.cfg.ClientsNamespace, ch, encodeTokens(nil), m.ttl); err != nil {
					log.Warn().Err(err).Str("channel", ch).Msg("Failed to initialize subscriber set")
				}
				return kv.Continue[struct{}]()
			}

			tokens, err := decodeTokens(entry.Value)
			if err != nil {
				log.Error().Err(err).Str("channel", ch).Msg("Corrupt subscriber set, resetting")
				return kv.GiveUp[struct{}]()
			}
			if containsToken(tokens, token) {
				return kv.Commit(struct{}{})
			}

			ok, err := m.store.CompareAndSwap(ctx, m.cfg.ClientsNamespace, ch, encodeTokens(append(tokens, token)), entry.Version, m.ttl)
			if err != nil || !ok {
				m.metrics.RecordConflict("subscribe")
				return kv.Continue[struct{}]()
			}
			return kv.Commit(struct{}{})
		})
		if !ok {
			m.metrics.RecordExhausted("subscribe")
			log.Warn().Str("channel", ch).Str("token", token).Msg("Subscribe retry budget spent")
			return false
		}
	}
	return true
}

// Publish fans a message out to every subscriber of every bound channel.
// Delivery to one token failing its retry budget does not stop delivery to
// the remaining tokens. A token whose backlog exceeds the configured bound
// after a successful append is evicted from every bound channel.
func (m *Manager) Publish(ctx context.Context, message json.RawMessage) {
	for _, ch := range m.channels {
		entry, err := m.store.Get(ctx, m.cfg.ClientsNamespace, ch)
		if err != nil {
			log.Warn().Err(err).Str("channel", ch).Msg("Failed to read subscriber set, skipping channel")
			continue
		}

		var tokens []string
		if entry != nil {
			if tokens, err = decodeTokens(entry.Value); err != nil {
				log.Error().Err(err).Str("channel", ch).Msg("Corrupt subscriber set, skipping channel")
				continue
			}
		}
		m.metrics.RecordPublish(string(ParseName(ch).Kind), len(tokens))

		for _, token := range tokens {
			if !m.appendToBacklog(ctx, token, message) {
				m.metrics.RecordExhausted("publish")
				log.Warn().Str("channel", ch).Str("token", token).Msg("Publish retry budget spent for subscriber")
			}
		}
	}
}

// appendToBacklog CAS-appends one message to a token's backlog, evicting
// the token on overflow.
func (m *Manager) appendToBacklog(ctx context.Context, token string, message json.RawMessage) bool {
	_, ok := kv.Retry(ctx, m.cfg.WriteRetries, m.cfg.WriteSleep, func(ctx context.Context) kv.Result[struct{}] {
		entry, err := m.store.Get(ctx, m.cfg.BucketsNamespace, token)
		if err != nil {
			return kv.Continue[struct{}]()
		}
		if entry == nil {
			if err := m.store.Set(ctx, m.cfg.BucketsNamespace, token, encodeBacklog(nil), m.ttl); err != nil {
				log.Warn().Err(err).Str("token", token).Msg("Failed to initialize backlog")
			}
			return kv.Continue[struct{}]()
		}

		backlog, err := decodeBacklog(entry.Value)
		if err != nil {
			log.Error().Err(err).Str("token", token).Msg("Corrupt backlog, dropping subscriber")
			return kv.GiveUp[struct{}]()
		}
		backlog = append(backlog, QueuedMessage{Message: message, EnqueuedAt: m.now()})

		ok, err := m.store.CompareAndSwap(ctx, m.cfg.BucketsNamespace, token, encodeBacklog(backlog), entry.Version, m.ttl)
		if err != nil || !ok {
			m.metrics.RecordConflict("publish")
			return kv.Continue[struct{}]()
		}

		if len(backlog) > m.cfg.MaxMessageBacklog {
			// The subscriber stopped draining; cut it loose before the
			// backlog grows without bound.
			m.Evict(ctx, token)
		}
		return kv.Commit(struct{}{})
	})
	return ok
}

// Pop drains the token's backlog with long-poll semantics: it keeps
// retrying on the consumer profile until the backlog is non-empty and the
// drain commits, then returns the messages oldest first. A spent budget or
// an expired deadline yields a nil slice, not an error; the client is
// expected to re-issue the poll.
func (m *Manager) Pop(ctx context.Context, token string) []QueuedMessage {
	messages, ok := kv.Retry(ctx, m.cfg.PullRetries, m.cfg.PullSleep, func(ctx context.Context) kv.Result[[]QueuedMessage] {
		entry, err := m.store.Get(ctx, m.cfg.BucketsNamespace, token)
		if err != nil {
			return kv.Continue[[]QueuedMessage]()
		}
		if entry == nil {
			if err := m.store.Set(ctx, m.cfg.BucketsNamespace, token, encodeBacklog(nil), m.ttl); err != nil {
				log.Warn().Err(err).Str("token", token).Msg("Failed to initialize backlog")
			}
			return kv.Continue[[]QueuedMessage]()
		}

		backlog, err := decodeBacklog(entry.Value)
		if err != nil {
			log.Error().Err(err).Str("token", token).Msg("Corrupt backlog, resetting")
			if err := m.store.Set(ctx, m.cfg.BucketsNamespace, token, encodeBacklog(nil), m.ttl); err != nil {
				log.Warn().Err(err).Str("token", token).Msg("Failed to reset backlog")
			}
			return kv.Continue[[]QueuedMessage]()
		}
		if len(backlog) == 0 {
			return kv.Continue[[]QueuedMessage]()
		}

		ok, err := m.store.CompareAndSwap(ctx, m.cfg.BucketsNamespace, token, encodeBacklog(nil), entry.Version, m.ttl)
		if err != nil || !ok {
			m.metrics.RecordConflict("pop")
			return kv.Continue[[]QueuedMessage]()
		}
		return kv.Commit(backlog)
	})
	if !ok {
		return nil
	}

	m.metrics.RecordDrain(len(messages))
	return messages
}

// Unsubscribe CAS-removes the token from every bound channel's subscriber
// set. Removing a token that is not in a set is a no-op.
func (m *Manager) Unsubscribe(ctx context.Context, token string) {
	for _, ch := range m.channels {
		_, ok := kv.Retry(ctx, m.cfg.WriteRetries, m.cfg.WriteSleep, func(ctx context.Context) kv.Result[struct{}] {
			entry, err := m.store.Get(ctx, m.cfg.ClientsNamespace, ch)
			if err != nil {
				return kv.Continue[struct{}]()
			}
			if entry == nil {
				return kv.Commit(struct{}{})
			}

			tokens, err := decodeTokens(entry.Value)
			if err != nil {
				log.Error().Err(err).Str("channel", ch).Msg("Corrupt subscriber set")
				return kv.GiveUp[struct{}]()
			}
			remaining := removeToken(tokens, token)
			if len(remaining) == len(tokens) {
				return kv.Commit(struct{}{})
			}

			ok, err := m.store.CompareAndSwap(ctx, m.cfg.ClientsNamespace, ch, encodeTokens(remaining), entry.Version, m.ttl)
			if err != nil || !ok {
				m.metrics.RecordConflict("unsubscribe")
				return kv.Continue[struct{}]()
			}
			return kv.Commit(struct{}{})
		})
		if !ok {
			m.metrics.RecordExhausted("unsubscribe")
			log.Warn().Str("channel", ch).Str("token", token).Msg("Unsubscribe retry budget spent")
		}
	}
}

// Evict removes an overflowing subscriber from every bound channel and
// deletes its backlog. The token is terminal after this; a new subscribe
// mints a new one.
func (m *Manager) Evict(ctx context.Context, token string) {
	m.Unsubscribe(ctx, token)
	if err := m.store.Delete(ctx, m.cfg.BucketsNamespace, token); err != nil {
		log.Warn().Err(err).Str("token", token).Msg("Failed to delete evicted backlog")
	}
	m.metrics.RecordEviction()
	log.Info().Str("token", token).Msg("Subscriber evicted for backlog overflow")
}

func encodeTokens(tokens []string) []byte {
	if tokens == nil {
		tokens = []string{}
	}
	data, _ := json.Marshal(tokens)
	return data
}

func decodeTokens(data []byte) ([]string, error) {
	var tokens []string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func encodeBacklog(backlog []QueuedMessage) []byte {
	if backlog == nil {
		backlog = []QueuedMessage{}
	}
	data, _ := json.Marshal(backlog)
	return data
}

func decodeBacklog(data []byte) ([]QueuedMessage, error) {
	var backlog []QueuedMessage
	if err := json.Unmarshal(data, &backlog); err != nil {
		return nil, err
	}
	return backlog, nil
}

func containsToken(tokens []string, token string) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}

func removeToken(tokens []string, token string) []string {
	remaining := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != token {
			remaining = append(remaining, t)
		}
	}
	return remaining
}
