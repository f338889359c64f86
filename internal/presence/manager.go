// Package presence tracks which users are online on a project. The roster
// lives in the shared KV store so every instance sees the same view; expiry
// is enforced by timestamp comparison on read, not by the KV's own TTL,
// because any write to the roster key refreshes that TTL.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wayli-app/relay/internal/auth"
	"github.com/wayli-app/relay/internal/config"
	"github.com/wayli-app/relay/internal/events"
	"github.com/wayli-app/relay/internal/kv"
	"github.com/wayli-app/relay/internal/observability"
)

// Collaborator is one online user in a project roster.
type Collaborator struct {
	UserID             int64     `json:"user_id"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	Email              string    `json:"email"`
	ProfileImageURL    string    `json:"profile_image_url"`
	ExternalProfileURL string    `json:"external_profile_url"`
	LastSeenAt         time.Time `json:"last_seen_at"`
}

// Roster maps subscription tokens to collaborators. At most one token per
// user id: a user opening several tabs reports as a single presence.
type Roster map[string]Collaborator

// Manager tracks presence for a single project.
type Manager struct {
	store     kv.Store
	cfg       config.PresenceConfig
	ttl       time.Duration
	retries   int
	sleep     time.Duration
	projectID int64
	recorder  events.Recorder
	metrics   *observability.Metrics

	// now is swappable in tests to drive expiry sweeps.
	now func() time.Time
}

// NewManager creates a presence manager bound to one project. The retry
// profile is the writer profile shared with the channel manager. Recorder
// may be nil; presence transitions are then not fanned out.
func NewManager(store kv.Store, cfg config.PresenceConfig, ttl time.Duration, retries int, sleep time.Duration, projectID int64, recorder events.Recorder, metrics *observability.Metrics) *Manager {
	return &Manager{
		store:     store,
		cfg:       cfg,
		ttl:       ttl,
		retries:   retries,
		sleep:     sleep,
		projectID: projectID,
		recorder:  recorder,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (m *Manager) key() string {
	return fmt.Sprintf("project-%d", m.projectID)
}

// AddCollaborator inserts the user into the roster under the token,
// displacing any token the same user already holds. Emits an online event
// on success.
func (m *Manager) AddCollaborator(ctx context.Context, user *auth.User, token string) bool {
	_, ok := kv.Retry(ctx, m.retries, m.sleep, func(ctx context.Context) kv.Result[struct{}] {
		entry, err := m.store.Get(ctx, m.cfg.Namespace, m.key())
		if err != nil {
			return kv.Continue[struct{}]()
		}
		if entry == nil {
			if err := m.store.Set(ctx, m.cfg.Namespace, m.key(), encodeRoster(nil), m.ttl); err != nil {
				log.Warn().Err(err).Int64("project_id", m.projectID).Msg("Failed to initialize roster")
			}
			return kv.Continue[struct{}]()
		}

		roster, err := decodeRoster(entry.Value)
		if err != nil {
			log.Error().Err(err).Int64("project_id", m.projectID).Msg("Corrupt roster")
			return kv.GiveUp[struct{}]()
		}

		// One token per user: a new tab displaces the old one.
		for t, c := range roster {
			if c.UserID == user.ID {
				delete(roster, t)
			}
		}
		roster[token] = Collaborator{
			UserID:             user.ID,
			FirstName:          user.FirstName,
			LastName:           user.LastName,
			Email:              user.Email,
			ProfileImageURL:    user.ProfileImageURL,
			ExternalProfileURL: user.ExternalProfileURL,
			LastSeenAt:         m.now(),
		}

		ok, err := m.store.CompareAndSwap(ctx, m.cfg.Namespace, m.key(), encodeRoster(roster), entry.Version, m.ttl)
		if err != nil || !ok {
			m.metrics.RecordConflict("presence_add")
			return kv.Continue[struct{}]()
		}
		return kv.Commit(struct{}{})
	})
	if !ok {
		m.metrics.RecordExhausted("presence_add")
		return false
	}

	m.metrics.RecordPresence(true)
	m.emitOnline(ctx, user)
	return true
}

// RemoveCollaborator drops the token from the roster. Emits an offline
// event for the user the token belonged to. An absent token is a
// successful no-op.
func (m *Manager) RemoveCollaborator(ctx context.Context, token string) bool {
	removed, ok := kv.Retry(ctx, m.retries, m.sleep, func(ctx context.Context) kv.Result[*Collaborator] {
		entry, err := m.store.Get(ctx, m.cfg.Namespace, m.key())
		if err != nil {
			return kv.Continue[*Collaborator]()
		}
		if entry == nil {
			return kv.Commit[*Collaborator](nil)
		}

		roster, err := decodeRoster(entry.Value)
		if err != nil {
			log.Error().Err(err).Int64("project_id", m.projectID).Msg("Corrupt roster")
			return kv.GiveUp[*Collaborator]()
		}
		c, present := roster[token]
		if !present {
			return kv.Commit[*Collaborator](nil)
		}
		delete(roster, token)

		ok, err := m.store.CompareAndSwap(ctx, m.cfg.Namespace, m.key(), encodeRoster(roster), entry.Version, m.ttl)
		if err != nil || !ok {
			m.metrics.RecordConflict("presence_remove")
			return kv.Continue[*Collaborator]()
		}
		return kv.Commit(&c)
	})
	if !ok {
		m.metrics.RecordExhausted("presence_remove")
		return false
	}

	if removed != nil {
		m.metrics.RecordPresence(false)
		m.emitOffline(ctx, removed.UserID)
	}
	return true
}

// RefreshCollaborator bumps the token's last-seen timestamp. An absent
// token is a successful no-op.
func (m *Manager) RefreshCollaborator(ctx context.Context, token string) bool {
	_, ok := kv.Retry(ctx, m.retries, m.sleep, func(ctx context.Context) kv.Result[struct{}] {
		entry, err := m.store.Get(ctx, m.cfg.Namespace, m.key())
		if err != nil {
			return kv.Continue[struct{}]()
		}
		if entry == nil {
			return kv.Commit(struct{}{})
		}

		roster, err := decodeRoster(entry.Value)
		if err != nil {
			log.Error().Err(err).Int64("project_id", m.projectID).Msg("Corrupt roster")
			return kv.GiveUp[struct{}]()
		}
		c, present := roster[token]
		if !present {
			return kv.Commit(struct{}{})
		}
		c.LastSeenAt = m.now()
		roster[token] = c

		ok, err := m.store.CompareAndSwap(ctx, m.cfg.Namespace, m.key(), encodeRoster(roster), entry.Version, m.ttl)
		if err != nil || !ok {
			m.metrics.RecordConflict("presence_refresh")
			return kv.Continue[struct{}]()
		}
		return kv.Commit(struct{}{})
	})
	if !ok {
		m.metrics.RecordExhausted("presence_refresh")
	}
	return ok
}

// Collaborators returns the roster. With filterExpired, entries whose
// last-seen is older than the collaborator expiry are pruned into a fresh
// map, offline events are emitted for them, and the pruned roster is
// written back without CAS: a lost update here only delays the next sweep
// by one poll cycle.
func (m *Manager) Collaborators(ctx context.Context, filterExpired bool) (Roster, error) {
	entry, err := m.store.Get(ctx, m.cfg.Namespace, m.key())
	if err != nil {
		return nil, fmt.Errorf("presence: read roster: %w", err)
	}
	if entry == nil {
		if err := m.store.Set(ctx, m.cfg.Namespace, m.key(), encodeRoster(nil), m.ttl); err != nil {
			log.Warn().Err(err).Int64("project_id", m.projectID).Msg("Failed to initialize roster")
		}
		return Roster{}, nil
	}

	roster, err := decodeRoster(entry.Value)
	if err != nil {
		return nil, fmt.Errorf("presence: decode roster: %w", err)
	}
	if !filterExpired {
		return roster, nil
	}

	cutoff := m.now().Add(-m.cfg.CollaboratorExpiry)
	fresh := make(Roster, len(roster))
	var swept []Collaborator
	for token, c := range roster {
		if c.LastSeenAt.Before(cutoff) {
			swept = append(swept, c)
			continue
		}
		fresh[token] = c
	}

	if len(swept) > 0 {
		if err := m.store.Set(ctx, m.cfg.Namespace, m.key(), encodeRoster(fresh), m.ttl); err != nil {
			log.Warn().Err(err).Int64("project_id", m.projectID).Msg("Failed to write swept roster")
		}
		for _, c := range swept {
			m.metrics.RecordPresence(false)
			m.emitOffline(ctx, c.UserID)
		}
		log.Debug().Int64("project_id", m.projectID).Int("swept", len(swept)).Msg("Presence sweep")
	}
	return fresh, nil
}

// PurgeExpired runs a sweep for its side effects.
func (m *Manager) PurgeExpired(ctx context.Context) {
	if _, err := m.Collaborators(ctx, true); err != nil {
		log.Warn().Err(err).Int64("project_id", m.projectID).Msg("Presence purge failed")
	}
}

func (m *Manager) emitOnline(ctx context.Context, user *auth.User) {
	if m.recorder == nil {
		return
	}
	userID := user.ID
	event := &events.Event{
		Kind:      events.KindCollaboratorOnline,
		ProjectID: &m.projectID,
		ActorID:   &userID,
		Payload: map[string]interface{}{
			"user_id":    user.ID,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"email":      user.Email,
		},
	}
	if err := m.recorder.Record(ctx, event); err != nil {
		log.Warn().Err(err).Int64("project_id", m.projectID).Msg("Failed to record online event")
	}
}

func (m *Manager) emitOffline(ctx context.Context, userID int64) {
	if m.recorder == nil {
		return
	}
	event := &events.Event{
		Kind:      events.KindCollaboratorOffline,
		ProjectID: &m.projectID,
		ActorID:   &userID,
		Payload:   map[string]interface{}{"user_id": userID},
	}
	if err := m.recorder.Record(ctx, event); err != nil {
		log.Warn().Err(err).Int64("project_id", m.projectID).Msg("Failed to record offline event")
	}
}

func encodeRoster(roster Roster) []byte {
	if roster == nil {
		roster = Roster{}
	}
	data, _ := json.Marshal(roster)
	return data
}

func decodeRoster(data []byte) (Roster, error) {
	var roster Roster
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, err
	}
	if roster == nil {
		roster = Roster{}
	}
	return roster, nil
}
