// Package testutil provides shared test utilities and mocks for unit testing.
package testutil

import (
	"context"
	"strconv"
	"sync"

	"github.com/wayli-app/relay/internal/auth"
	"github.com/wayli-app/relay/internal/events"
)

// MockAuthenticator implements auth.Authenticator for testing
type MockAuthenticator struct {
	// Users maps credentials to the user they resolve to
	Users map[string]*auth.User

	// OnResolve overrides the lookup when set
	OnResolve func(ctx context.Context, credential string) (*auth.User, error)
}

// NewMockAuthenticator creates an authenticator with no known credentials
func NewMockAuthenticator() *MockAuthenticator {
	return &MockAuthenticator{Users: make(map[string]*auth.User)}
}

func (m *MockAuthenticator) Resolve(ctx context.Context, credential string) (*auth.User, error) {
	if m.OnResolve != nil {
		return m.OnResolve(ctx, credential)
	}
	if user, ok := m.Users[credential]; ok {
		return user, nil
	}
	return nil, auth.ErrForbidden
}

// MockAuthorizer implements auth.Authorizer for testing
type MockAuthorizer struct {
	// AllowAll grants every channel when set
	AllowAll bool
	// Allowed maps "userID:channel" to access
	Allowed map[string]bool

	// OnPermits overrides the lookup when set
	OnPermits func(ctx context.Context, user *auth.User, channel string) bool
}

// NewMockAuthorizer creates an authorizer that denies everything
func NewMockAuthorizer() *MockAuthorizer {
	return &MockAuthorizer{Allowed: make(map[string]bool)}
}

// Allow grants a user access to a channel
func (m *MockAuthorizer) Allow(userID int64, channel string) {
	m.Allowed[permitKey(userID, channel)] = true
}

func (m *MockAuthorizer) Permits(ctx context.Context, user *auth.User, channel string) bool {
	if m.OnPermits != nil {
		return m.OnPermits(ctx, user, channel)
	}
	if m.AllowAll {
		return true
	}
	return m.Allowed[permitKey(user.ID, channel)]
}

func permitKey(userID int64, channel string) string {
	return strconv.FormatInt(userID, 10) + ":" + channel
}

// MockRecorder implements events.Recorder, capturing recorded events
type MockRecorder struct {
	mu       sync.Mutex
	recorded []*events.Event

	// OnRecord is called for each recorded event when set
	OnRecord func(ctx context.Context, event *events.Event) error
}

// NewMockRecorder creates an empty recorder
func NewMockRecorder() *MockRecorder {
	return &MockRecorder{}
}

func (m *MockRecorder) Record(ctx context.Context, event *events.Event) error {
	if m.OnRecord != nil {
		if err := m.OnRecord(ctx, event); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, event)
	return nil
}

// Recorded returns a copy of all recorded events
func (m *MockRecorder) Recorded() []*events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*events.Event, len(m.recorded))
	copy(out, m.recorded)
	return out
}

// RecordedKinds returns the kinds of recorded events in order
func (m *MockRecorder) RecordedKinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, len(m.recorded))
	for i, e := range m.recorded {
		kinds[i] = e.Kind
	}
	return kinds
}
