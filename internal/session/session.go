package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
)

// Session is the identity collaborator handed to the workspace controller.
// The store is optional; without it nothing is remembered.
type Session struct {
	identity *Identity
	store    *Store
}

// New creates a session for identity.
func New(identity *Identity, store *Store) *Session {
	if identity == nil {
		identity = &Identity{}
	}
	return &Session{identity: identity, store: store}
}

// Principal returns the active principal.
func (s *Session) Principal() string {
	return s.identity.Principal
}

// Identity returns the principal's identity.
func (s *Session) Identity() Identity {
	return *s.identity
}

// LastContext returns the context the principal used last.
func (s *Session) LastContext() string {
	if s.store == nil || s.identity.Principal == "" {
		return ""
	}
	id, err := s.store.LastContext(context.Background(), s.identity.Principal)
	if err != nil {
		logging.Warn("could not read last context", zap.String("principal", s.identity.Principal), zap.Error(err))
		return ""
	}
	return id
}

// Remember records contextID as the principal's last context.
func (s *Session) Remember(ctx context.Context, contextID string) error {
	if s.store == nil || s.identity.Principal == "" {
		return nil
	}
	return s.store.SetLastContext(ctx, s.identity.Principal, contextID)
}
