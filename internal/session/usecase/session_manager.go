package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sallyport/gateway/internal/config"
	"github.com/sallyport/gateway/internal/policy"
	sessionDomain "github.com/sallyport/gateway/internal/session/domain"
	tokenService "github.com/sallyport/gateway/internal/token/service"
)

// RevocationHook is invoked after a session is removed, with a copy of the
// session and the reason. Used to feed the audit trail for revocations the
// client never observes directly (eviction, expiry sweeps).
type RevocationHook func(session *sessionDomain.Session, reason string)

// sessionManager implements SessionManager with an in-memory store.
//
// Three indexes are kept consistent under one mutex: by session ID, by token
// hash, and by principal. Sessions per principal are small (tier limits cap
// them at 10) so linear scans inside a principal's set are fine.
type sessionManager struct {
	config       *config.Config
	policyEngine *policy.Engine
	tokens       tokenService.RefreshTokenService
	logger       *slog.Logger
	onRevoke     RevocationHook
	now          func() time.Time

	mu          sync.RWMutex
	sessions    map[uuid.UUID]*sessionDomain.Session
	byToken     map[string]uuid.UUID
	byPrincipal map[uuid.UUID]map[uuid.UUID]struct{}
}

// Create establishes a session for an authenticated principal.
//
// This method:
// 1. Resolves the principal's tier bundle
// 2. Counts the principal's live sessions, dropping any that expired
// 3. At the limit: reject mode returns ErrSessionLimit with no new session;
//    evict mode displaces least recently used sessions until there is room
// 4. Generates the opaque bearer token and stores its hash
//
// Security Notes:
//   - The plain bearer token is returned exactly once and never stored
//   - Reject mode is mandatory for the top tiers, so a flood of sign-ins can
//     never silently displace an executive session
func (s *sessionManager) Create(
	ctx context.Context,
	input *sessionDomain.CreateInput,
) (*sessionDomain.CreateOutput, error) {
	bundle := s.policyEngine.Resolve(input.Tier)
	now := s.now()

	// MFASatisfiedAt is only recorded when the factor set meets the tier's
	// minimum. A short factor set on an MFA-required tier leaves it zero,
	// so the policy stage reports the session as stale.
	var mfaSatisfiedAt time.Time
	if s.policyEngine.MFASatisfied(input.Factors, bundle) {
		mfaSatisfiedAt = input.AuthTime
	}

	plainToken, tokenHash, err := s.tokens.GenerateToken()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()

	var evicted []*sessionDomain.Session
	live := s.livePrincipalSessionsLocked(input.PrincipalID, now)
	if len(live) >= bundle.SessionLimit {
		if bundle.Eviction == policy.EvictReject {
			s.mu.Unlock()
			return nil, sessionDomain.ErrSessionLimit
		}
		evicted = s.evictLRULocked(live, len(live)-bundle.SessionLimit+1)
	}

	session := &sessionDomain.Session{
		ID:             uuid.Must(uuid.NewV7()),
		PrincipalID:    input.PrincipalID,
		Tier:           input.Tier,
		TokenHash:      tokenHash,
		ClientIP:       input.ClientIP,
		Factors:        input.Factors,
		MFASatisfiedAt: mfaSatisfiedAt,
		CreatedAt:      now,
		LastSeenAt:     now,
		ExpiresAt:      now.Add(bundle.SessionTimeout),
	}
	s.insertLocked(session)
	s.mu.Unlock()

	for _, victim := range evicted {
		s.notifyRevoked(victim, sessionDomain.RevokeReasonEvicted)
	}

	return &sessionDomain.CreateOutput{
		SessionID:  session.ID,
		PlainToken: plainToken,
		ExpiresAt:  session.ExpiresAt,
	}, nil
}

// Authenticate resolves an opaque bearer token to its session.
func (s *sessionManager) Authenticate(
	ctx context.Context,
	bearer string,
) (uuid.UUID, uuid.UUID, error) {
	tokenHash := s.tokens.HashToken(bearer)
	now := s.now()

	s.mu.Lock()
	sessionID, ok := s.byToken[tokenHash]
	if !ok {
		s.mu.Unlock()
		return uuid.Nil, uuid.Nil, sessionDomain.ErrSessionNotFound
	}

	session := s.sessions[sessionID]
	if reason := s.deadlineReason(session, now); reason != "" {
		s.removeLocked(session)
		s.mu.Unlock()
		s.notifyRevoked(session, reason)
		return uuid.Nil, uuid.Nil, sessionDomain.ErrSessionNotFound
	}

	session.LastSeenAt = now
	principalID := session.PrincipalID
	s.mu.Unlock()

	return sessionID, principalID, nil
}

// Get returns a copy of a live session.
func (s *sessionManager) Get(ctx context.Context, sessionID uuid.UUID) (*sessionDomain.Session, error) {
	now := s.now()

	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	if !ok || s.deadlineReason(session, now) != "" {
		s.mu.RUnlock()
		return nil, sessionDomain.ErrSessionNotFound
	}
	copied := *session
	s.mu.RUnlock()

	return &copied, nil
}

// Revoke terminates a session with a reason.
func (s *sessionManager) Revoke(ctx context.Context, sessionID uuid.UUID, reason string) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	s.removeLocked(session)
	s.mu.Unlock()

	s.notifyRevoked(session, reason)
	return nil
}

// RevokeAllForPrincipal terminates every session owned by the principal.
func (s *sessionManager) RevokeAllForPrincipal(
	ctx context.Context,
	principalID uuid.UUID,
	reason string,
) int {
	s.mu.Lock()
	var revoked []*sessionDomain.Session
	for sessionID := range s.byPrincipal[principalID] {
		session := s.sessions[sessionID]
		s.removeLocked(session)
		revoked = append(revoked, session)
	}
	s.mu.Unlock()

	for _, session := range revoked {
		s.notifyRevoked(session, reason)
	}
	return len(revoked)
}

// Sweep removes sessions past their absolute or idle deadline.
func (s *sessionManager) Sweep(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	type expired struct {
		session *sessionDomain.Session
		reason  string
	}
	var removed []expired
	for _, session := range s.sessions {
		if reason := s.deadlineReason(session, now); reason != "" {
			s.removeLocked(session)
			removed = append(removed, expired{session: session, reason: reason})
		}
	}
	s.mu.Unlock()

	for _, e := range removed {
		s.notifyRevoked(e.session, e.reason)
	}
	return len(removed)
}

// Start runs the periodic session sweep until the context is cancelled.
func (s *sessionManager) Start(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("starting session sweeper",
			slog.Duration("interval", s.config.SessionSweepInterval),
		)
	}

	ticker := time.NewTicker(s.config.SessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.Info("stopping session sweeper")
			}
			return ctx.Err()
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 && s.logger != nil {
				s.logger.Info("swept expired sessions", slog.Int("count", n))
			}
		}
	}
}

// deadlineReason reports why the session is past a deadline, or "" if live.
func (s *sessionManager) deadlineReason(session *sessionDomain.Session, now time.Time) string {
	if !now.Before(session.ExpiresAt) {
		return sessionDomain.RevokeReasonExpired
	}
	bundle := s.policyEngine.Resolve(session.Tier)
	if bundle.IdleTimeout > 0 && now.Sub(session.LastSeenAt) > bundle.IdleTimeout {
		return sessionDomain.RevokeReasonIdle
	}
	return ""
}

// livePrincipalSessionsLocked returns the principal's live sessions, removing
// any that are past a deadline on the way. Caller holds the write lock.
func (s *sessionManager) livePrincipalSessionsLocked(
	principalID uuid.UUID,
	now time.Time,
) []*sessionDomain.Session {
	var live []*sessionDomain.Session
	for sessionID := range s.byPrincipal[principalID] {
		session := s.sessions[sessionID]
		if s.deadlineReason(session, now) != "" {
			s.removeLocked(session)
			continue
		}
		live = append(live, session)
	}
	return live
}

// evictLRULocked removes the n least recently used sessions from the given
// set and returns them. Caller holds the write lock.
func (s *sessionManager) evictLRULocked(
	live []*sessionDomain.Session,
	n int,
) []*sessionDomain.Session {
	var evicted []*sessionDomain.Session
	for i := 0; i < n && len(live) > 0; i++ {
		oldest := 0
		for j := range live {
			if live[j].LastSeenAt.Before(live[oldest].LastSeenAt) {
				oldest = j
			}
		}
		victim := live[oldest]
		s.removeLocked(victim)
		evicted = append(evicted, victim)
		live = append(live[:oldest], live[oldest+1:]...)
	}
	return evicted
}

// insertLocked adds the session to all indexes. Caller holds the write lock.
func (s *sessionManager) insertLocked(session *sessionDomain.Session) {
	s.sessions[session.ID] = session
	s.byToken[session.TokenHash] = session.ID
	principalSet, ok := s.byPrincipal[session.PrincipalID]
	if !ok {
		principalSet = make(map[uuid.UUID]struct{})
		s.byPrincipal[session.PrincipalID] = principalSet
	}
	principalSet[session.ID] = struct{}{}
}

// removeLocked removes the session from all indexes. Caller holds the write lock.
func (s *sessionManager) removeLocked(session *sessionDomain.Session) {
	delete(s.sessions, session.ID)
	delete(s.byToken, session.TokenHash)
	if principalSet, ok := s.byPrincipal[session.PrincipalID]; ok {
		delete(principalSet, session.ID)
		if len(principalSet) == 0 {
			delete(s.byPrincipal, session.PrincipalID)
		}
	}
}

// notifyRevoked invokes the revocation hook outside the store lock.
func (s *sessionManager) notifyRevoked(session *sessionDomain.Session, reason string) {
	if s.onRevoke != nil {
		copied := *session
		s.onRevoke(&copied, reason)
	}
}

// NewSessionManager creates a SessionManager with the provided dependencies.
// The revocation hook may be nil.
func NewSessionManager(
	config *config.Config,
	policyEngine *policy.Engine,
	tokens tokenService.RefreshTokenService,
	logger *slog.Logger,
	onRevoke RevocationHook,
) SessionManager {
	return &sessionManager{
		config:       config,
		policyEngine: policyEngine,
		tokens:       tokens,
		logger:       logger,
		onRevoke:     onRevoke,
		now:          func() time.Time { return time.Now().UTC() },
		sessions:     make(map[uuid.UUID]*sessionDomain.Session),
		byToken:      make(map[string]uuid.UUID),
		byPrincipal:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}
