// Package auth issues one-time credential-entry links and binds verified
// credentials to agent sessions. The one-time link (the capability) and the
// session record (the durable state) are deliberately two separate keys:
// polling reads the session table and never consumes the link.
package auth

import (
	"sync"
	"time"

	"github.com/skygate-io/skygate/pkg/models"
)

// Session is a per-agent-session record. It is created when a tool call
// first requests authentication and mutated only by the Broker on
// successful verification. Nothing survives a process restart.
type Session struct {
	ID         string
	Credential string
	Email      string
	CreatedAt  time.Time
	VerifiedAt time.Time
}

// Sessions is the in-memory session table.
type Sessions struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{byID: make(map[string]*Session)}
}

// ensure creates the session record on first use.
func (s *Sessions) ensure(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		s.byID[id] = &Session{ID: id, CreatedAt: now}
	}
}

// bind attaches a verified credential to a session.
func (s *Sessions) bind(id string, user models.UserInfo, credential string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		sess = &Session{ID: id, CreatedAt: now}
		s.byID[id] = sess
	}
	sess.Credential = credential
	sess.Email = user.Email
	sess.VerifiedAt = now
}

// Seed binds a statically configured credential at startup, before any
// broker runs. Used for deployments where the API key comes from the
// environment instead of the web flow.
func (s *Sessions) Seed(id, credential string, now time.Time) {
	s.bind(id, models.UserInfo{}, credential, now)
}

// Credential returns the bound credential for a session, if verified.
func (s *Sessions) Credential(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok || sess.Credential == "" {
		return "", false
	}
	return sess.Credential, true
}

// Configured reports whether a session has a verified credential bound.
func (s *Sessions) Configured(id string) bool {
	_, ok := s.Credential(id)
	return ok
}

// Email returns the upstream account email bound to a session, if any.
func (s *Sessions) Email(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.byID[id]; ok {
		return sess.Email
	}
	return ""
}
