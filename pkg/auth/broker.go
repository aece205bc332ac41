package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/clock"
	"github.com/skygate-io/skygate/pkg/models"
	"github.com/skygate-io/skygate/pkg/token"
)

var (
	// ErrLinkInvalid covers unknown, expired and already-used links alike.
	// The distinction is deliberately not reported: an attacker probing
	// links learns nothing about their state.
	ErrLinkInvalid = errors.New("authentication link is invalid or expired")
	// ErrVerificationFailed means the upstream rejected the credential.
	// The link stays live so the user can retry until it expires.
	ErrVerificationFailed = errors.New("credential verification failed")
)

// Verifier validates a submitted credential against the upstream identity
// endpoint.
type Verifier interface {
	Whoami(ctx context.Context, apiKey string) (models.UserInfo, error)
}

// Broker issues one-time authentication links and completes them against
// submitted credentials.
type Broker struct {
	store     *token.Store
	sessions  *Sessions
	verifier  Verifier
	clock     clock.Clock
	logger    pslog.Logger
	publicURL string
	linkTTL   time.Duration
}

// NewBroker wires the auth flow.
func NewBroker(store *token.Store, sessions *Sessions, verifier Verifier, clk clock.Clock, logger pslog.Logger, publicURL string, linkTTL time.Duration) *Broker {
	return &Broker{
		store:     store,
		sessions:  sessions,
		verifier:  verifier,
		clock:     clk,
		logger:    logger,
		publicURL: strings.TrimRight(publicURL, "/"),
		linkTTL:   linkTTL,
	}
}

// Start issues a single-use credential-entry link for a session. The secret
// credential later travels only over this link, never through the agent
// conversation.
func (b *Broker) Start(sessionID string) (link string, ttl time.Duration, err error) {
	b.sessions.ensure(sessionID, b.clock.Now())
	id, err := b.store.Create(token.KindAuth, sessionID, sessionID, b.linkTTL)
	if err != nil {
		return "", 0, fmt.Errorf("issue auth link: %w", err)
	}
	b.logger.Info("auth.link.issued",
		"session", sessionID,
		"ttl_seconds", b.linkTTL.Seconds(),
	)
	return b.publicURL + "/auth/" + id, b.linkTTL, nil
}

// LinkStatus reports the state of a link for the web page. Unknown links
// report StatusInvalid.
func (b *Broker) LinkStatus(tokenID string) token.Status {
	st, err := b.store.Peek(tokenID)
	if err != nil {
		return token.StatusInvalid
	}
	return st
}

// SubmitCredential validates the credential upstream and, only on success,
// redeems the link and binds the credential to the originating session.
// A failed upstream validation leaves the link pending for a retry.
func (b *Broker) SubmitCredential(ctx context.Context, tokenID, apiKey string) (models.UserInfo, error) {
	st, err := b.store.Peek(tokenID)
	if err != nil || st != token.StatusPending {
		return models.UserInfo{}, ErrLinkInvalid
	}

	user, err := b.verifier.Whoami(ctx, apiKey)
	if err != nil {
		b.logger.Warn("auth.verify.failed", "error", err)
		return models.UserInfo{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	payload, err := b.store.Redeem(tokenID, nil)
	if err != nil {
		// Lost a race with a concurrent submit, or the link lapsed between
		// the peek and the redeem.
		return models.UserInfo{}, ErrLinkInvalid
	}
	sessionID, _ := payload.(string)
	b.sessions.bind(sessionID, user, apiKey, b.clock.Now())
	b.logger.Info("auth.verified", "session", sessionID, "email", user.Email)
	return user, nil
}

// Status reports whether a session has a verified credential. It reads the
// session table only, so repeated polling never exhausts the link.
func (b *Broker) Status(sessionID string) bool {
	return b.sessions.Configured(sessionID)
}
