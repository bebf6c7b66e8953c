// Package confirm implements the human gate between a built plan and
// its execution. A plan carries a single-use token; redeeming it
// requires typing the challenge phrase for that exact plan.
package confirm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ribera-group/coordina-cli/internal/model"
)

// TokenStore is the slice of the persistence layer the gate consumes.
type TokenStore interface {
	RedeemPlanToken(ctx context.Context, planID, token string, cutoff time.Time) (already bool, err error)
}

// DefaultTokenTTL is how long a confirmation token stays redeemable
// after the plan is built.
const DefaultTokenTTL = time.Hour

// Redemption reports how a confirmation resolved. Already means the
// token had been redeemed before with the same challenge; the caller
// must return the outcome of the first redemption instead of starting
// new work.
type Redemption struct {
	Already bool
}

// Gate validates confirmation challenges against stored plan tokens.
type Gate struct {
	store TokenStore
	ttl   time.Duration
	now   func() time.Time
}

// Option customizes a Gate.
type Option func(*Gate)

// WithTTL overrides the token redemption window.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gate) { g.ttl = ttl }
}

// WithNow injects a clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func NewGate(store TokenStore, opts ...Option) *Gate {
	g := &Gate{store: store, ttl: DefaultTokenTTL, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ChallengePhrase returns the exact text a human must type to confirm
// the given plan.
func ChallengePhrase(planID string) string {
	return "EXECUTE " + planID
}

// Confirm checks the typed challenge and consumes the plan's token.
// The typed text must name the plan being executed, so a phrase copied
// from another plan's prompt never confirms this one.
func (g *Gate) Confirm(ctx context.Context, planID, token, typed string) (Redemption, error) {
	if strings.TrimSpace(typed) != ChallengePhrase(planID) {
		return Redemption{}, model.NewStructured(model.CodeInvalidChallenge,
			"confirmation text does not match this plan").
			WithHint(fmt.Sprintf("type %q to confirm", ChallengePhrase(planID)))
	}
	if strings.TrimSpace(token) == "" {
		return Redemption{}, model.NewStructured(model.CodeInvalidChallenge,
			"confirmation token is required")
	}

	already, err := g.store.RedeemPlanToken(ctx, planID, token, g.now().Add(-g.ttl))
	if err != nil {
		return Redemption{}, err
	}
	return Redemption{Already: already}, nil
}
