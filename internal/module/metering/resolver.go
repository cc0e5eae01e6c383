package metering

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/naigate/server/internal/shared/errors"
)

// Resolver produces one Decision per request by walking the privilege
// cascade: admin token, then prepaid card, then free-tier ceilings. The
// first matching tier wins.
type Resolver struct {
	adminToken    string
	quotas        *QuotaLedger
	credits       *CreditStore
	globalLimit   int
	identityLimit int
	logger        *zap.Logger
}

// ResolverConfig carries the resolver's explicit dependencies. Quotas and
// Credits may both be nil when no store is configured; free-tier requests
// are then admitted unconditionally.
type ResolverConfig struct {
	AdminToken    string
	Quotas        *QuotaLedger
	Credits       *CreditStore
	GlobalLimit   int
	IdentityLimit int
	Logger        *zap.Logger
}

// NewResolver creates a resolver from its configuration.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		adminToken:    strings.TrimSpace(cfg.AdminToken),
		quotas:        cfg.Quotas,
		credits:       cfg.Credits,
		globalLimit:   cfg.GlobalLimit,
		identityLimit: cfg.IdentityLimit,
		logger:        logger,
	}
}

// Resolve walks the privilege cascade for the identity within the given
// feature pool. A non-nil error is always an *apperrors.AppError carrying
// the rejection's status code; admitted free-tier requests have their
// counters incremented asynchronously before returning.
func (r *Resolver) Resolve(ctx context.Context, id Identity, feature string) (Decision, error) {
	// Admin wins outright and reads nothing from the store.
	if r.adminToken != "" && strings.TrimSpace(id.AdminToken) == r.adminToken {
		return Decision{Role: RoleAdmin}, nil
	}

	if id.CardKey != "" && r.credits != nil {
		return r.resolveCard(ctx, id.CardKey)
	}

	return r.resolveFree(ctx, id, feature)
}

func (r *Resolver) resolveCard(ctx context.Context, cardKey string) (Decision, error) {
	balance, err := r.credits.Balance(ctx, cardKey)
	switch {
	case errors.Is(err, ErrCardNotFound):
		return Decision{}, apperrors.InvalidCard(cardKey)
	case errors.Is(err, ErrBadBalance):
		return Decision{}, apperrors.CardExhausted(cardKey)
	case err != nil:
		return Decision{}, apperrors.Internal("credit lookup failed", err)
	}

	if balance <= 0 {
		return Decision{}, apperrors.CardExhausted(cardKey)
	}

	return Decision{Role: RoleVip, CardID: cardKey, Remaining: balance - 1}, nil
}

func (r *Resolver) resolveFree(ctx context.Context, id Identity, feature string) (Decision, error) {
	// No store bound: fail open. The caller logs the degraded mode.
	if r.quotas == nil {
		return Decision{Role: RoleFree}, nil
	}

	identityScope := IdentityScope(id.SourceAddr)

	// Global ceiling first, so "everyone is capped" is reported before
	// "you specifically are capped".
	if r.globalLimit > 0 {
		count, err := r.quotas.Count(ctx, feature, ScopeGlobal)
		if err != nil {
			// Degrade to admission rather than failing the request.
			r.logger.Warn("global quota read failed, admitting", zap.Error(err))
		} else if count >= r.globalLimit {
			return Decision{}, apperrors.GlobalQuotaExhausted()
		}
	}

	if r.identityLimit > 0 {
		count, err := r.quotas.Count(ctx, feature, identityScope)
		if err != nil {
			r.logger.Warn("identity quota read failed, admitting",
				zap.String("scope", identityScope), zap.Error(err))
		} else if count >= r.identityLimit {
			return Decision{}, apperrors.IdentityQuotaExhausted()
		}
	}

	// Quota is charged at admission, not at success: the increments go out
	// now, without delaying the response.
	r.quotas.IncrementAsync(feature, ScopeGlobal)
	r.quotas.IncrementAsync(feature, identityScope)

	return Decision{Role: RoleFree}, nil
}
