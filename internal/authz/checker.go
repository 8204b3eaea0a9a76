package authz

import (
	"context"
	"errors"
	"log/slog"

	"github.com/meridian-sms/meridian-sms/internal/identity"
)

// Checker is the non-rendering permission check surface: it loads the
// (identity, institution) snapshot and answers with a Decision. No
// error from an authorization check ever escapes to the caller; load
// failures deny, cancellation reports Pending so the result is
// discarded rather than acted on.
type Checker struct {
	loader *Loader
	logger *slog.Logger
}

// NewChecker wires the checker.
func NewChecker(loader *Loader, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{loader: loader, logger: logger}
}

// Evaluator loads a settled evaluator for the identity and tenant.
func (c *Checker) Evaluator(ctx context.Context, id identity.Identity, institutionID string) (Evaluator, error) {
	snap, err := c.loader.Load(ctx, id, institutionID)
	if err != nil {
		return Evaluator{}, err
	}
	return NewEvaluator(snap), nil
}

// Check answers an any-of check over the actions. A single-element
// slice is the plain Can check.
func (c *Checker) Check(ctx context.Context, id identity.Identity, institutionID string, domain Domain, actions ...Action) Decision {
	return c.decide(ctx, id, institutionID, func(e Evaluator) bool {
		return e.CanAny(domain, actions...)
	})
}

// CheckAll answers an all-of check over the actions.
func (c *Checker) CheckAll(ctx context.Context, id identity.Identity, institutionID string, domain Domain, actions ...Action) Decision {
	return c.decide(ctx, id, institutionID, func(e Evaluator) bool {
		return e.CanAll(domain, actions...)
	})
}

func (c *Checker) decide(ctx context.Context, id identity.Identity, institutionID string, predicate func(Evaluator) bool) Decision {
	eval, err := c.Evaluator(ctx, id, institutionID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Decision{Pending: true}
		}
		c.logger.Warn("permission check failed closed",
			slog.String("subject", id.UserID),
			slog.String("institution", institutionID),
			slog.Any("error", err))
		return Decision{}
	}
	return Decision{Granted: predicate(eval)}
}
