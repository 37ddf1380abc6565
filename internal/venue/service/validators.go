package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/venuegate/server/internal/clock"
	"github.com/venuegate/server/internal/httpx"
	"github.com/venuegate/server/internal/venue/store"
)

// Verdict is an external system's answer for one code.
type Verdict struct {
	Valid bool
	// Detail is provider specific, e.g. the Wakesys interface that matched.
	Detail string
}

// Validator asks one third-party system whether a code admits. A transport
// failure is returned as an error and treated by callers as a rejection.
type Validator interface {
	Name() string
	Validate(ctx context.Context, code string) (Verdict, error)
}

// ValidationPlan is the validator arrangement for one tenant. At most one
// of Exclusive and Fallback is set.
type ValidationPlan struct {
	Exclusive Validator
	Fallback  Validator
}

// ValidatorChain builds a tenant's ValidationPlan from its integrations.
type ValidatorChain struct {
	integrations store.IntegrationStore
	client       *httpx.Client
	clock        clock.Clock
	logger       *slog.Logger
}

func NewValidatorChain(is store.IntegrationStore, client *httpx.Client, clk clock.Clock, logger *slog.Logger) *ValidatorChain {
	if client == nil {
		client = httpx.New(10 * time.Second)
	}
	return &ValidatorChain{integrations: is, client: client, clock: clk, logger: logger}
}

// Plan picks the first exclusive integration (by id) if any; otherwise the
// first validator-capable integration becomes the single fallback.
func (c *ValidatorChain) Plan(ctx context.Context, loc *time.Location) (ValidationPlan, error) {
	ins, err := c.integrations.Integrations(ctx)
	if err != nil {
		return ValidationPlan{}, err
	}

	var fallback Validator
	for _, in := range ins {
		v, ok := c.validatorFor(in, loc)
		if !ok {
			continue
		}
		if in.Exclusive {
			return ValidationPlan{Exclusive: v}, nil
		}
		if fallback == nil {
			fallback = v
		}
	}
	return ValidationPlan{Fallback: fallback}, nil
}

// Check runs v and folds errors into a rejection.
func (c *ValidatorChain) Check(ctx context.Context, v Validator, code string) Verdict {
	verdict, err := v.Validate(ctx, code)
	if err != nil {
		c.logger.Warn("external validator failed",
			slog.String("provider", v.Name()),
			slog.Any("err", err),
		)
		return Verdict{}
	}
	return verdict
}

func (c *ValidatorChain) validatorFor(in store.Integration, loc *time.Location) (Validator, bool) {
	switch in.Provider {
	case store.ProviderWakesys:
		return NewWakesysValidator(in, c.client, c.clock, loc), true
	case store.ProviderBinarytec:
		v, ok := NewBinarytecValidator(in, c.client)
		if !ok {
			return nil, false
		}
		return v, true
	default:
		return nil, false
	}
}
