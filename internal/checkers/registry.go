// Package checkers implements the provider-specific stock checkers and the
// static registry the scheduler builds them from.
package checkers

import (
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/client"
	"github.com/JakeFAU/lurk/internal/lurk"
)

// Constructor builds a checker around a provider client. The checker binds
// the client's base URL.
type Constructor func(c *client.Client, logger *zap.Logger) lurk.Checker

// Registry maps provider names to constructors.
type Registry map[string]Constructor

// Default returns the registry of every provider built into lurk.
func Default() Registry {
	return Registry{
		BestBuyName: func(c *client.Client, logger *zap.Logger) lurk.Checker {
			return NewBestBuy(c, logger)
		},
		MemoryExpressName: func(c *client.Client, logger *zap.Logger) lurk.Checker {
			return NewMemoryExpress(c, logger)
		},
	}
}

// Names returns the registered provider names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named checker.
func (r Registry) New(name string, c *client.Client, logger *zap.Logger) (lurk.Checker, error) {
	ctor, ok := r[name]
	if !ok {
		return nil, lurk.Configf("checker does not exist: %s", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return ctor(c, logger.With(zap.String("checker", name))), nil
}
