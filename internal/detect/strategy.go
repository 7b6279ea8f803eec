package detect

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Strategy is an engine-specific private-mode probe. It reports at most one
// verdict through r. Returning without reporting leaves the decision to
// the deadline; a returned error is treated as a failed probe.
type Strategy interface {
	Probe(ctx context.Context, host Host, r Reporter) error
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, host Host, r Reporter) error

func (f StrategyFunc) Probe(ctx context.Context, host Host, r Reporter) error {
	return f(ctx, host, r)
}

// Strategies maps each engine bucket to its probe.
type Strategies map[Engine]Strategy

// DefaultStrategies returns the built-in probe for every engine bucket.
func DefaultStrategies(logger *zap.Logger) Strategies {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Strategies{
		EngineSafari:   &safariProbe{logger: logger},
		EngineChromium: chromiumProbe{},
		EngineFirefox:  &firefoxProbe{logger: logger},
		EngineUnknown:  legacyProbe{},
	}
}

func (s Strategies) For(e Engine) Strategy {
	if st, ok := s[e]; ok && st != nil {
		return st
	}
	return s[EngineUnknown]
}

func messageContains(err error, substr string) bool {
	return strings.Contains(errorMessage(err), substr)
}

func logLeak(logger *zap.Logger, op, name string, err error) {
	logger.Warn("transient resource cleanup failed",
		zap.String("op", op),
		zap.String("database", name),
		zap.Error(fmt.Errorf("%w: %v", ErrResourceLeak, err)))
}
