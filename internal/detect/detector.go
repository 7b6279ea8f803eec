package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrFeatureDisabled is returned when incognito detection is turned off.
	ErrFeatureDisabled = errors.New("feature is not enabled")
	// ErrProbeTimeout marks a call settled by the deadline.
	ErrProbeTimeout = errors.New("no probe verdict before deadline")
	// ErrResourceLeak wraps failures to remove a throwaway database.
	ErrResourceLeak = errors.New("transient resource not cleaned up")
)

const (
	DefaultNormalLabel  = "✅"
	DefaultPrivateLabel = "❌"
)

// Labels are the strings a verdict is rendered as.
type Labels struct {
	Normal  string
	Private string
}

// For returns the label for a verdict, falling back to the default glyphs
// when a label is empty.
func (l Labels) For(private bool) string {
	if private {
		if l.Private == "" {
			return DefaultPrivateLabel
		}
		return l.Private
	}
	if l.Normal == "" {
		return DefaultNormalLabel
	}
	return l.Normal
}

// Result is the outcome of one detection call.
type Result struct {
	Private   bool
	Engine    Engine
	Signature int
	Source    Source
	Elapsed   time.Duration
}

// Detector runs one classify-probe-arbitrate cycle per call.
type Detector struct {
	host       Host
	enabled    bool
	labels     Labels
	timeout    time.Duration
	schedule   Scheduler
	strategies Strategies
	logger     *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithEnabled toggles the feature. A disabled detector returns
// ErrFeatureDisabled.
func WithEnabled(enabled bool) Option {
	return func(d *Detector) { d.enabled = enabled }
}

func WithLabels(l Labels) Option {
	return func(d *Detector) { d.labels = l }
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithScheduler(s Scheduler) Option {
	return func(d *Detector) { d.schedule = s }
}

// WithStrategies replaces the probe table. Missing buckets fall back to
// the unknown-engine probe of the supplied table.
func WithStrategies(s Strategies) Option {
	return func(d *Detector) { d.strategies = s }
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a detector for host. Detection is enabled by default.
func New(host Host, opts ...Option) *Detector {
	d := &Detector{
		host:     host,
		enabled:  true,
		timeout:  DefaultTimeout,
		schedule: AfterFunc,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.strategies == nil {
		d.strategies = DefaultStrategies(d.logger)
	}
	return d
}

// Detect classifies the host engine, runs its probe and returns the first
// of the probe verdict and the deadline. The deadline starts before
// classification, so classification is bounded by the same budget.
// The only errors are ErrFeatureDisabled and a done ctx.
func (d *Detector) Detect(ctx context.Context) (Result, error) {
	if !d.enabled {
		return Result{}, ErrFeatureDisabled
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	arb := NewArbiter(d.timeout, d.schedule)
	defer arb.Stop()

	classifyCtx, cancel := context.WithTimeout(ctx, d.timeout)
	signature := d.host.ErrorSignature(classifyCtx)
	cancel()
	engine := Classify(signature)

	if !arb.Settled() {
		go d.probe(ctx, engine, arb)
	}

	private, source, err := arb.Wait(ctx)
	res := Result{
		Private:   private,
		Engine:    engine,
		Signature: signature,
		Source:    source,
		Elapsed:   time.Since(start),
	}
	if err != nil {
		return res, fmt.Errorf("wait for verdict: %w", err)
	}

	fields := []zap.Field{
		zap.Stringer("engine", engine),
		zap.Int("signature", signature),
		zap.Bool("private", private),
		zap.Stringer("source", source),
		zap.Duration("elapsed", res.Elapsed),
	}
	if source == SourceTimeout {
		fields = append(fields, zap.Error(ErrProbeTimeout))
	}
	d.logger.Debug("incognito detection settled", fields...)
	return res, nil
}

// DetectLabel runs Detect and renders the verdict with the configured labels.
func (d *Detector) DetectLabel(ctx context.Context) (string, error) {
	res, err := d.Detect(ctx)
	if err != nil {
		return "", err
	}
	return d.labels.For(res.Private), nil
}

// probe runs the engine's strategy. Errors and panics settle the arbiter
// as not private.
func (d *Detector) probe(ctx context.Context, engine Engine, arb *Arbiter) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("probe panicked",
				zap.Stringer("engine", engine),
				zap.Any("panic", r))
			arb.Fail()
		}
	}()

	if err := d.strategies.For(engine).Probe(ctx, d.host, arb); err != nil {
		d.logger.Warn("probe failed",
			zap.Stringer("engine", engine),
			zap.Error(err))
		arb.Fail()
	}
}
