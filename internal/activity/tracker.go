// Package activity classifies what the device holder is doing from a
// stream of acceleration-including-gravity samples: moving, lying down,
// or upright.
package activity

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	Unknown      = "Unknown"
	Walking      = "Walking or riding"
	LyingDown    = "Lying down"
	Upright      = "Standing or Sitting"
	NotSupported = "Sensor not supported"

	tiltLimitDegrees = 60
)

// Sample is one accelerometer reading in m/s², gravity included.
// Axes the sensor did not report are zero.
type Sample struct {
	X, Y, Z float64
}

// Magnitude returns the length of the acceleration vector.
func (s Sample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Source delivers motion samples.
type Source interface {
	// MotionSupported reports whether the host exposes a motion sensor.
	MotionSupported(ctx context.Context) bool
	// DrainMotion returns the samples buffered since the last call.
	DrainMotion(ctx context.Context) ([]Sample, error)
}

// Config tunes the tracker.
type Config struct {
	HistoryLength    int
	WalkingThreshold float64
	Warmup           time.Duration
	PollInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryLength <= 0 {
		c.HistoryLength = 100
	}
	if c.WalkingThreshold <= 0 {
		c.WalkingThreshold = 2.0
	}
	if c.Warmup <= 0 {
		c.Warmup = 500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

// Tracker keeps a bounded magnitude history and the current activity.
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.RWMutex
	history     []float64
	current     string
	supported   bool
	initialized bool
}

// NewTracker creates a tracker. A nil logger is replaced with a no-op.
func NewTracker(cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Tracker{
		cfg:       cfg,
		logger:    logger,
		history:   make([]float64, 0, cfg.HistoryLength),
		current:   Unknown,
		supported: true,
	}
}

// Observe folds one sample into the history and reclassifies.
func (t *Tracker) Observe(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, s.Magnitude())
	if len(t.history) > t.cfg.HistoryLength {
		t.history = t.history[len(t.history)-t.cfg.HistoryLength:]
	}

	if Variance(t.history) > t.cfg.WalkingThreshold {
		t.current = Walking
		return
	}
	t.current = Posture(s)
}

// Current returns the latest classification, or NotSupported when the
// source has no motion sensor.
func (t *Tracker) Current() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.supported {
		return NotSupported
	}
	return t.current
}

// Initialized reports whether the warm-up has elapsed.
func (t *Tracker) Initialized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.initialized
}

// Start checks for sensor support, begins polling src in the background
// and waits for the warm-up. Polling stops when ctx is done; the returned
// channel is closed once the poller has exited.
func (t *Tracker) Start(ctx context.Context, src Source) (<-chan struct{}, error) {
	done := make(chan struct{})

	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		close(done)
		return done, nil
	}
	t.mu.Unlock()

	if !src.MotionSupported(ctx) {
		t.mu.Lock()
		t.supported = false
		t.initialized = true
		t.mu.Unlock()
		close(done)
		return done, nil
	}

	go func() {
		defer close(done)
		t.poll(ctx, src)
	}()

	select {
	case <-time.After(t.cfg.Warmup):
	case <-ctx.Done():
		return done, ctx.Err()
	}

	t.mu.Lock()
	t.initialized = true
	t.mu.Unlock()
	return done, nil
}

func (t *Tracker) poll(ctx context.Context, src Source) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples, err := src.DrainMotion(ctx)
			if err != nil {
				t.logger.Debug("drain motion samples", zap.Error(err))
				continue
			}
			for _, s := range samples {
				t.Observe(s)
			}
		}
	}
}

// Variance returns the population variance of xs.
func Variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return sq / float64(len(xs))
}

// Posture classifies a still device from its tilt.
func Posture(s Sample) string {
	pitch := math.Atan2(s.Y, math.Sqrt(s.X*s.X+s.Z*s.Z)) * (180 / math.Pi)
	roll := math.Atan2(s.X, math.Sqrt(s.Y*s.Y+s.Z*s.Z)) * (180 / math.Pi)
	if math.Abs(pitch) > tiltLimitDegrees || math.Abs(roll) > tiltLimitDegrees {
		return LyingDown
	}
	return Upright
}
