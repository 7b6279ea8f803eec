package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"privasense/internal/activity"
	"privasense/internal/detect"
	"privasense/internal/storage"
)

// Evaluator runs a function expression in a page and returns its result
// as JSON.
type Evaluator interface {
	Eval(ctx context.Context, js string, args ...interface{}) ([]byte, error)
}

type pageEvaluator struct {
	page *rod.Page
}

func (e pageEvaluator) Eval(ctx context.Context, js string, args ...interface{}) ([]byte, error) {
	res, err := e.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("empty evaluation result")
	}
	return res.Value.MarshalJSON()
}

// Host runs detection, motion and storage queries inside one page.
type Host struct {
	eval    Evaluator
	timeout time.Duration
	logger  *zap.Logger
}

var (
	_ detect.Host       = (*Host)(nil)
	_ activity.Source   = (*Host)(nil)
	_ storage.Estimator = (*Host)(nil)
)

// NewHost binds a host to page. Every evaluation is bounded by timeout.
func NewHost(page *rod.Page, timeout time.Duration, logger *zap.Logger) *Host {
	return NewHostWithEvaluator(pageEvaluator{page: page}, timeout, logger)
}

// NewHostWithEvaluator builds a host over an arbitrary evaluator.
func NewHostWithEvaluator(ev Evaluator, timeout time.Duration, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Host{eval: ev, timeout: timeout, logger: logger}
}

// call evaluates js and decodes the result into out.
func (h *Host) call(ctx context.Context, js string, out interface{}, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	raw, err := h.eval.Eval(ctx, js, args...)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

type jsError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *jsError) err() error {
	if e == nil {
		return nil
	}
	return &detect.HostError{Name: e.Name, Message: e.Message}
}

type outcome struct {
	Error *jsError `json:"error"`
}

// outcome evaluates a script that reports failure as {error}.
func (h *Host) outcome(ctx context.Context, js string, args ...interface{}) error {
	var out outcome
	if err := h.call(ctx, js, &out, args...); err != nil {
		return err
	}
	return out.Error.err()
}

func (h *Host) Has(ctx context.Context, f detect.Feature) bool {
	var present bool
	if err := h.call(ctx, scriptHasFeature, &present, string(f)); err != nil {
		h.logger.Debug("feature check failed", zap.String("feature", string(f)), zap.Error(err))
		return false
	}
	return present
}

func (h *Host) ErrorSignature(ctx context.Context) int {
	var n int
	if err := h.call(ctx, scriptErrorSignature, &n); err != nil {
		h.logger.Debug("error signature failed", zap.Error(err))
		return 0
	}
	return n
}

func (h *Host) StorageDirectory(ctx context.Context) error {
	return h.outcome(ctx, scriptStorageDirectory)
}

func (h *Host) UsageAndQuota(ctx context.Context) (detect.Quota, error) {
	var out struct {
		Usage float64  `json:"usage"`
		Quota float64  `json:"quota"`
		Error *jsError `json:"error"`
	}
	if err := h.call(ctx, scriptUsageAndQuota, &out); err != nil {
		return detect.Quota{}, err
	}
	if out.Error != nil {
		return detect.Quota{}, out.Error.err()
	}
	return detect.Quota{Usage: int64(out.Usage), Quota: int64(out.Quota)}, nil
}

func (h *Host) HeapSizeLimit(ctx context.Context) (int64, bool) {
	var limit float64
	if err := h.call(ctx, scriptHeapSizeLimit, &limit); err != nil || limit <= 0 {
		return 0, false
	}
	return int64(limit), true
}

func (h *Host) RequestFileSystem(ctx context.Context, size int64) error {
	var out struct {
		Unsupported bool     `json:"unsupported"`
		Error       *jsError `json:"error"`
	}
	if err := h.call(ctx, scriptRequestFileSystem, &out, size); err != nil {
		return err
	}
	if out.Unsupported {
		return fmt.Errorf("webkitRequestFileSystem: %w", detect.ErrUnavailable)
	}
	return out.Error.err()
}

func (h *Host) OpenLegacyDatabase(ctx context.Context) error {
	return h.outcome(ctx, scriptOpenLegacyDatabase)
}

func (h *Host) KeyedStorage() detect.KeyedStorage {
	return &keyedStorage{host: h}
}

// Estimate implements storage.Estimator.
func (h *Host) Estimate(ctx context.Context) (storage.Estimate, error) {
	var out struct {
		Usage       float64  `json:"usage"`
		Quota       float64  `json:"quota"`
		Unsupported bool     `json:"unsupported"`
		Error       *jsError `json:"error"`
	}
	if err := h.call(ctx, scriptStorageEstimate, &out); err != nil {
		return storage.Estimate{}, err
	}
	switch {
	case out.Unsupported:
		return storage.Estimate{}, storage.ErrUnsupported
	case out.Error != nil:
		return storage.Estimate{}, out.Error.err()
	}
	return storage.Estimate{Usage: int64(out.Usage), Quota: int64(out.Quota)}, nil
}

// MotionSupported implements activity.Source. When the page has a motion
// sensor it also installs the listener that buffers samples.
func (h *Host) MotionSupported(ctx context.Context) bool {
	var ok bool
	if err := h.call(ctx, scriptMotionSupported, &ok); err != nil {
		h.logger.Debug("motion support check failed", zap.Error(err))
		return false
	}
	return ok
}

// DrainMotion implements activity.Source.
func (h *Host) DrainMotion(ctx context.Context) ([]activity.Sample, error) {
	var raw []struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	}
	if err := h.call(ctx, scriptDrainMotion, &raw); err != nil {
		return nil, err
	}
	samples := make([]activity.Sample, len(raw))
	for i, s := range raw {
		samples[i] = activity.Sample{X: s.X, Y: s.Y, Z: s.Z}
	}
	return samples, nil
}
