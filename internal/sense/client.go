// Package sense is the PrivaSense facade. A Client bundles incognito
// detection, activity classification and the storage estimate behind the
// feature toggles from the config.
package sense

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"privasense/internal/activity"
	"privasense/internal/config"
	"privasense/internal/detect"
	"privasense/internal/logging"
	"privasense/internal/storage"
)

// Deps are the host capabilities a Client runs against. A browser page
// provides all three.
type Deps struct {
	Host      detect.Host
	Motion    activity.Source
	Estimator storage.Estimator
	Logs      *logging.Registry

	// DetectOptions are applied after the config-derived options.
	DetectOptions []detect.Option
}

// Info holds the results of every enabled feature. Disabled features are
// left empty.
type Info struct {
	Incognito string `json:"incognito,omitempty"`
	Activity  string `json:"activity,omitempty"`
	Storage   string `json:"storage,omitempty"`
}

// Client answers feature queries for one host.
type Client struct {
	features  config.FeaturesConfig
	detector  *detect.Detector
	tracker   *activity.Tracker
	motion    activity.Source
	estimator storage.Estimator
	logger    *zap.Logger

	mu         sync.Mutex
	stopPoller context.CancelFunc
	pollerDone <-chan struct{}
}

// New builds a client from cfg.
func New(cfg *config.Config, deps Deps) *Client {
	logs := deps.Logs
	if logs == nil {
		logs = logging.NewRegistry(nil, cfg.Logging)
	}

	opts := []detect.Option{
		detect.WithEnabled(cfg.Features.Incognito),
		detect.WithLabels(detect.Labels{
			Normal:  cfg.Incognito.NormalLabel,
			Private: cfg.Incognito.IncognitoLabel,
		}),
		detect.WithTimeout(cfg.GetIncognitoTimeout()),
		detect.WithLogger(logs.Get(logging.CategoryDetect)),
	}
	opts = append(opts, deps.DetectOptions...)

	return &Client{
		features: cfg.Features,
		detector: detect.New(deps.Host, opts...),
		tracker: activity.NewTracker(activity.Config{
			HistoryLength:    cfg.GetHistoryLength(),
			WalkingThreshold: cfg.GetWalkingThreshold(),
			Warmup:           cfg.GetActivityWarmup(),
			PollInterval:     cfg.GetActivityPollInterval(),
		}, logs.Get(logging.CategoryActivity)),
		motion:    deps.Motion,
		estimator: deps.Estimator,
		logger:    logs.Get(logging.CategoryStorage),
	}
}

func disabled(feature string) error {
	return fmt.Errorf("%s detection: %w", feature, detect.ErrFeatureDisabled)
}

// Start begins motion tracking and waits out the warm-up. It is a no-op
// when activity is disabled or tracking already started. Polling runs
// until Close.
func (c *Client) Start(ctx context.Context) error {
	if !c.features.Activity || c.motion == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollerDone != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done, err := c.tracker.Start(pollCtx, c.motion)
	if err != nil {
		cancel()
		<-done
		return fmt.Errorf("start activity tracking: %w", err)
	}
	c.stopPoller = cancel
	c.pollerDone = done
	return nil
}

// Close stops motion tracking.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopPoller == nil {
		return
	}
	c.stopPoller()
	<-c.pollerDone
	c.stopPoller = nil
}

// DetectIncognito returns the configured label for the host's mode.
func (c *Client) DetectIncognito(ctx context.Context) (string, error) {
	if !c.features.Incognito {
		return "", disabled("incognito")
	}
	return c.detector.DetectLabel(ctx)
}

// DetectIncognitoResult returns the full detection result.
func (c *Client) DetectIncognitoResult(ctx context.Context) (detect.Result, error) {
	if !c.features.Incognito {
		return detect.Result{}, disabled("incognito")
	}
	return c.detector.Detect(ctx)
}

// Activity returns the current activity, starting tracking on first use.
func (c *Client) Activity(ctx context.Context) (string, error) {
	if !c.features.Activity {
		return "", disabled("activity")
	}
	if c.motion == nil {
		return activity.NotSupported, nil
	}
	if err := c.Start(ctx); err != nil {
		return "", err
	}
	return c.tracker.Current(), nil
}

// Storage returns the formatted storage estimate.
func (c *Client) Storage(ctx context.Context) (string, error) {
	if !c.features.Storage {
		return "", disabled("storage")
	}
	if c.estimator == nil {
		return storage.Unknown, nil
	}
	return storage.Describe(ctx, c.estimator, c.logger), nil
}

// Info queries every enabled feature concurrently.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	g, gctx := errgroup.WithContext(ctx)

	if c.features.Incognito {
		g.Go(func() error {
			label, err := c.DetectIncognito(gctx)
			info.Incognito = label
			return err
		})
	}
	if c.features.Activity {
		g.Go(func() error {
			current, err := c.Activity(gctx)
			info.Activity = current
			return err
		})
	}
	if c.features.Storage {
		g.Go(func() error {
			desc, err := c.Storage(gctx)
			info.Storage = desc
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return Info{}, err
	}
	return info, nil
}
