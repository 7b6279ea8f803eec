package sense

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"privasense/internal/activity"
	"privasense/internal/config"
	"privasense/internal/detect"
	"privasense/internal/detect/detecttest"
	"privasense/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const gb = 1024 * 1024 * 1024

type motionStub struct {
	supported bool
	mu        sync.Mutex
	pending   []activity.Sample
}

func (m *motionStub) MotionSupported(context.Context) bool { return m.supported }

func (m *motionStub) DrainMotion(context.Context) ([]activity.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out, nil
}

type estimatorStub struct {
	est storage.Estimate
	err error
}

func (e estimatorStub) Estimate(context.Context) (storage.Estimate, error) { return e.est, e.err }

// chromiumHost reports a temporary-storage quota far below twice the
// default heap limit, which reads as private.
func chromiumHost() *detecttest.Host {
	host := detecttest.NewHost(51, detect.FeaturePromiseAllSettled)
	host.Quota = detect.Quota{Quota: 100 * 1024 * 1024}
	return host
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Activity.Warmup = "10ms"
	cfg.Activity.PollInterval = "2ms"
	return cfg
}

func TestClient_Info(t *testing.T) {
	c := New(testConfig(), Deps{
		Host:      chromiumHost(),
		Motion:    &motionStub{supported: false},
		Estimator: estimatorStub{est: storage.Estimate{Usage: gb, Quota: 13 * gb}},
	})
	defer c.Close()

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Info{
		Incognito: "❌",
		Activity:  activity.NotSupported,
		Storage:   "2 GB / 32 GB",
	}, info)
}

func TestClient_InfoSkipsDisabledFeatures(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Incognito = false
	cfg.Features.Activity = false

	c := New(cfg, Deps{
		Host:      chromiumHost(),
		Estimator: estimatorStub{err: storage.ErrUnsupported},
	})

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Info{Storage: storage.Unknown}, info)
}

func TestClient_DisabledFeatures(t *testing.T) {
	cfg := testConfig()
	cfg.Features = config.FeaturesConfig{}
	c := New(cfg, Deps{Host: chromiumHost()})
	ctx := context.Background()

	_, err := c.DetectIncognito(ctx)
	assert.ErrorIs(t, err, detect.ErrFeatureDisabled)
	assert.Contains(t, err.Error(), "incognito")

	_, err = c.DetectIncognitoResult(ctx)
	assert.ErrorIs(t, err, detect.ErrFeatureDisabled)

	_, err = c.Activity(ctx)
	assert.ErrorIs(t, err, detect.ErrFeatureDisabled)
	assert.Contains(t, err.Error(), "activity")

	_, err = c.Storage(ctx)
	assert.ErrorIs(t, err, detect.ErrFeatureDisabled)
	assert.Contains(t, err.Error(), "storage")

	assert.NoError(t, c.Start(ctx))
}

func TestClient_CustomLabels(t *testing.T) {
	cfg := testConfig()
	cfg.Incognito.NormalLabel = "normal"
	cfg.Incognito.IncognitoLabel = "private"

	host := chromiumHost()
	host.Quota = detect.Quota{Quota: 10 * gb}
	c := New(cfg, Deps{Host: host})

	label, err := c.DetectIncognito(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "normal", label)
}

func TestClient_DetectIncognitoResult(t *testing.T) {
	c := New(testConfig(), Deps{Host: chromiumHost()})

	res, err := c.DetectIncognitoResult(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Private)
	assert.Equal(t, detect.EngineChromium, res.Engine)
	assert.Equal(t, detect.SourceProbe, res.Source)
}

func TestClient_ActivityTracksMotion(t *testing.T) {
	motion := &motionStub{supported: true, pending: []activity.Sample{{Z: 9.81}, {Z: 9.8}}}
	c := New(testConfig(), Deps{Host: chromiumHost(), Motion: motion})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	assert.Eventually(t, func() bool {
		current, err := c.Activity(ctx)
		return err == nil && current == activity.Upright
	}, time.Second, 5*time.Millisecond)
}

func TestClient_ActivityWithoutMotionSource(t *testing.T) {
	c := New(testConfig(), Deps{Host: chromiumHost()})

	current, err := c.Activity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, activity.NotSupported, current)
}

func TestClient_StartHonoursCancelledContext(t *testing.T) {
	c := New(testConfig(), Deps{Host: chromiumHost(), Motion: &motionStub{supported: true}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Start(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	c.Close()
}
