package detect_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privasense/internal/detect"
)

func TestArbiter_FirstReportWins(t *testing.T) {
	clock := &manualClock{}
	arb := detect.NewArbiter(time.Second, clock.Schedule)
	defer arb.Stop()

	arb.Report(true)
	arb.Report(false)
	arb.Fail()

	private, source := arb.Verdict()
	assert.True(t, private)
	assert.Equal(t, detect.SourceProbe, source)

	// The deadline firing after settlement changes nothing.
	clock.Fire()
	private, source = arb.Verdict()
	assert.True(t, private)
	assert.Equal(t, detect.SourceProbe, source)
}

func TestArbiter_RacingReporters(t *testing.T) {
	arb := detect.NewArbiter(time.Minute, nil)
	defer arb.Stop()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(private bool) {
			defer wg.Done()
			<-start
			arb.Report(private)
		}(i%2 == 0)
	}
	close(start)
	wg.Wait()

	first, source := arb.Verdict()
	require.Equal(t, detect.SourceProbe, source)

	// Further reports of either value are discarded.
	arb.Report(!first)
	again, _ := arb.Verdict()
	assert.Equal(t, first, again)
}

func TestArbiter_DeadlineSettlesNotPrivate(t *testing.T) {
	clock := &manualClock{}
	arb := detect.NewArbiter(detect.DefaultTimeout, clock.Schedule)
	require.Equal(t, []time.Duration{detect.DefaultTimeout}, clock.Waits())
	require.False(t, arb.Settled())

	clock.Fire()

	private, source, err := arb.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, private)
	assert.Equal(t, detect.SourceTimeout, source)

	arb.Report(true)
	private, _ = arb.Verdict()
	assert.False(t, private, "late probe report must be discarded")
}

func TestArbiter_FailIsNotPrivate(t *testing.T) {
	arb := detect.NewArbiter(time.Minute, nil)
	defer arb.Stop()

	arb.Fail()
	arb.Report(true)

	private, source := arb.Verdict()
	assert.False(t, private)
	assert.Equal(t, detect.SourceFailure, source)
}

func TestArbiter_PendingVerdict(t *testing.T) {
	clock := &manualClock{}
	arb := detect.NewArbiter(time.Second, clock.Schedule)
	defer arb.Stop()

	private, source := arb.Verdict()
	assert.False(t, private)
	assert.Equal(t, detect.SourcePending, source)

	select {
	case <-arb.Done():
		t.Fatal("arbiter settled without a signal")
	default:
	}
}

func TestArbiter_WaitHonoursContext(t *testing.T) {
	clock := &manualClock{}
	arb := detect.NewArbiter(time.Second, clock.Schedule)
	defer arb.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, source, err := arb.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, detect.SourcePending, source)
}

func TestArbiter_StopCancelsDeadline(t *testing.T) {
	clock := &manualClock{}
	arb := detect.NewArbiter(time.Second, clock.Schedule)
	arb.Report(true)
	arb.Stop()

	assert.Equal(t, 1, clock.Stopped())
}

func TestArbiter_RealTimerFires(t *testing.T) {
	arb := detect.NewArbiter(20*time.Millisecond, nil)

	select {
	case <-arb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("deadline did not fire")
	}
	_, source := arb.Verdict()
	assert.Equal(t, detect.SourceTimeout, source)
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "probe", detect.SourceProbe.String())
	assert.Equal(t, "timeout", detect.SourceTimeout.String())
	assert.Equal(t, "failure", detect.SourceFailure.String())
	assert.Equal(t, "pending", detect.SourcePending.String())
}
