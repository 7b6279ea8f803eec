package detect_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privasense/internal/detect"
	"privasense/internal/detect/detecttest"
)

func runProbe(t *testing.T, engine detect.Engine, host detect.Host) []bool {
	t.Helper()
	r := &recorder{}
	err := detect.DefaultStrategies(nil).For(engine).Probe(context.Background(), host, r)
	require.NoError(t, err)
	return r.Verdicts()
}

func TestSafari_StorageDirectory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"acquired", nil, false},
		{"transient failure", &detect.HostError{Name: "UnknownError", Message: "The operation failed for an unknown transient reason (e.g. out of memory)."}, true},
		{"plain error with marker", errors.New("unknown transient reason"), true},
		{"other failure", &detect.HostError{Name: "SecurityError", Message: "The operation is insecure."}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			host := detecttest.NewHost(44, detect.FeatureStorageDirectory, detect.FeatureTouchPoints)
			host.DirectoryErr = tc.err

			assert.Equal(t, []bool{tc.want}, runProbe(t, detect.EngineSafari, host))
			assert.Empty(t, host.Storage.Opened(), "directory path must not touch indexed storage")
		})
	}
}

func TestSafari_ThrowawayDatabase(t *testing.T) {
	unsupported := &detect.HostError{Name: "DataCloneError", Message: "BlobURLs are not yet supported."}

	tests := []struct {
		name    string
		storage *detecttest.KeyedStorage
		want    []bool
		deleted bool
	}{
		{"blob stored", &detecttest.KeyedStorage{}, []bool{false}, true},
		{"blob rejected", &detecttest.KeyedStorage{PutErr: unsupported}, []bool{true}, true},
		{"store creation rejected", &detecttest.KeyedStorage{CreateStoreErr: unsupported}, []bool{true}, true},
		{"other put failure", &detecttest.KeyedStorage{PutErr: errors.New("quota exceeded")}, []bool{false}, true},
		{"request error", &detecttest.KeyedStorage{RequestErr: &detect.HostError{Name: "UnknownError", Message: "boom"}}, []bool{false}, true},
		{"open throws", &detecttest.KeyedStorage{OpenErr: errors.New("indexedDB unavailable")}, []bool{false}, false},
		{"cleanup fails", &detecttest.KeyedStorage{CloseErr: errors.New("close"), DeleteErr: errors.New("delete")}, []bool{false}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			host := detecttest.NewHost(43, detect.FeatureTouchPoints)
			host.Storage = tc.storage

			assert.Equal(t, tc.want, runProbe(t, detect.EngineSafari, host))

			opened := tc.storage.Opened()
			require.Len(t, opened, 1)
			assert.Equal(t, 1, opened[0].Version)
			assert.NotEmpty(t, opened[0].Name)
			assert.NotNil(t, opened[0].Upgrade)
			assert.True(t, tc.storage.AllClosed(), "throwaway database left open")
			if tc.deleted {
				assert.Equal(t, []string{opened[0].Name}, tc.storage.Deleted())
			} else {
				assert.Empty(t, tc.storage.Deleted())
			}
		})
	}
}

func TestSafari_RandomDatabaseNames(t *testing.T) {
	host := detecttest.NewHost(44, detect.FeatureTouchPoints)
	runProbe(t, detect.EngineSafari, host)
	runProbe(t, detect.EngineSafari, host)

	opened := host.Storage.Opened()
	require.Len(t, opened, 2)
	assert.NotEqual(t, opened[0].Name, opened[1].Name)
}

func TestSafari_ThrowawayCleanedUpOnCancel(t *testing.T) {
	host := detecttest.NewHost(44, detect.FeatureTouchPoints)
	host.Storage.Hang = make(chan struct{})
	defer close(host.Storage.Hang)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := &recorder{}
	require.NoError(t, detect.DefaultStrategies(nil).For(detect.EngineSafari).Probe(ctx, host, r))
	assert.Empty(t, r.Verdicts())

	opened := host.Storage.Opened()
	require.Len(t, opened, 1)
	assert.Equal(t, []string{opened[0].Name}, host.Storage.Deleted())
}

func TestSafari_LegacyOpenDatabase(t *testing.T) {
	host := detecttest.NewHost(44)
	assert.Equal(t, []bool{false}, runProbe(t, detect.EngineSafari, host))

	host = detecttest.NewHost(44)
	host.LegacyErr = &detect.HostError{Name: "SecurityError", Message: "DOM Exception 18"}
	assert.Equal(t, []bool{true}, runProbe(t, detect.EngineSafari, host))
}

// Failures that never reached the page are not verdicts: the probe returns
// them so the detector fails open.
func TestProbe_TransportErrorsAreNotVerdicts(t *testing.T) {
	lost := errors.New("websocket: close 1006")

	chromium := detecttest.NewHost(51)
	chromium.FileSystemErr = lost
	safari := detecttest.NewHost(44)
	safari.LegacyErr = lost
	missing := detecttest.NewHost(51)
	missing.FileSystemErr = detect.ErrUnavailable

	tests := []struct {
		name   string
		engine detect.Engine
		host   *detecttest.Host
		want   error
	}{
		{"chromium filesystem", detect.EngineChromium, chromium, lost},
		{"safari openDatabase", detect.EngineSafari, safari, lost},
		{"chromium filesystem api missing", detect.EngineChromium, missing, detect.ErrUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &recorder{}
			err := detect.DefaultStrategies(nil).For(tc.engine).Probe(context.Background(), tc.host, r)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, r.Verdicts())
		})
	}
}

func TestChromium_Quota(t *testing.T) {
	const (
		mb = int64(1_048_576)
		gb = 1024 * mb
	)
	tests := []struct {
		name      string
		quota     int64
		heap      int64
		heapKnown bool
		want      bool
	}{
		{"tiny quota default heap", 2 * mb, 0, false, true},
		{"one gigabyte quota and heap", gb, gb, true, true},
		{"quota equals twice heap", 2 * gb, gb, true, false},
		{"disk backed quota", 120 * gb, 4 * gb, true, false},
		{"rounds half up", 2048*mb - mb/2, gb, true, false},
		{"rounds below half down", 2048*mb - mb/2 - 1, gb, true, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			host := detecttest.NewHost(51, detect.FeaturePromiseAllSettled)
			host.Quota = detect.Quota{Quota: tc.quota}
			host.HeapLimit = tc.heap
			host.HeapKnown = tc.heapKnown

			assert.Equal(t, []bool{tc.want}, runProbe(t, detect.EngineChromium, host))
		})
	}
}

func TestChromium_QuotaError(t *testing.T) {
	host := detecttest.NewHost(51, detect.FeaturePromiseAllSettled)
	host.QuotaErr = errors.New("query failed")
	assert.Equal(t, []bool{false}, runProbe(t, detect.EngineChromium, host))
}

func TestChromium_FileSystemFallback(t *testing.T) {
	host := detecttest.NewHost(51)
	assert.Equal(t, []bool{false}, runProbe(t, detect.EngineChromium, host))
	assert.Equal(t, []string{"filesystem"}, host.Calls())

	host = detecttest.NewHost(51)
	host.FileSystemErr = &detect.HostError{Name: "SecurityError", Message: "denied"}
	assert.Equal(t, []bool{true}, runProbe(t, detect.EngineChromium, host))
}

func TestQuotaLooksPrivate(t *testing.T) {
	assert.True(t, detect.QuotaLooksPrivate(2_097_152, 1_073_741_824))
	assert.False(t, detect.QuotaLooksPrivate(2_147_483_648, 1_073_741_824))
}

func TestFirefox_StorageDirectory(t *testing.T) {
	host := detecttest.NewHost(25, detect.FeatureStorageDirectory)
	assert.Equal(t, []bool{false}, runProbe(t, detect.EngineFirefox, host))

	host = detecttest.NewHost(25, detect.FeatureStorageDirectory)
	host.DirectoryErr = &detect.HostError{Name: "SecurityError", Message: "Security error when calling GetDirectory"}
	assert.Equal(t, []bool{true}, runProbe(t, detect.EngineFirefox, host))
}

func TestFirefox_StorageDirectoryInconclusive(t *testing.T) {
	host := detecttest.NewHost(25, detect.FeatureStorageDirectory)
	host.DirectoryErr = errors.New("NotAllowedError")

	assert.Empty(t, runProbe(t, detect.EngineFirefox, host), "inconclusive failure must not report")
}

func TestFirefox_InPrivateDatabase(t *testing.T) {
	host := detecttest.NewHost(25)

	assert.Equal(t, []bool{false}, runProbe(t, detect.EngineFirefox, host))
	opened := host.Storage.Opened()
	require.Len(t, opened, 1)
	assert.Equal(t, "inPrivate", opened[0].Name)
	assert.Zero(t, opened[0].Version)
	assert.Nil(t, opened[0].Upgrade)
	assert.Equal(t, []string{"inPrivate"}, host.Storage.Deleted())
	assert.True(t, host.Storage.AllClosed())
}

func TestFirefox_InvalidStateErrorSuppressed(t *testing.T) {
	host := detecttest.NewHost(25)
	host.Storage.RequestErr = &detect.HostError{Name: "InvalidStateError", Message: "A mutation operation was attempted on a database that did not allow mutations."}

	assert.Equal(t, []bool{true}, runProbe(t, detect.EngineFirefox, host))
	assert.Empty(t, host.Storage.Uncaught(), "InvalidStateError must not propagate")
	assert.Empty(t, host.Storage.Deleted())
}

func TestFirefox_OtherOpenErrorIsPrivate(t *testing.T) {
	host := detecttest.NewHost(25)
	host.Storage.RequestErr = &detect.HostError{Name: "UnknownError", Message: "boom"}

	assert.Equal(t, []bool{true}, runProbe(t, detect.EngineFirefox, host))
	assert.Len(t, host.Storage.Uncaught(), 1)
}

func TestFirefox_OpenThrowsIsProbeFailure(t *testing.T) {
	host := detecttest.NewHost(25)
	host.Storage.OpenErr = errors.New("indexedDB is null")

	r := &recorder{}
	err := detect.DefaultStrategies(nil).For(detect.EngineFirefox).Probe(context.Background(), host, r)
	require.Error(t, err)
	assert.Empty(t, r.Verdicts())
}

func TestLegacy(t *testing.T) {
	tests := []struct {
		name     string
		features []detect.Feature
		want     bool
	}{
		{"no blob save", []detect.Feature{detect.FeatureIndexedDB}, false},
		{"nothing at all", nil, false},
		{"blob save with indexed db", []detect.Feature{detect.FeatureLegacyBlobSave, detect.FeatureIndexedDB}, false},
		{"blob save without indexed db", []detect.Feature{detect.FeatureLegacyBlobSave}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			host := detecttest.NewHost(0, tc.features...)
			assert.Equal(t, []bool{tc.want}, runProbe(t, detect.EngineUnknown, host))
		})
	}
}

func TestStrategiesFor_FallsBackToUnknown(t *testing.T) {
	called := false
	s := detect.Strategies{
		detect.EngineUnknown: detect.StrategyFunc(func(context.Context, detect.Host, detect.Reporter) error {
			called = true
			return nil
		}),
	}
	require.NoError(t, s.For(detect.EngineChromium).Probe(context.Background(), nil, &recorder{}))
	assert.True(t, called)
}
