package detect

import (
	"context"
	"fmt"
	"math"
)

const (
	bytesPerMB = 1_048_576
	// defaultHeapLimit is used when performance.memory is unavailable.
	defaultHeapLimit int64 = 1_073_741_824
)

// chromiumProbe compares the temporary storage quota with the heap limit.
// Incognito contexts get an in-memory quota well below twice the heap.
type chromiumProbe struct{}

func (chromiumProbe) Probe(ctx context.Context, host Host, r Reporter) error {
	if !host.Has(ctx, FeaturePromiseAllSettled) {
		// Pre-2020 builds refuse the sandboxed filesystem in incognito.
		err := host.RequestFileSystem(ctx, 1)
		if err != nil && !thrown(err) {
			return fmt.Errorf("request filesystem: %w", err)
		}
		r.Report(err != nil)
		return nil
	}

	q, err := host.UsageAndQuota(ctx)
	if err != nil {
		r.Report(false)
		return nil
	}
	heap, ok := host.HeapSizeLimit(ctx)
	if !ok {
		heap = defaultHeapLimit
	}
	r.Report(QuotaLooksPrivate(q.Quota, heap))
	return nil
}

// QuotaLooksPrivate reports whether a temporary storage quota is below
// twice the heap limit, both rounded to whole megabytes.
func QuotaLooksPrivate(quota, heapLimit int64) bool {
	quotaMB := roundMB(quota)
	expected := 2 * roundMB(heapLimit)
	return quotaMB < expected
}

func roundMB(b int64) int64 {
	return int64(math.Floor(float64(b)/bytesPerMB + 0.5))
}
