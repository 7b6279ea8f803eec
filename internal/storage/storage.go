// Package storage turns the origin's storage estimate into a rough,
// human-readable device capacity string such as "3 GB / 64 GB".
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Unknown is reported whenever no estimate is available.
const Unknown = "Unknown"

const bytesPerGB = 1024 * 1024 * 1024

// ErrUnsupported is returned by an Estimator whose host lacks a storage
// estimate API.
var ErrUnsupported = errors.New("storage estimate not supported")

// Estimate is the origin's usage and quota in bytes.
type Estimate struct {
	Usage int64
	Quota int64
}

// Estimator queries the host for a storage estimate.
type Estimator interface {
	Estimate(ctx context.Context) (Estimate, error)
}

// Adjust snaps a doubled GB figure to the nearest common device size
// when it falls in one of the known bands, and rounds it otherwise.
func Adjust(gb float64) int64 {
	switch {
	case gb >= 20 && gb < 30:
		return 32
	case gb >= 50 && gb < 70:
		return 64
	case gb >= 100 && gb < 130:
		return 128
	case gb >= 250 && gb < 280:
		return 256
	}
	return int64(math.Floor(gb + 0.5))
}

// toGB converts bytes to GB rounded to two decimals.
func toGB(bytes int64) float64 {
	return math.Floor(float64(bytes)/bytesPerGB*100+0.5) / 100
}

// Format renders an estimate. Usage is omitted when it adjusts to zero.
func Format(e Estimate) string {
	used := Adjust(toGB(e.Usage) * 2)
	total := Adjust(toGB(e.Quota) * 2)
	if used > 0 {
		return fmt.Sprintf("%d GB / %d GB", used, total)
	}
	return fmt.Sprintf("%d GB", total)
}

// Describe queries est and formats the result, falling back to Unknown
// on any failure.
func Describe(ctx context.Context, est Estimator, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	e, err := est.Estimate(ctx)
	if err != nil {
		if !errors.Is(err, ErrUnsupported) {
			logger.Warn("storage estimate failed", zap.Error(err))
		}
		return Unknown
	}
	return Format(e)
}
