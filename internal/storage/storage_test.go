package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

type stubEstimator struct {
	est Estimate
	err error
}

func (s stubEstimator) Estimate(context.Context) (Estimate, error) { return s.est, s.err }

func TestAdjust(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{0, 0},
		{0.49, 0},
		{0.5, 1},
		{19.99, 20},
		{20, 32},
		{29.99, 32},
		{30, 30},
		{49.5, 50},
		{50, 64},
		{69.9, 64},
		{100, 128},
		{130, 130},
		{250, 256},
		{279.99, 256},
		{280, 280},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, Adjust(tt.in))
		})
	}
}

func TestFormat(t *testing.T) {
	gb := int64(bytesPerGB)

	assert.Equal(t, "64 GB", Format(Estimate{Usage: 0, Quota: 30 * gb}))
	assert.Equal(t, "2 GB / 64 GB", Format(Estimate{Usage: gb, Quota: 30 * gb}))
	assert.Equal(t, "0 GB", Format(Estimate{}))
	// A few KiB of usage rounds away.
	assert.Equal(t, "128 GB", Format(Estimate{Usage: 4096, Quota: 60 * gb}))
}

func TestDescribe(t *testing.T) {
	gb := int64(bytesPerGB)

	t.Run("success", func(t *testing.T) {
		got := Describe(context.Background(), stubEstimator{est: Estimate{Quota: 13 * gb}}, nil)
		assert.Equal(t, "32 GB", got)
	})

	t.Run("unsupported is silent", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		got := Describe(context.Background(), stubEstimator{err: fmt.Errorf("probe: %w", ErrUnsupported)}, zap.New(core))
		assert.Equal(t, Unknown, got)
		assert.Zero(t, logs.Len())
	})

	t.Run("failure is logged", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		got := Describe(context.Background(), stubEstimator{err: errors.New("quota query rejected")}, zap.New(core))
		assert.Equal(t, Unknown, got)
		assert.Equal(t, 1, logs.FilterMessage("storage estimate failed").Len())
	})
}
