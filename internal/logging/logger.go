// Package logging builds the zap loggers used across PrivaSense from the
// logging section of the config. Each subsystem logs under its own
// category; categories switched off in the config get a no-op logger.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"privasense/internal/config"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // CLI startup, config loading
	CategoryDetect   Category = "detect"   // Incognito classification and probes
	CategoryBrowser  Category = "browser"  // go-rod launcher, pages, script evaluation
	CategoryActivity Category = "activity" // Motion sampling and classification
	CategoryStorage  Category = "storage"  // Storage estimates
)

// New builds the base logger. verbose forces debug level.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()

	switch strings.ToLower(cfg.Format) {
	case "", "console", "text":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "json":
		zc.Encoding = "json"
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Registry hands out category loggers derived from one base logger.
type Registry struct {
	base    *zap.Logger
	cfg     config.LoggingConfig
	mu      sync.RWMutex
	loggers map[Category]*zap.Logger
}

// NewRegistry wraps base. A nil base yields no-op loggers for every category.
func NewRegistry(base *zap.Logger, cfg config.LoggingConfig) *Registry {
	if base == nil {
		base = zap.NewNop()
	}
	return &Registry{
		base:    base,
		cfg:     cfg,
		loggers: make(map[Category]*zap.Logger),
	}
}

// Get returns (or creates) the logger for a category.
func (r *Registry) Get(category Category) *zap.Logger {
	if !r.cfg.IsCategoryEnabled(string(category)) {
		return zap.NewNop()
	}

	r.mu.RLock()
	if l, ok := r.loggers[category]; ok {
		r.mu.RUnlock()
		return l
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := r.loggers[category]; ok {
		return l
	}
	l := r.base.Named(string(category))
	r.loggers[category] = l
	return l
}

// Base returns the uncategorized logger.
func (r *Registry) Base() *zap.Logger {
	return r.base
}

// Sync flushes the base logger.
func (r *Registry) Sync() error {
	return r.base.Sync()
}
