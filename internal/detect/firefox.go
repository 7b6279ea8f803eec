package detect

import (
	"context"

	"go.uber.org/zap"
)

const (
	firefoxSecurityMessage = "Security error"
	firefoxProbeDatabase   = "inPrivate"
	invalidStateError      = "InvalidStateError"
)

// firefoxProbe detects Gecko private windows, which reject the
// origin-private directory with a security error and, on older builds,
// fail to open indexed databases at all.
type firefoxProbe struct {
	logger *zap.Logger
}

func (p *firefoxProbe) Probe(ctx context.Context, host Host, r Reporter) error {
	if host.Has(ctx, FeatureStorageDirectory) {
		err := host.StorageDirectory(ctx)
		if err == nil {
			r.Report(false)
			return nil
		}
		if messageContains(err, firefoxSecurityMessage) {
			r.Report(true)
			return nil
		}
		// Inconclusive; the deadline decides.
		p.logger.Debug("directory probe inconclusive", zap.Error(err))
		return nil
	}

	storage := host.KeyedStorage()
	events, err := storage.Open(ctx, OpenOptions{
		Name:           firefoxProbeDatabase,
		SuppressErrors: []string{invalidStateError},
	})
	if err != nil {
		return err
	}

	select {
	case ev, ok := <-events:
		if !ok {
			return nil
		}
		switch ev.Type {
		case EventError:
			if errorName(ev.Err) == invalidStateError && !ev.Suppressed {
				p.logger.Warn("invalid state error was not suppressed", zap.Error(ev.Err))
			}
			r.Report(true)
		case EventSuccess, EventUpgraded:
			cleanupCtx := context.WithoutCancel(ctx)
			if ev.DB != nil {
				if err := ev.DB.Close(); err != nil {
					logLeak(p.logger, "close", firefoxProbeDatabase, err)
				}
			}
			if err := storage.Delete(cleanupCtx, firefoxProbeDatabase); err != nil {
				logLeak(p.logger, "delete", firefoxProbeDatabase, err)
			}
			r.Report(false)
		}
	case <-ctx.Done():
	}
	return nil
}
