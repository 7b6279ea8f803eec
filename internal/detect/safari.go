package detect

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	safariTransientMessage   = "unknown transient reason"
	safariUnsupportedMessage = "are not yet supported"
	throwawayStoreName       = "t"
)

// safariProbe detects WebKit private browsing. Modern builds reject the
// origin-private directory; older mobile builds refuse blobs in indexed
// storage; the oldest ones throw from openDatabase.
type safariProbe struct {
	logger *zap.Logger
}

func (p *safariProbe) Probe(ctx context.Context, host Host, r Reporter) error {
	switch {
	case host.Has(ctx, FeatureStorageDirectory):
		if err := host.StorageDirectory(ctx); err != nil {
			r.Report(messageContains(err, safariTransientMessage))
			return nil
		}
		r.Report(false)
	case host.Has(ctx, FeatureTouchPoints):
		attempt := &throwawayDB{
			storage: host.KeyedStorage(),
			name:    uuid.NewString(),
			logger:  p.logger,
		}
		attempt.run(ctx, r)
	default:
		err := host.OpenLegacyDatabase(ctx)
		if err != nil && !thrown(err) {
			return fmt.Errorf("open legacy database: %w", err)
		}
		r.Report(err != nil)
	}
	return nil
}

type attemptState int

const (
	attemptOpening attemptState = iota
	attemptUpgrading
	attemptSettled
)

// throwawayDB is one randomly named database used to test blob support.
// Every path that leaves run passes through settle, which closes and
// deletes whatever was created.
type throwawayDB struct {
	storage KeyedStorage
	name    string
	logger  *zap.Logger

	state   attemptState
	created bool
	db      Database
}

func (a *throwawayDB) run(ctx context.Context, r Reporter) {
	defer a.settle(ctx)

	events, err := a.storage.Open(ctx, OpenOptions{
		Name:    a.name,
		Version: 1,
		Upgrade: putEmptyBlob,
	})
	if err != nil {
		r.Report(false)
		return
	}
	a.created = true

	select {
	case ev, ok := <-events:
		if !ok {
			return
		}
		switch ev.Type {
		case EventUpgraded:
			a.state = attemptUpgrading
			a.db = ev.DB
			if ev.Err != nil {
				r.Report(messageContains(ev.Err, safariUnsupportedMessage))
				return
			}
			r.Report(false)
		case EventError:
			r.Report(false)
		case EventSuccess:
			// No upgrade ran, so blob support was never exercised.
			a.db = ev.DB
		}
	case <-ctx.Done():
	}
}

func (a *throwawayDB) settle(ctx context.Context) {
	if a.state == attemptSettled {
		return
	}
	a.state = attemptSettled

	cleanupCtx := context.WithoutCancel(ctx)
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logLeak(a.logger, "close", a.name, err)
		}
		a.db = nil
	}
	if a.created {
		if err := a.storage.Delete(cleanupCtx, a.name); err != nil {
			logLeak(a.logger, "delete", a.name, err)
		}
	}
}

func putEmptyBlob(tx UpgradeTx) error {
	store, err := tx.CreateObjectStore(throwawayStoreName, true)
	if err != nil {
		return err
	}
	return store.PutBlob()
}
