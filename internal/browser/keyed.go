package browser

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"privasense/internal/detect"
)

// An upgrade callback cannot run inside the page's version-change
// transaction over the protocol. keyedStorage therefore runs the callback
// twice: once against a recorder to learn the steps, which the page then
// executes inside onupgradeneeded, and once more against the recorded
// per-step errors so the callback sees what actually happened.

const (
	opCreateObjectStore = "createObjectStore"
	opPutBlob           = "putBlob"
)

var errStepSkipped = errors.New("upgrade step was not executed")

type upgradeStep struct {
	Op            string `json:"op"`
	Store         string `json:"store"`
	AutoIncrement bool   `json:"autoIncrement"`
}

type keyedStorage struct {
	host *Host
}

type openResult struct {
	Type       string     `json:"type"`
	Steps      []*jsError `json:"steps"`
	Error      *jsError   `json:"error"`
	Suppressed bool       `json:"suppressed"`
}

func (s *keyedStorage) Open(ctx context.Context, opts detect.OpenOptions) (<-chan detect.OpenEvent, error) {
	steps := []upgradeStep{}
	if opts.Upgrade != nil {
		rec := &recordingTx{steps: []upgradeStep{}}
		if err := opts.Upgrade(rec); err != nil {
			return nil, fmt.Errorf("plan upgrade: %w", err)
		}
		steps = rec.steps
	}
	suppress := opts.SuppressErrors
	if suppress == nil {
		suppress = []string{}
	}

	var started struct {
		Handle string   `json:"handle"`
		Error  *jsError `json:"error"`
	}
	if err := s.host.call(ctx, scriptOpenRequest, &started,
		opts.Name, opts.Version, steps, suppress, opts.Upgrade != nil); err != nil {
		return nil, err
	}
	if started.Error != nil {
		return nil, started.Error.err()
	}

	events := make(chan detect.OpenEvent, 1)
	go func() {
		defer close(events)
		var res openResult
		if err := s.host.call(ctx, scriptAwaitRequest, &res, started.Handle); err != nil {
			// Without an outcome there is nothing to report; the caller's
			// deadline decides.
			s.host.logger.Debug("open request lost",
				zap.String("database", opts.Name), zap.Error(err))
			return
		}
		events <- s.replay(opts, started.Handle, res)
	}()
	return events, nil
}

func (s *keyedStorage) replay(opts detect.OpenOptions, handle string, res openResult) detect.OpenEvent {
	db := &pageDatabase{host: s.host, handle: handle}
	switch res.Type {
	case "upgraded":
		return detect.OpenEvent{
			Type: detect.EventUpgraded,
			DB:   db,
			Err:  opts.Upgrade(&replayTx{results: res.Steps}),
		}
	case "success":
		return detect.OpenEvent{Type: detect.EventSuccess, DB: db}
	default:
		err := res.Error.err()
		if err == nil {
			err = fmt.Errorf("open %s: unexpected outcome %q", opts.Name, res.Type)
		}
		return detect.OpenEvent{Type: detect.EventError, Err: err, Suppressed: res.Suppressed}
	}
}

func (s *keyedStorage) Delete(ctx context.Context, name string) error {
	return s.host.outcome(ctx, scriptDeleteDatabase, name)
}

// pageDatabase is a connection parked in the page registry.
type pageDatabase struct {
	host   *Host
	handle string
}

func (d *pageDatabase) Close() error {
	return d.host.call(context.Background(), scriptCloseDatabase, nil, d.handle)
}

type recordingTx struct {
	steps []upgradeStep
}

func (tx *recordingTx) CreateObjectStore(name string, autoIncrement bool) (detect.ObjectStore, error) {
	tx.steps = append(tx.steps, upgradeStep{Op: opCreateObjectStore, Store: name, AutoIncrement: autoIncrement})
	return &recordingStore{tx: tx, name: name}, nil
}

type recordingStore struct {
	tx   *recordingTx
	name string
}

func (s *recordingStore) PutBlob() error {
	s.tx.steps = append(s.tx.steps, upgradeStep{Op: opPutBlob, Store: s.name})
	return nil
}

// replayTx hands each step the error the page recorded for it.
type replayTx struct {
	results []*jsError
	next    int
}

func (tx *replayTx) step() error {
	if tx.next >= len(tx.results) {
		return errStepSkipped
	}
	res := tx.results[tx.next]
	tx.next++
	return res.err()
}

func (tx *replayTx) CreateObjectStore(string, bool) (detect.ObjectStore, error) {
	if err := tx.step(); err != nil {
		return nil, err
	}
	return replayStore{tx: tx}, nil
}

type replayStore struct {
	tx *replayTx
}

func (s replayStore) PutBlob() error {
	return s.tx.step()
}
