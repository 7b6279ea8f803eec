// Package detecttest provides scriptable detect.Host fakes that simulate
// each browser engine without a real browser.
package detecttest

import (
	"context"
	"errors"
	"slices"
	"sync"

	"privasense/internal/detect"
)

// Host is a scriptable detect.Host. Zero values describe an engine with no
// features whose capability calls all succeed.
type Host struct {
	Signature     int
	Features      map[detect.Feature]bool
	DirectoryErr  error
	Quota         detect.Quota
	QuotaErr      error
	HeapLimit     int64
	HeapKnown     bool
	FileSystemErr error
	LegacyErr     error
	Storage       *KeyedStorage

	// Hang, when non-nil, blocks every asynchronous capability call until
	// it is closed or the call's context is done.
	Hang chan struct{}

	mu    sync.Mutex
	calls []string
}

var _ detect.Host = (*Host)(nil)

// NewHost returns a host with the given signature and features.
func NewHost(signature int, features ...detect.Feature) *Host {
	h := &Host{
		Signature: signature,
		Features:  make(map[detect.Feature]bool, len(features)),
		Storage:   &KeyedStorage{},
	}
	for _, f := range features {
		h.Features[f] = true
	}
	return h
}

// Calls returns the capability calls made so far, in order.
func (h *Host) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

func (h *Host) record(call string) {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	h.mu.Unlock()
}

func (h *Host) wait(ctx context.Context) error {
	if h.Hang == nil {
		return nil
	}
	select {
	case <-h.Hang:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) Has(_ context.Context, f detect.Feature) bool {
	return h.Features[f]
}

func (h *Host) ErrorSignature(context.Context) int {
	h.record("signature")
	return h.Signature
}

func (h *Host) StorageDirectory(ctx context.Context) error {
	h.record("directory")
	if err := h.wait(ctx); err != nil {
		return err
	}
	return h.DirectoryErr
}

func (h *Host) UsageAndQuota(ctx context.Context) (detect.Quota, error) {
	h.record("quota")
	if err := h.wait(ctx); err != nil {
		return detect.Quota{}, err
	}
	return h.Quota, h.QuotaErr
}

func (h *Host) HeapSizeLimit(context.Context) (int64, bool) {
	return h.HeapLimit, h.HeapKnown
}

func (h *Host) RequestFileSystem(ctx context.Context, size int64) error {
	h.record("filesystem")
	if err := h.wait(ctx); err != nil {
		return err
	}
	return h.FileSystemErr
}

func (h *Host) OpenLegacyDatabase(context.Context) error {
	h.record("opendatabase")
	return h.LegacyErr
}

func (h *Host) KeyedStorage() detect.KeyedStorage {
	if h.Storage == nil {
		h.Storage = &KeyedStorage{}
	}
	return h.Storage
}

// KeyedStorage is a scriptable detect.KeyedStorage.
type KeyedStorage struct {
	// OpenErr makes Open throw synchronously.
	OpenErr error
	// RequestErr fails the request with an error event.
	RequestErr error
	// CreateStoreErr and PutErr fail the corresponding upgrade steps.
	CreateStoreErr error
	PutErr         error
	// CloseErr and DeleteErr fail cleanup.
	CloseErr  error
	DeleteErr error
	// Hang, when non-nil, delays the request event until closed.
	Hang chan struct{}

	mu       sync.Mutex
	opened   []detect.OpenOptions
	deleted  []string
	dbs      []*Database
	uncaught []error
}

var _ detect.KeyedStorage = (*KeyedStorage)(nil)

func (k *KeyedStorage) Open(ctx context.Context, opts detect.OpenOptions) (<-chan detect.OpenEvent, error) {
	k.mu.Lock()
	k.opened = append(k.opened, opts)
	k.mu.Unlock()

	if k.OpenErr != nil {
		return nil, k.OpenErr
	}

	events := make(chan detect.OpenEvent, 1)
	go func() {
		defer close(events)
		if k.Hang != nil {
			select {
			case <-k.Hang:
			case <-ctx.Done():
				return
			}
		}
		events <- k.resolve(opts)
	}()
	return events, nil
}

func (k *KeyedStorage) resolve(opts detect.OpenOptions) detect.OpenEvent {
	if k.RequestErr != nil {
		name := ""
		var he *detect.HostError
		if errors.As(k.RequestErr, &he) {
			name = he.Name
		}
		suppressed := name != "" && slices.Contains(opts.SuppressErrors, name)
		if !suppressed {
			k.mu.Lock()
			k.uncaught = append(k.uncaught, k.RequestErr)
			k.mu.Unlock()
		}
		return detect.OpenEvent{Type: detect.EventError, Err: k.RequestErr, Suppressed: suppressed}
	}

	db := &Database{closeErr: k.CloseErr}
	k.mu.Lock()
	k.dbs = append(k.dbs, db)
	k.mu.Unlock()

	if opts.Upgrade != nil {
		err := opts.Upgrade(&upgradeTx{storage: k})
		return detect.OpenEvent{Type: detect.EventUpgraded, DB: db, Err: err}
	}
	return detect.OpenEvent{Type: detect.EventSuccess, DB: db}
}

func (k *KeyedStorage) Delete(_ context.Context, name string) error {
	k.mu.Lock()
	k.deleted = append(k.deleted, name)
	k.mu.Unlock()
	return k.DeleteErr
}

// Opened returns the options of every Open call.
func (k *KeyedStorage) Opened() []detect.OpenOptions {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.opened)
}

// Deleted returns the names passed to Delete.
func (k *KeyedStorage) Deleted() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.deleted)
}

// Uncaught returns request errors whose propagation was not suppressed.
func (k *KeyedStorage) Uncaught() []error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.uncaught)
}

// AllClosed reports whether every database handed out has been closed.
func (k *KeyedStorage) AllClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, db := range k.dbs {
		if !db.Closed() {
			return false
		}
	}
	return true
}

type upgradeTx struct {
	storage *KeyedStorage
}

func (tx *upgradeTx) CreateObjectStore(string, bool) (detect.ObjectStore, error) {
	if tx.storage.CreateStoreErr != nil {
		return nil, tx.storage.CreateStoreErr
	}
	return &objectStore{err: tx.storage.PutErr}, nil
}

type objectStore struct {
	err error
}

func (s *objectStore) PutBlob() error {
	return s.err
}

// Database is a fake connection that records Close.
type Database struct {
	mu       sync.Mutex
	closed   bool
	closeErr error
}

func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.closeErr
}

func (d *Database) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
