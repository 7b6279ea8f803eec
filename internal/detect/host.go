package detect

import (
	"context"
	"errors"
)

// Feature names an engine-specific global the probes branch on.
type Feature string

const (
	FeatureStorageDirectory  Feature = "storage_directory"   // navigator.storage.getDirectory
	FeatureTouchPoints       Feature = "touch_points"        // navigator.maxTouchPoints
	FeaturePromiseAllSettled Feature = "promise_all_settled" // Promise.allSettled
	FeatureLegacyBlobSave    Feature = "legacy_blob_save"    // navigator.msSaveBlob
	FeatureIndexedDB         Feature = "indexed_db"          // window.indexedDB
)

// Host is the browsing context the classifier and probes run against.
// A real implementation evaluates script in a browser page; tests inject
// fakes to simulate each engine.
type Host interface {
	// Has reports whether a feature global is present.
	Has(ctx context.Context, f Feature) bool

	// ErrorSignature returns the length of the message thrown by
	// parseInt("-1").toFixed(-1), or 0 when no error could be produced.
	ErrorSignature(ctx context.Context) int

	// StorageDirectory acquires the origin-private directory handle.
	StorageDirectory(ctx context.Context) error

	// UsageAndQuota queries temporary storage usage and quota in bytes.
	UsageAndQuota(ctx context.Context) (Quota, error)

	// HeapSizeLimit returns the JS heap size limit in bytes; ok is false
	// when heap introspection is unavailable.
	HeapSizeLimit(ctx context.Context) (limit int64, ok bool)

	// RequestFileSystem requests a temporary sandboxed filesystem of size
	// bytes. A *HostError means the page refused the request; ErrUnavailable
	// means the API is absent.
	RequestFileSystem(ctx context.Context, size int64) error

	// OpenLegacyDatabase opens a relational storage handle with null
	// arguments. A *HostError means the call threw.
	OpenLegacyDatabase(ctx context.Context) error

	// KeyedStorage returns the indexed database factory.
	KeyedStorage() KeyedStorage
}

// Quota is a usage/quota pair in bytes.
type Quota struct {
	Usage int64
	Quota int64
}

// ErrUnavailable is returned by a capability whose API the host lacks.
var ErrUnavailable = errors.New("api not available")

// HostError is a failure raised by the host, shaped like a DOMException.
type HostError struct {
	Name    string
	Message string
}

func (e *HostError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// thrown reports whether err was raised inside the host rather than by
// the transport that reaches it.
func thrown(err error) bool {
	var he *HostError
	return errors.As(err, &he)
}

// errorMessage returns the DOMException message when err carries one and
// the full error text otherwise.
func errorMessage(err error) string {
	var he *HostError
	if errors.As(err, &he) {
		return he.Message
	}
	return err.Error()
}

// errorName returns the DOMException name, if any.
func errorName(err error) string {
	var he *HostError
	if errors.As(err, &he) {
		return he.Name
	}
	return ""
}

// KeyedStorage is an indexed database factory.
type KeyedStorage interface {
	// Open starts opening a database. A non-nil error means the open call
	// itself threw. The returned channel delivers the first terminal
	// event of the request and is then closed.
	Open(ctx context.Context, opts OpenOptions) (<-chan OpenEvent, error)

	// Delete removes a database by name.
	Delete(ctx context.Context, name string) error
}

// OpenOptions describes a database open request.
type OpenOptions struct {
	Name string
	// Version 0 opens the current version.
	Version int
	// Upgrade runs inside the version-change window. When nil, upgrade
	// events are not surfaced and the request settles on success or error.
	Upgrade UpgradeFunc
	// SuppressErrors lists error names whose default propagation is
	// cancelled when the request fails.
	SuppressErrors []string
}

// UpgradeFunc performs schema work during a version change.
type UpgradeFunc func(tx UpgradeTx) error

// UpgradeTx is the version-change transaction handed to an UpgradeFunc.
type UpgradeTx interface {
	CreateObjectStore(name string, autoIncrement bool) (ObjectStore, error)
}

// ObjectStore is a record store inside a database.
type ObjectStore interface {
	// PutBlob writes an empty binary blob.
	PutBlob() error
}

// Database is an open database connection.
type Database interface {
	Close() error
}

// OpenEventType is the kind of terminal event an open request produced.
type OpenEventType int

const (
	EventUpgraded OpenEventType = iota + 1
	EventSuccess
	EventError
)

func (t OpenEventType) String() string {
	switch t {
	case EventUpgraded:
		return "upgraded"
	case EventSuccess:
		return "success"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// OpenEvent is the first terminal event of an open request.
type OpenEvent struct {
	Type OpenEventType
	// DB is set for EventUpgraded and EventSuccess.
	DB Database
	// Err is the UpgradeFunc result for EventUpgraded and the request
	// error for EventError.
	Err error
	// Suppressed reports whether the request error's default propagation
	// was cancelled.
	Suppressed bool
}
