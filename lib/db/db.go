package db

import (
	"bytes"
	"io"

	"github.com/ValentinKolb/dWatch/lib/keys"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMemTree Implementation = "memtree"
	ImplPebble  Implementation = "pebble"
	ImplBadger  Implementation = "badger"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeaturePut  Feature = 1 << iota // Support for Put operations
	FeatureGet                      // Support for Get operations
	FeatureScan                     // Support for ordered Scan operations
	FeatureSave                     // Support for Save operations
	FeatureLoad                     // Support for Load operations
)

func (f Feature) String() string {
	switch f {
	case FeaturePut:
		return "Put"
	case FeatureGet:
		return "Get"
	case FeatureScan:
		return "Scan"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// Record is a single versioned entry of a range.
// The version is the value of the range-wide counter at the time the record was applied.
type Record struct {
	Key     []byte `json:"key"`
	Value   []byte `json:"value"`
	Version uint64 `json:"version"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return Record{
		Key:     bytes.Clone(r.Key),
		Value:   bytes.Clone(r.Value),
		Version: r.Version,
	}
}

// ScanFunc is called for every record of a Scan in ascending key order.
// Returning false stops the scan.
type ScanFunc func(rec Record) (next bool)

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for ordered, versioned key-value database implementations.
// Keys are compared bytewise. Every entry carries the version it was written with.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put inserts or updates an entry with the given key, value and version.
	// A put whose version is not greater than the version of the stored entry is ignored.
	// The version of the database is advanced to at least the given version.
	Put(key, value []byte, version uint64)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the record for an exact key.
	// The boolean return value indicates whether a record for the key was found.
	// The returned record must not share memory with the database.
	Get(key []byte) (rec Record, loaded bool)

	// Scan calls fn for every record with start <= key < end in ascending key order.
	// A nil end means no upper bound. A limit of 0 means no limit.
	Scan(start, end []byte, limit int, fn ScanFunc)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load replaces the database state with the data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Returns true if the feature is supported, false otherwise.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Version Operations
	// --------------------------------------------------------------------------

	// SetVersion sets the current version of the database only if the provided version is greater than the current one.
	SetVersion(version uint64)

	// Version returns the highest version applied to the database.
	Version() (version uint64)

	// Close closes the database.
	Close() (err error)
}

// ScanPrefix is a helper that collects up to limit records whose key starts with prefix.
func ScanPrefix(database KVDB, prefix []byte, limit int) []Record {
	var out []Record
	database.Scan(prefix, keys.PrefixEnd(prefix), limit, func(rec Record) bool {
		out = append(out, rec)
		return true
	})
	return out
}
