package store

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates the db of a range.
// This is used to abstract the creation of the db from the store implementation.
// Persistent engines use the range id to pick their directory.
type DBFactory func(rangeID uint64) db.KVDB

// ApplyFunc is called for every record right after it was written to the db of a range.
// Calls happen in version order from the apply path, the function must not block.
type ApplyFunc func(rec db.Record)

// Reader reads the committed state of the local replica. It never blocks on consensus.
type Reader interface {
	// Get returns the record stored under key.
	Get(key []byte) (rec db.Record, ok bool, err error)
	// ScanPrefix returns up to limit records whose key starts with prefix (0 = no limit).
	ScanPrefix(prefix []byte, limit int) (recs []db.Record, err error)
}

// IStore is the interface of the replicated store of one range.
// All operations return a *Error on failure.
type IStore interface {
	// Put replicates a write and returns the applied record including its assigned version.
	// If the write could not be committed no version is consumed.
	Put(ctx context.Context, key, value []byte) (rec db.Record, err error)
	// Get returns the record for a key. The boolean return value indicates whether it exists.
	Get(key []byte) (rec db.Record, loaded bool, err error)
	// MultiGet returns the records of all existing keys in request order. Missing keys are skipped.
	MultiGet(keys [][]byte) (recs []db.Record, err error)
	// Scan returns up to limit records whose key starts with prefix (0 = no limit).
	Scan(prefix []byte, limit int) (recs []db.Record, err error)
	// Local returns a reader of the local replica, used by the watch registry.
	Local() Reader
	// Leader reports whether the local replica leads the range and the current term.
	Leader() (isLeader bool, term uint64)
	// Version returns the highest version applied to the range.
	Version() (version uint64, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
	// Close releases the resources of the store.
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// CodeOf extracts the RetCode of err. Errors that are not a *Error map to RetCInternalError,
// nil maps to RetCSuccess.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCRangeNotFound                       // 4: The range is not hosted by this node.
	RetCNotLeader                           // 5: This replica does not lead the range.
	RetCEpochStale                          // 6: The request epoch does not match, or the key is outside of the range.
	RetCMalformedKey                        // 7: The key could not be encoded or decoded.
	RetCProposalFailed                      // 8: The write was not committed.
	RetCTimeout                             // 9: The operation timed out.
	RetCCanceled                            // 10: The watch was canceled before anything matched.
)

// String returns the wire name of the code.
func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "success"
	case RetCInternalError:
		return "internal"
	case RetCUnsupportedOperation:
		return "unsupported_operation"
	case RetCInvalidOperation:
		return "invalid_operation"
	case RetCRangeNotFound:
		return "range_not_found"
	case RetCNotLeader:
		return "not_leader"
	case RetCEpochStale:
		return "epoch_stale"
	case RetCMalformedKey:
		return "malformed_key"
	case RetCProposalFailed:
		return "proposal_failed"
	case RetCTimeout:
		return "timeout"
	case RetCCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(c))
	}
}

// ParseRetCode is the inverse of RetCode.String. Unknown names map to RetCInternalError.
func ParseRetCode(s string) RetCode {
	for c := RetCSuccess; c <= RetCCanceled; c++ {
		if c.String() == s {
			return c
		}
	}
	return RetCInternalError
}
