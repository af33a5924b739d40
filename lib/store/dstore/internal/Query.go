package internal

import "github.com/ValentinKolb/dWatch/lib/db"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet        QueryType = iota // Retrieve a record by key.
	QueryTMultiGet                    // Retrieve the existing records of a key list.
	QueryTScanPrefix                  // Retrieve records below a key prefix.
	QueryTVersion                     // Retrieve the current version of the range.
	QueryTGetDBInfo                   // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTMultiGet:
		return "MultiGet"
	case QueryTScanPrefix:
		return "ScanPrefix"
	case QueryTVersion:
		return "Version"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type  QueryType // The type of Query to perform.
	Key   []byte    // The key or prefix of the Query (empty for some queries).
	Keys  [][]byte  // The keys of a QueryTMultiGet.
	Limit int       // Maximum number of records of a QueryTScanPrefix (0 = unlimited).
}

// QueryResult is the result of a QueryTGet operation.
// Other queries return []db.Record, uint64 or db.DatabaseInfo.
type QueryResult struct {
	Ok     bool
	Record db.Record
}
