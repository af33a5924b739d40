// Package layout defines the physical key and value layout shared by the persistent engines.
package layout

import (
	"encoding/binary"

	"github.com/ValentinKolb/dWatch/lib/keys"
)

// --------------------------------------------------------------------------
// Physical Layout
// --------------------------------------------------------------------------

// Records live under the data prefix, the database version under a single meta key.
// Values are stored as [8 byte big-endian version][value].
var (
	DataPrefix = []byte{'d'}
	DataEnd    = keys.PrefixEnd(DataPrefix)
	VersionKey = []byte("m/version")
)

func DataKey(key []byte) []byte {
	out := make([]byte, 0, len(DataPrefix)+len(key))
	out = append(out, DataPrefix...)
	return append(out, key...)
}

// DataBound maps a user key bound to a physical bound. A nil end maps to the end of the data prefix.
func DataBound(key []byte, isEnd bool) []byte {
	if key == nil && isEnd {
		return DataEnd
	}
	return DataKey(key)
}

func EncodeValue(value []byte, version uint64) []byte {
	out := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(out, version)
	copy(out[8:], value)
	return out
}

// DecodeValue splits a stored value. The returned value aliases raw.
func DecodeValue(raw []byte) ([]byte, uint64, bool) {
	if len(raw) < 8 {
		return nil, 0, false
	}
	return raw[8:], binary.BigEndian.Uint64(raw[:8]), true
}

func EncodeVersion(version uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, version)
	return out
}

func DecodeVersion(raw []byte) uint64 {
	if len(raw) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw[:8])
}
