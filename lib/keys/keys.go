package keys

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	tableIDLen = 8

	bytesMarker byte = 0x12
	escape      byte = 0x00
	escapedTerm byte = 0x01
	escaped00   byte = 0xff
)

// ErrMalformedKey is returned (wrapped) for every key that cannot be encoded or decoded.
var ErrMalformedKey = errors.New("malformed key")

// --------------------------------------------------------------------------
// Key Type
// --------------------------------------------------------------------------

// Key is the decoded form of an encoded key.
type Key struct {
	TableID uint64
	Parts   [][]byte
}

// First returns the first part of the key, or nil for an empty key.
func (k Key) First() []byte {
	if len(k.Parts) == 0 {
		return nil
	}
	return k.Parts[0]
}

// Join concatenates all parts without any separator.
// This is the user visible form of a grouped key.
func (k Key) Join() []byte {
	return bytes.Join(k.Parts, nil)
}

// Equal reports whether two keys have the same table id and parts.
func (k Key) Equal(o Key) bool {
	if k.TableID != o.TableID || len(k.Parts) != len(o.Parts) {
		return false
	}
	for i := range k.Parts {
		if !bytes.Equal(k.Parts[i], o.Parts[i]) {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode encodes the table id and parts into an order preserving byte string.
// If grouped is false only the first part is encoded.
// An empty part list is rejected with ErrMalformedKey.
func Encode(tableID uint64, parts [][]byte, grouped bool) ([]byte, error) {
	if len(parts) == 0 {
		return nil, errors.Wrap(ErrMalformedKey, "key has no parts")
	}
	if !grouped {
		parts = parts[:1]
	}

	size := tableIDLen
	for _, p := range parts {
		size += len(p) + 3 // marker and terminator
	}
	buf := make([]byte, tableIDLen, size)
	binary.BigEndian.PutUint64(buf, tableID)
	for _, p := range parts {
		buf = appendPart(buf, p)
	}
	return buf, nil
}

// MustEncode is like Encode but panics on error. Only use it with static input.
func MustEncode(tableID uint64, parts ...string) []byte {
	raw := make([][]byte, len(parts))
	for i, p := range parts {
		raw[i] = []byte(p)
	}
	enc, err := Encode(tableID, raw, true)
	if err != nil {
		panic(err)
	}
	return enc
}

// TablePrefix returns the prefix shared by all keys of a table.
func TablePrefix(tableID uint64) []byte {
	buf := make([]byte, tableIDLen)
	binary.BigEndian.PutUint64(buf, tableID)
	return buf
}

// appendPart appends one escaped and terminated part to buf.
func appendPart(buf []byte, part []byte) []byte {
	buf = append(buf, bytesMarker)
	for {
		i := bytes.IndexByte(part, escape)
		if i == -1 {
			break
		}
		buf = append(buf, part[:i]...)
		buf = append(buf, escape, escaped00)
		part = part[i+1:]
	}
	buf = append(buf, part...)
	return append(buf, escape, escapedTerm)
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Decode parses an encoded key. The returned grouped flag is true if the key
// carries more than one part.
func Decode(b []byte) (Key, bool, error) {
	if len(b) < tableIDLen {
		return Key{}, false, errors.Wrapf(ErrMalformedKey, "key too short (%d bytes)", len(b))
	}
	key := Key{TableID: binary.BigEndian.Uint64(b[:tableIDLen])}

	rest := b[tableIDLen:]
	for len(rest) > 0 {
		part, remaining, err := decodePart(rest)
		if err != nil {
			return Key{}, false, err
		}
		key.Parts = append(key.Parts, part)
		rest = remaining
	}
	if len(key.Parts) == 0 {
		return Key{}, false, errors.Wrap(ErrMalformedKey, "key has no parts")
	}
	return key, len(key.Parts) > 1, nil
}

// decodePart decodes a single part and returns the remaining bytes.
func decodePart(b []byte) ([]byte, []byte, error) {
	if b[0] != bytesMarker {
		return nil, nil, errors.Wrapf(ErrMalformedKey, "unexpected marker 0x%02x", b[0])
	}
	b = b[1:]
	var part []byte
	for {
		i := bytes.IndexByte(b, escape)
		if i == -1 || i+1 >= len(b) {
			return nil, nil, errors.Wrap(ErrMalformedKey, "unterminated part")
		}
		part = append(part, b[:i]...)
		switch b[i+1] {
		case escapedTerm:
			if part == nil {
				part = []byte{}
			}
			return part, b[i+2:], nil
		case escaped00:
			part = append(part, 0x00)
			b = b[i+2:]
		default:
			return nil, nil, errors.Wrapf(ErrMalformedKey, "invalid escape sequence 0x00 0x%02x", b[i+1])
		}
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// PrefixEnd returns the smallest byte string that is greater than every string
// with the given prefix. It returns nil if no such string exists (prefix is all 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// HasPrefix reports whether the encoded key lies under the encoded prefix.
func HasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}
