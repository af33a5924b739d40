package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dWatch/lib/db"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTPut CommandType = iota // Insert or update an entry with the next version of the range.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTPut:
		return "Put"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType to the corresponding db.Feature.
// This can be used for checking if the database supports a certain operation.
func (ct CommandType) ToDBFeature() (db.Feature, error) {
	switch ct {
	case CommandTPut:
		return db.FeaturePut, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

// headerSize is 1 byte type + 4 bytes key length
const headerSize = 1 + 4

// Command represents a command to be executed by the state machine (a single entry in the raft log).
// The version of a put is not part of the command, it is assigned when the entry is applied.
type Command struct {
	Type  CommandType
	Key   []byte
	Value []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 4 bytes for key length (big endian),
// N bytes for key data,
// N bytes for value data (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint32(result[1:headerSize], uint32(len(command.Key)))
	copy(result[headerSize:], command.Key)
	copy(result[headerSize+len(command.Key):], command.Value)

	return result
}

// Deserialize extracts all Command fields from a byte array.
// Key and Value are copied, data may be reused by the caller.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	keyLen := binary.BigEndian.Uint32(data[1:headerSize])

	if len(data) < headerSize+int(keyLen) {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}

	command.Key = append(command.Key[:0], data[headerSize:headerSize+int(keyLen)]...)

	rest := data[headerSize+int(keyLen):]
	if len(rest) == 0 {
		command.Value = nil
		return nil
	}
	// Reuse existing buffer if possible to reduce allocations
	command.Value = append(command.Value[:0], rest...)
	return nil
}

// EncodePutResult encodes the payload of a successful put (sm.Result.Data): the assigned version.
func EncodePutResult(version uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, version)
	return out
}

// DecodePutResult reads the version written by EncodePutResult.
func DecodePutResult(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid put result of %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
