package internal

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name:     "Command with key and value",
			command:  Command{Type: CommandTPut, Key: []byte("testkey"), Value: []byte("testvalue")},
			expected: 1 + 4 + 7 + 9, // Type + KeyLen + Key + Value
		},
		{
			name:     "Command without value",
			command:  Command{Type: CommandTPut, Key: []byte("testkey")},
			expected: 1 + 4 + 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if size := tt.command.SizeBytes(); size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{"Standard put", Command{Type: CommandTPut, Key: []byte("testkey"), Value: []byte("testvalue")}},
		{"Binary key", Command{Type: CommandTPut, Key: []byte{0x00, 0x12, 0xff}, Value: []byte{0x00}}},
		{"Empty value", Command{Type: CommandTPut, Key: []byte("k")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Command
			if err := got.Deserialize(tt.command.Serialize()); err != nil {
				t.Fatalf("Deserialize failed: %v", err)
			}
			if got.Type != tt.command.Type || !bytes.Equal(got.Key, tt.command.Key) || !bytes.Equal(got.Value, tt.command.Value) {
				t.Errorf("Round trip mismatch: %+v != %+v", got, tt.command)
			}
		})
	}
}

// TestDeserializeErrors tests error handling for truncated input
func TestDeserializeErrors(t *testing.T) {
	tooLongKey := make([]byte, headerSize)
	binary.BigEndian.PutUint32(tooLongKey[1:], 10)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte{0, 0, 0}},
		{"key exceeds data", tooLongKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			if err := cmd.Deserialize(tt.data); err == nil {
				t.Errorf("Expected error for %x", tt.data)
			}
		})
	}
}

// TestDeserializeCopies makes sure the command does not alias the raft entry buffer
func TestDeserializeCopies(t *testing.T) {
	data := (&Command{Type: CommandTPut, Key: []byte("key"), Value: []byte("value")}).Serialize()

	var cmd Command
	if err := cmd.Deserialize(data); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	for i := range data {
		data[i] = 0
	}
	if string(cmd.Key) != "key" || string(cmd.Value) != "value" {
		t.Errorf("Command aliases the input buffer: %q %q", cmd.Key, cmd.Value)
	}
}

func TestPutResult(t *testing.T) {
	v, err := DecodePutResult(EncodePutResult(12345))
	if err != nil || v != 12345 {
		t.Errorf("Expected 12345, got %d (%v)", v, err)
	}
	if _, err := DecodePutResult([]byte("short")); err == nil {
		t.Errorf("Expected error for invalid payload")
	}
}
