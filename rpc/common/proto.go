package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Epoch is the range epoch presented by a request.
type Epoch struct {
	ConfVer uint64 `json:"conf_ver"`
	Version uint64 `json:"version"`
}

// KV is a single record of a response.
type KV struct {
	Key     []byte `json:"key"`
	Value   []byte `json:"value"`
	Version uint64 `json:"version"`
}

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
// The range a message is addressed to is the shard id of the transport frame.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request header
	Epoch   Epoch  `json:"epoch"`              // Used for: Put, Get, Watch
	TableID uint64 `json:"table_id,omitempty"` // Used for: Put, Get, Watch

	// General fields
	Keys    [][]byte `json:"keys,omitempty"`    // Key parts. Used for: Put, Get, Watch
	Value   []byte   `json:"value,omitempty"`   // Used for: Put
	Version uint64   `json:"version,omitempty"` // Put (request: advisory, response: assigned), Watch (response)
	Prefix  bool     `json:"prefix,omitempty"`  // Used for: Get, Watch
	Multi   bool     `json:"multi,omitempty"`   // Every key part is a key of its own. Used for: Get, Watch
	Limit   uint32   `json:"limit,omitempty"`   // Used for: Get (prefix mode)

	// Watch fields
	StartVersion uint64 `json:"start_version,omitempty"` // Used for: Watch
	LongPullMs   uint64 `json:"long_pull_ms,omitempty"`  // Used for: Watch
	WatchID      uint64 `json:"watch_id,omitempty"`      // Used for: Watch, Cancel

	// Response only fields
	KVs     []KV   `json:"kvs,omitempty"`      // Used for: Get, Watch responses
	Ok      bool   `json:"ok,omitempty"`       // Used for: Cancel responses
	Timeout bool   `json:"timeout,omitempty"`  // Used for: Watch responses
	Err     string `json:"err,omitempty"`      // Empty if no error, otherwise contains the error message
	ErrCode string `json:"err_code,omitempty"` // Name of the store.RetCode of the error
}

// SetError fills the error fields of a response (nothing for a nil error).
func (m *Message) SetError(err error) {
	if err == nil {
		return
	}
	m.Err = err.Error()
	m.ErrCode = store.CodeOf(err).String()
}

// Error converts the error fields of a response back into a *store.Error (nil if unset).
func (m *Message) Error() error {
	if m.Err == "" && m.ErrCode == "" {
		return nil
	}
	return store.NewError(store.ParseRetCode(m.ErrCode), m.Err)
}

// Records converts the KVs of a response into records.
func (m *Message) Records() []db.Record {
	if len(m.KVs) == 0 {
		return nil
	}
	out := make([]db.Record, len(m.KVs))
	for i, kv := range m.KVs {
		out[i] = db.Record{Key: kv.Key, Value: kv.Value, Version: kv.Version}
	}
	return out
}

// ToKVs converts records into response KVs.
func ToKVs(recs []db.Record) []KV {
	if len(recs) == 0 {
		return nil
	}
	out := make([]KV, len(recs))
	for i, rec := range recs {
		out[i] = KV{Key: rec.Key, Value: rec.Value, Version: rec.Version}
	}
	return out
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewPutRequest creates a new Put request
func NewPutRequest(epoch Epoch, tableID uint64, keys [][]byte, value []byte) *Message {
	return &Message{
		MsgType: MsgTKVPut,
		Epoch:   epoch,
		TableID: tableID,
		Keys:    keys,
		Value:   value,
	}
}

// NewPutResponse creates a new Put response
func NewPutResponse(version uint64, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVPut,
		Version: version,
	}
	msg.SetError(err)
	return msg
}

// NewGetRequest creates a new Get request
func NewGetRequest(epoch Epoch, tableID uint64, keys [][]byte, prefix, multi bool, limit uint32) *Message {
	return &Message{
		MsgType: MsgTKVGet,
		Epoch:   epoch,
		TableID: tableID,
		Keys:    keys,
		Prefix:  prefix,
		Multi:   multi,
		Limit:   limit,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(recs []db.Record, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVGet,
		KVs:     ToKVs(recs),
	}
	msg.SetError(err)
	return msg
}

// NewWatchRequest creates a new Watch request. A watchID of 0 lets the server choose the id.
func NewWatchRequest(epoch Epoch, tableID uint64, keys [][]byte, prefix, multi bool, startVersion, longPullMs, watchID uint64) *Message {
	return &Message{
		MsgType:      MsgTKVWatch,
		WatchID:      watchID,
		Epoch:        epoch,
		TableID:      tableID,
		Keys:         keys,
		Prefix:       prefix,
		Multi:        multi,
		StartVersion: startVersion,
		LongPullMs:   longPullMs,
	}
}

// NewWatchResponse creates a new Watch response
func NewWatchResponse(watchID uint64, recs []db.Record, version uint64, timeout bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVWatch,
		WatchID: watchID,
		KVs:     ToKVs(recs),
		Version: version,
		Timeout: timeout,
	}
	msg.SetError(err)
	return msg
}

// NewCancelRequest creates a new Cancel request
func NewCancelRequest(watchID uint64) *Message {
	return &Message{
		MsgType: MsgTKVCancel,
		WatchID: watchID,
	}
}

// NewCancelResponse creates a new Cancel response
func NewCancelResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVCancel,
		Ok:      ok,
	}
	msg.SetError(err)
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
		ErrCode: store.RetCInternalError.String(),
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTKVPut:
		return "put"
	case MsgTKVGet:
		return "get"
	case MsgTKVWatch:
		return "watch"
	case MsgTKVCancel:
		return "cancel"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "put":
		*t = MsgTKVPut
	case "get":
		*t = MsgTKVGet
	case "watch":
		*t = MsgTKVWatch
	case "cancel":
		*t = MsgTKVCancel
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Range operations

	MsgTKVPut    // Write a value, the response carries the assigned version
	MsgTKVGet    // Read a key, a key list or a prefix
	MsgTKVWatch  // Wait for the next change of a key, a key list or a prefix
	MsgTKVCancel // Drop a pending watch
)
