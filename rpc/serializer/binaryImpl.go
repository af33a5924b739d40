package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dWatch/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present.
// The boolean fields are encoded by their flag alone.
const (
	hasEpoch        uint16 = 1 << 0
	hasTableID      uint16 = 1 << 1
	hasKeys         uint16 = 1 << 2
	hasValue        uint16 = 1 << 3
	hasVersion      uint16 = 1 << 4
	hasLimit        uint16 = 1 << 5
	hasStartVersion uint16 = 1 << 6
	hasLongPull     uint16 = 1 << 7
	hasWatchID      uint16 = 1 << 8
	hasKVs          uint16 = 1 << 9
	hasErr          uint16 = 1 << 10
	hasErrCode      uint16 = 1 << 11
	isPrefix        uint16 = 1 << 12
	isMulti         uint16 = 1 << 13
	isOk            uint16 = 1 << 14
	isTimeout       uint16 = 1 << 15
)

// headerSize is 1 byte MsgType + 2 bytes flags
const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	w := &binaryWriter{buf: make([]byte, b.sizeBytes(msg)), pos: headerSize}

	// Write message type
	w.buf[0] = byte(msg.MsgType)

	var flags uint16

	// Handle Epoch
	if msg.Epoch != (common.Epoch{}) {
		flags |= hasEpoch
		w.uint64(msg.Epoch.ConfVer)
		w.uint64(msg.Epoch.Version)
	}

	// Handle TableID
	if msg.TableID > 0 {
		flags |= hasTableID
		w.uint64(msg.TableID)
	}

	// Handle Keys (count followed by the length prefixed parts)
	if len(msg.Keys) > 0 {
		flags |= hasKeys
		w.uint32(uint32(len(msg.Keys)))
		for _, k := range msg.Keys {
			w.bytes(k)
		}
	}

	// Handle Value (an empty value is kept apart from a missing one)
	if msg.Value != nil {
		flags |= hasValue
		w.bytes(msg.Value)
	}

	// Handle Version
	if msg.Version > 0 {
		flags |= hasVersion
		w.uint64(msg.Version)
	}

	// Handle Limit
	if msg.Limit > 0 {
		flags |= hasLimit
		w.uint32(msg.Limit)
	}

	// Handle StartVersion
	if msg.StartVersion > 0 {
		flags |= hasStartVersion
		w.uint64(msg.StartVersion)
	}

	// Handle LongPullMs
	if msg.LongPullMs > 0 {
		flags |= hasLongPull
		w.uint64(msg.LongPullMs)
	}

	// Handle WatchID
	if msg.WatchID > 0 {
		flags |= hasWatchID
		w.uint64(msg.WatchID)
	}

	// Handle KVs (count followed by key, value and version of every record)
	if len(msg.KVs) > 0 {
		flags |= hasKVs
		w.uint32(uint32(len(msg.KVs)))
		for _, kv := range msg.KVs {
			w.bytes(kv.Key)
			w.bytes(kv.Value)
			w.uint64(kv.Version)
		}
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		w.bytes([]byte(msg.Err))
	}

	// Handle ErrCode
	if msg.ErrCode != "" {
		flags |= hasErrCode
		w.bytes([]byte(msg.ErrCode))
	}

	// Handle the boolean fields
	if msg.Prefix {
		flags |= isPrefix
	}
	if msg.Multi {
		flags |= isMulti
	}
	if msg.Ok {
		flags |= isOk
	}
	if msg.Timeout {
		flags |= isTimeout
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(w.buf[1:3], flags)

	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	// Reset the message, all absent fields are zero
	*msg = common.Message{MsgType: common.MessageType(data[0])}

	flags := binary.BigEndian.Uint16(data[1:3])
	r := &binaryReader{data: data, pos: headerSize}

	// Read Epoch if present
	if flags&hasEpoch != 0 {
		msg.Epoch.ConfVer = r.uint64("epoch conf version")
		msg.Epoch.Version = r.uint64("epoch version")
	}

	// Read TableID if present
	if flags&hasTableID != 0 {
		msg.TableID = r.uint64("table id")
	}

	// Read Keys if present
	if flags&hasKeys != 0 {
		n := r.count("keys")
		if r.err == nil {
			msg.Keys = make([][]byte, 0, n)
			for i := 0; i < n && r.err == nil; i++ {
				msg.Keys = append(msg.Keys, r.bytes("key"))
			}
		}
	}

	// Read Value if present
	if flags&hasValue != 0 {
		msg.Value = r.bytes("value")
	}

	// Read the numeric fields if present
	if flags&hasVersion != 0 {
		msg.Version = r.uint64("version")
	}
	if flags&hasLimit != 0 {
		msg.Limit = r.uint32("limit")
	}
	if flags&hasStartVersion != 0 {
		msg.StartVersion = r.uint64("start version")
	}
	if flags&hasLongPull != 0 {
		msg.LongPullMs = r.uint64("long pull")
	}
	if flags&hasWatchID != 0 {
		msg.WatchID = r.uint64("watch id")
	}

	// Read KVs if present
	if flags&hasKVs != 0 {
		n := r.count("kvs")
		if r.err == nil {
			msg.KVs = make([]common.KV, 0, n)
			for i := 0; i < n && r.err == nil; i++ {
				msg.KVs = append(msg.KVs, common.KV{
					Key:     r.bytes("kv key"),
					Value:   r.bytes("kv value"),
					Version: r.uint64("kv version"),
				})
			}
		}
	}

	// Read Err and ErrCode if present
	if flags&hasErr != 0 {
		msg.Err = string(r.bytes("error"))
	}
	if flags&hasErrCode != 0 {
		msg.ErrCode = string(r.bytes("error code"))
	}

	// Read the boolean fields
	msg.Prefix = flags&isPrefix != 0
	msg.Multi = flags&isMulti != 0
	msg.Ok = flags&isOk != 0
	msg.Timeout = flags&isTimeout != 0

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	// Add sizes for fields that require length encoding
	if msg.Epoch != (common.Epoch{}) {
		size += 16 // two uint64
	}
	if msg.TableID > 0 {
		size += 8
	}
	if len(msg.Keys) > 0 {
		size += 4 // 4 bytes for the count
		for _, k := range msg.Keys {
			size += 4 + len(k)
		}
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value) // 4 bytes for length + value bytes
	}
	if msg.Version > 0 {
		size += 8
	}
	if msg.Limit > 0 {
		size += 4
	}
	if msg.StartVersion > 0 {
		size += 8
	}
	if msg.LongPullMs > 0 {
		size += 8
	}
	if msg.WatchID > 0 {
		size += 8
	}
	if len(msg.KVs) > 0 {
		size += 4
		for _, kv := range msg.KVs {
			size += 4 + len(kv.Key) + 4 + len(kv.Value) + 8
		}
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.ErrCode != "" {
		size += 4 + len(msg.ErrCode)
	}

	return size
}

// binaryWriter writes into a buffer sized by sizeBytes
type binaryWriter struct {
	buf []byte
	pos int
}

func (w *binaryWriter) uint32(v uint32) {
	binary.BigEndian.PutUint32(w.buf[w.pos:w.pos+4], v)
	w.pos += 4
}

func (w *binaryWriter) uint64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[w.pos:w.pos+8], v)
	w.pos += 8
}

// bytes writes the length followed by the data
func (w *binaryWriter) bytes(v []byte) {
	w.uint32(uint32(len(v)))
	w.pos += copy(w.buf[w.pos:], v)
}

// binaryReader reads fields until the first error, later reads return zero values
type binaryReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binaryReader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *binaryReader) uint32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *binaryReader) uint64(field string) uint64 {
	if !r.need(8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v
}

// count reads an element count and rejects counts the remaining data cannot hold
func (r *binaryReader) count(field string) int {
	n := int(r.uint32(field + " count"))
	if r.err == nil && n*4 > len(r.data)-r.pos {
		r.err = fmt.Errorf("data too short for %d %s", n, field)
		return 0
	}
	return n
}

// bytes reads a length prefixed field into a fresh slice
func (r *binaryReader) bytes(field string) []byte {
	n := int(r.uint32(field + " length"))
	if !r.need(n, field+" data") {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.data[r.pos:r.pos+n])
	r.pos += n
	return v
}
