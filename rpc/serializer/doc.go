// Package serializer converts the messages of the dwatch RPC layer to bytes and back.
//
// All implementations satisfy IRPCSerializer and are interchangeable, but client and
// server must use the same one (there is no format negotiation).
//
// Implementations:
//
//   - Binary (NewBinarySerializer): a 3 byte header (message type + 16 presence flags)
//     followed by the present fields only. Boolean fields (prefix, multi, ok, timeout)
//     live in the flags and take no payload bytes. Keys, values and key-value lists are
//     length prefixed. Recommended for production.
//
//   - JSON (NewJSONSerializer): human-readable, message types as names, byte fields as
//     base64. Useful with the http transport and for debugging.
//
//   - GOB (NewGOBSerializer): Go's gob format. Each message carries its own type
//     information, which makes it the largest and slowest format.
//
// Watch responses are the largest messages of the system (a prefix watch may answer with
// many records at once), so the benchmarks cover empty, small and large key-value lists.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(common.NewGetRequest(epoch, tableID, keys, false, false, 0))
//	// ... send data ...
//	var resp common.Message
//	err = s.Deserialize(receivedData, &resp)
package serializer
