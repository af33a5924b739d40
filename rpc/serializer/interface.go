package serializer

import "github.com/ValentinKolb/dWatch/rpc/common"

// IRPCSerializer converts messages to and from the payload of a transport frame.
// Implementations are stateless and safe for concurrent use.
type IRPCSerializer interface {
	// Serialize encodes a message
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. On error msg may be partially filled.
	Deserialize(b []byte, msg *common.Message) error
}
