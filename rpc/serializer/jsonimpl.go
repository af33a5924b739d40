package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dWatch/rpc/common"
	"github.com/cockroachdb/errors"
)

// NewJSONSerializer creates a new serializer using json encoding.
// Keys and values are base64 strings, the message type is its name (e.g. "watch").
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

func (j *jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(&msg)
	if err != nil {
		return nil, errors.Wrapf(err, "json: encode %s message", msg.MsgType)
	}
	return b, nil
}

func (j *jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if err := json.Unmarshal(b, msg); err != nil {
		return errors.Wrap(err, "json: decode message")
	}
	return nil
}
