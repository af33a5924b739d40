package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dWatch/rpc/common"
	"github.com/cockroachdb/errors"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Every message is a self-contained gob stream (type information included),
// since requests of one connection may be decoded by different workers.
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

type gobSerializerImpl struct{}

func (g *gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&msg); err != nil {
		return nil, errors.Wrapf(err, "gob: encode %s message", msg.MsgType)
	}
	return buf.Bytes(), nil
}

func (g *gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(msg); err != nil {
		return errors.Wrap(err, "gob: decode message")
	}
	return nil
}
