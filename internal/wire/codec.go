package wire

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
)

// CodecName is registered with grpc through ForceCodec/ForceServerCodec.
const CodecName = "txwire"

// Codec lets grpc carry any Marshaler/Unmarshaler. Generated protobuf
// messages (health checks, reflection) fall through to proto.
type Codec struct{}

func (Codec) Name() string {
	return CodecName
}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case Marshaler:
		return m.MarshalWire()
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, errors.Errorf("wire: %T does not implement Marshaler", v)
	}
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case Unmarshaler:
		return m.UnmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return errors.Errorf("wire: %T does not implement Unmarshaler", v)
	}
}
