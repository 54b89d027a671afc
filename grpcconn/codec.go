package grpcconn

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// DynamicCodec serializes/deserializes gRPC messages via a descriptor pool
// and JSON text on the host-facing side, per spec.md Â§4.H ("DynamicCodec
// ... via JSON text on the host-facing side"). It does not implement
// encoding.Codec: the wire-format marshal/unmarshal between this process
// and the remote service is handled by grpc-go's default "proto" codec,
// which already accepts any protoreflect-backed proto.Message including
// dynamicpb.Message. DynamicCodec's job is purely the JSON boundary.
type DynamicCodec struct{}

// Encode builds a dynamicpb.Message of the given descriptor from JSON text
// sent by the host.
func (DynamicCodec) Encode(desc protoreflect.MessageDescriptor, jsonText string) (proto.Message, error) {
	msg := dynamicpb.NewMessage(desc)
	if jsonText == "" {
		return msg, nil
	}
	if err := protojson.Unmarshal([]byte(jsonText), msg); err != nil {
		return nil, fmt.Errorf("grpcconn: decode json into %s: %w", desc.FullName(), err)
	}
	return msg, nil
}

// Decode renders a received proto.Message as JSON text for the host-facing
// event log.
func (DynamicCodec) Decode(msg proto.Message) (json.RawMessage, error) {
	b, err := protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("grpcconn: encode %T as json: %w", msg, err)
	}
	return json.RawMessage(b), nil
}
