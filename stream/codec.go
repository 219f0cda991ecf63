package stream

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes events for the wire.
type Codec interface {
	// Encode serializes an event to bytes.
	Encode(evt *Event) ([]byte, error)

	// Decode deserializes bytes into an event.
	Decode(data []byte) (*Event, error)

	// Name returns the codec identifier.
	Name() string

	// Binary reports whether frames should be sent as binary messages.
	Binary() bool
}

// Codec names for format negotiation.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. An empty name selects JSON.
func GetCodec(name string) (Codec, error) {
	switch name {
	case CodecNameJSON, "":
		return JSONCodec{}, nil
	case CodecNameMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("stream: unknown codec %q", name)
	}
}

// JSONCodec encodes events as JSON text frames.
type JSONCodec struct{}

func (JSONCodec) Encode(evt *Event) ([]byte, error) { return json.Marshal(evt) }

func (JSONCodec) Decode(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

func (JSONCodec) Name() string { return CodecNameJSON }

func (JSONCodec) Binary() bool { return false }

// MsgpackCodec encodes events as MessagePack binary frames.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(evt *Event) ([]byte, error) { return msgpack.Marshal(evt) }

func (MsgpackCodec) Decode(data []byte) (*Event, error) {
	var evt Event
	if err := msgpack.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

func (MsgpackCodec) Name() string { return CodecNameMsgpack }

func (MsgpackCodec) Binary() bool { return true }
