// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes and decodes message envelopes. The connection
// descriptor names the codec for a kernel; both sides must agree.
type Codec interface {
	// Name is the identifier recorded in connection descriptors.
	Name() string
	Marshal(Message) ([]byte, error)
	Unmarshal([]byte) (Message, error)
}

// The two supported codecs.
var (
	JSON Codec = jsonCodec{}
	CBOR Codec = cborCodec{}
)

// CodecByName resolves a codec named in a connection descriptor. The
// empty string selects JSON, the historical default.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("wire: unknown codec %q", name)
	}
}

// cborEncMode is configured with Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no indefinite-
// length items. The same logical message always produces identical
// bytes, which keeps signatures stable across encoders.
var cborEncMode cbor.EncMode

// cborDecMode accepts standard CBOR. Unknown envelope fields are
// ignored for forward compatibility.
var cborDecMode cbor.DecMode

func init() {
	var err error

	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{
		// MIME bundle and comm data values decode into any-typed
		// targets. CBOR's default map type for those is
		// map[interface{}]interface{}, which nothing downstream
		// (notebook serialization included) can work with. Protocol
		// maps always have string keys, so force map[string]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// The two envelope structs mirror each other field for field; they
// differ only in the raw-content type, which each codec library treats
// specially. Content is encoded first and embedded raw so the type-
// specific payload can be decoded after the type tag is known. The
// date travels as Unix milliseconds so both codecs produce the same
// logical envelope for the same message.
type jsonEnvelope struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Parent  string          `json:"parent,omitempty"`
	Date    int64           `json:"date"`
	Content json.RawMessage `json:"content"`
	Buffers [][]byte        `json:"buffers,omitempty"`
}

type cborEnvelope struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Parent  string          `json:"parent,omitempty"`
	Date    int64           `json:"date"`
	Content cbor.RawMessage `json:"content"`
	Buffers [][]byte        `json:"buffers,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(message Message) ([]byte, error) {
	if err := message.Validate(); err != nil {
		return nil, err
	}
	content, err := marshalContent(message.Content, json.Marshal)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding %s content: %w", message.Type(), err)
	}
	data, err := json.Marshal(jsonEnvelope{
		ID:      message.ID,
		Type:    message.Type(),
		Parent:  message.ParentID,
		Date:    message.Date.UnixMilli(),
		Content: content,
		Buffers: message.Buffers,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: encoding envelope: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("wire: decoding envelope: %w", err)
	}
	return assembleMessage(env.ID, env.Type, env.Parent, env.Date, env.Buffers, env.Content, func(v any) error {
		return json.Unmarshal(env.Content, v)
	})
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Marshal(message Message) ([]byte, error) {
	if err := message.Validate(); err != nil {
		return nil, err
	}
	content, err := marshalContent(message.Content, cborEncMode.Marshal)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding %s content: %w", message.Type(), err)
	}
	data, err := cborEncMode.Marshal(cborEnvelope{
		ID:      message.ID,
		Type:    message.Type(),
		Parent:  message.ParentID,
		Date:    message.Date.UnixMilli(),
		Content: content,
		Buffers: message.Buffers,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: encoding envelope: %w", err)
	}
	return data, nil
}

func (cborCodec) Unmarshal(data []byte) (Message, error) {
	var env cborEnvelope
	if err := cborDecMode.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("wire: decoding envelope: %w", err)
	}
	return assembleMessage(env.ID, env.Type, env.Parent, env.Date, env.Buffers, env.Content, func(v any) error {
		return cborDecMode.Unmarshal(env.Content, v)
	})
}

// marshalContent encodes a content value with the codec's raw
// marshal function. UnknownContent round-trips its raw bytes so a
// relay can forward messages it does not understand.
func marshalContent(content Content, marshal func(any) ([]byte, error)) ([]byte, error) {
	if unknown, ok := content.(UnknownContent); ok {
		return unknown.Raw, nil
	}
	return marshal(content)
}

// assembleMessage builds a Message from decoded envelope fields,
// dispatching content decoding on the declared type.
func assembleMessage(id string, messageType MessageType, parent string, dateMilli int64, buffers [][]byte, raw []byte, unmarshal func(any) error) (Message, error) {
	if id == "" {
		return Message{}, fmt.Errorf("wire: envelope has no ID")
	}
	if messageType == "" {
		return Message{}, fmt.Errorf("wire: envelope has no type")
	}
	content, err := decodeContent(messageType, unmarshal)
	if err != nil {
		return Message{}, fmt.Errorf("wire: decoding %s content: %w", messageType, err)
	}
	if content == nil {
		raw = append([]byte(nil), raw...)
		content = UnknownContent{Type: messageType, Raw: raw}
	}
	return Message{
		ID:       id,
		ParentID: parent,
		Date:     time.UnixMilli(dateMilli).UTC(),
		Content:  content,
		Buffers:  buffers,
	}, nil
}
