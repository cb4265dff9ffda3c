package handler

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// cborSubprotocol switches a session to binary CBOR frames.
const cborSubprotocol = "cbor"

// frameCodec encodes the frames of one session.
type frameCodec interface {
	name() string
	messageType() int
	encode(v any) ([]byte, error)
	decode(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) name() string                    { return "json" }
func (jsonCodec) messageType() int                { return websocket.TextMessage }
func (jsonCodec) encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (jsonCodec) decode(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	// RFC3339 keeps sub-second timestamps; the default unix mode truncates them.
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc, dec: dec}
}

var cborFrames = newCBORCodec()

func (cborCodec) name() string                      { return cborSubprotocol }
func (cborCodec) messageType() int                  { return websocket.BinaryMessage }
func (c cborCodec) encode(v any) ([]byte, error)    { return c.enc.Marshal(v) }
func (c cborCodec) decode(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

func codecFor(subprotocol string) frameCodec {
	if subprotocol == cborSubprotocol {
		return cborFrames
	}
	return jsonCodec{}
}
