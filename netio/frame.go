package netio

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/rbc-go/rbc/crypto"
	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// wireFrame is the on-the-wire shape of a Wrapper: the sender id and
// MAC are plain fields, and the inner message travels as bytes already
// produced by wire.EncodeInner (so the MAC is computed over exactly
// what crosses the network, per spec.md §4.5).
type wireFrame struct {
	SenderID types.Replica
	MAC      crypto.MAC
	Inner    []byte
}

func encodeWrapperFrame(w wire.Wrapper, innerPayload []byte) ([]byte, error) {
	frame := wireFrame{
		SenderID: w.SenderID,
		MAC:      w.MAC,
		Inner:    innerPayload,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(frame); err != nil {
		return nil, errors.Wrap(err, "netio: encoding frame")
	}
	return buf.Bytes(), nil
}

func decodeWrapperFrame(data []byte) (wire.Wrapper, []byte, error) {
	var frame wireFrame
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&frame); err != nil {
		return wire.Wrapper{}, nil, errors.Wrap(err, "netio: decoding frame")
	}
	inner, err := wire.DecodeInner(frame.Inner)
	if err != nil {
		return wire.Wrapper{}, nil, err
	}
	return wire.Wrapper{
		Inner:    inner,
		SenderID: frame.SenderID,
		MAC:      frame.MAC,
	}, frame.Inner, nil
}
