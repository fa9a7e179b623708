package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/pkg/errors"
)

//nolint:gochecknoinits
func init() {
	gob.Register(BrachaInit{})
	gob.Register(BrachaEcho{})
	gob.Register(BrachaReady{})
	gob.Register(CTRBCInit{})
	gob.Register(CTRBCEcho{})
	gob.Register(CTRBCReady{})
}

// EncodeInner serializes just the inner message, deterministically
// enough to MAC: this is the byte string spec.md §4.5 says the MAC is
// computed over.
func EncodeInner(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&m); err != nil {
		return nil, errors.Wrap(err, "wire: encoding inner message")
	}
	return buf.Bytes(), nil
}

// DecodeInner deserializes a byte string produced by EncodeInner.
func DecodeInner(data []byte) (Message, error) {
	var m Message
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, errors.Wrap(err, "wire: decoding inner message")
	}
	return m, nil
}

// frameHeaderSize is the width of the length prefix every frame on the
// wire carries (spec.md §6: "serialization is length-prefixed").
const frameHeaderSize = 4

// WriteFrame writes a length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return errors.Wrap(err, "wire: writing frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "wire: writing frame payload")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "wire: reading frame payload")
	}
	return payload, nil
}
