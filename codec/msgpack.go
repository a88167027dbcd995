package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack is a Codec that serializes envelopes using vmihailenco/msgpack/v5.
// The zero value is ready to use.
type Msgpack struct{}

var _ Codec = Msgpack{}

func (Msgpack) Encode(e Envelope) ([]byte, error) {
	return msgpack.Marshal(&e)
}

func (Msgpack) Decode(b []byte) (Envelope, error) {
	var e Envelope
	err := msgpack.Unmarshal(b, &e)
	return e, err
}
