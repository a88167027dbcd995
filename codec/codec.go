// Package codec encodes the envelope that key-value providers store in place
// of a raw value, so metadata survives in backends that only keep bytes.
package codec

import (
	"time"
)

// Envelope is the stored form of a value in envelope-based providers.
type Envelope struct {
	Data    []byte    `msgpack:"d" cbor:"1,keyasint"`
	ModTime time.Time `msgpack:"t" cbor:"2,keyasint"`
	Type    string    `msgpack:"m" cbor:"3,keyasint,omitempty"`
}

// Codec encodes/decodes envelopes to []byte for storage.
type Codec interface {
	Encode(Envelope) ([]byte, error)
	Decode([]byte) (Envelope, error)
}

// Default is the codec used when a provider is not given one.
var Default Codec = Msgpack{}

// ByName returns the codec registered under name ("msgpack" or "cbor").
// An empty name selects Default.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return Default, nil
	case "cbor":
		return NewCBOR(true)
	default:
		return nil, ErrUnknownCodec{Name: name}
	}
}

// ErrUnknownCodec is returned by ByName for unregistered names.
type ErrUnknownCodec struct {
	Name string
}

func (e ErrUnknownCodec) Error() string {
	return "codec: unknown codec " + e.Name
}
