package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR is a Codec that serializes envelopes using fxamacker/cbor.
// The zero value is NOT ready to use. Construct with NewCBOR.
//
// Time values are encoded as RFC3339Nano.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec = CBOR{}

// NewCBOR constructs a CBOR codec. Deterministic selects the RFC 8949 core
// deterministic encoding; otherwise the preferred unsorted options are used.
func NewCBOR(deterministic bool) (CBOR, error) {
	var eo cbor.EncOptions
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	} else {
		eo = cbor.PreferredUnsortedEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{enc: em, dec: dm}, nil
}

func (c CBOR) Encode(e Envelope) ([]byte, error) {
	return c.enc.Marshal(e)
}

func (c CBOR) Decode(b []byte) (Envelope, error) {
	var e Envelope
	err := c.dec.Unmarshal(b, &e)
	return e, err
}
