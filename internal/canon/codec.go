// Package canon implements the canonical binary codec described in spec
// §4.1: a CBOR encoding with sorted map keys at every depth, guaranteeing
// encode(decode(encode(x))) == encode(x) byte-for-byte. It is the default
// implementation of ports.CodecPort and underlies patch blobs, BTR
// encoding, and state hashing.
//
// Grounded on other_examples' massifs-rootsigner.go, which uses
// fxamacker/cbor/v2's canonical encoding options to produce a
// deterministic, signable byte sequence for a committed state.
package canon

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec implements ports.CodecPort using deterministic CBOR. Canonical
// mode sorts map keys (RFC 7049 canonical CBOR: shorter encoded keys
// first, then bytewise lexicographic on the encoded key) and rejects
// indefinite-length items, so two structurally equal values always encode to the same
// bytes regardless of Go map iteration order.
type Codec struct {
	encMode cbor.EncMode
}

// New constructs a Codec using CBOR's canonical encoding mode.
func New() *Codec {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		// CanonicalEncOptions() is a fixed, library-validated option set;
		// a failure here means the cbor library itself is broken.
		panic(fmt.Sprintf("canon: invalid canonical encoding options: %v", err))
	}
	return &Codec{encMode: mode}
}

// Error is returned for malformed input, per spec §4.1 ("fails with
// CodecError on malformed input").
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("canon: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Encode canonically encodes value. map[string]string values are
// copied into map[string]interface{}, and map[string]interface{} and
// []interface{} values are walked recursively, so the canonical
// encoder's key sort applies uniformly; everything else passes through
// to the canonical EncMode unchanged.
func (c *Codec) Encode(value interface{}) ([]byte, error) {
	data, err := c.encMode.Marshal(normalize(value))
	if err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}
	return data, nil
}

// Decode decodes data into out. Decoded maps come back as
// map[string]interface{}; re-encoding that value through Encode
// reproduces the original canonical bytes.
func (c *Codec) Decode(data []byte, out interface{}) error {
	if err := cbor.Unmarshal(data, out); err != nil {
		return &Error{Op: "decode", Err: err}
	}
	return nil
}

// normalize recursively walks value, rewriting plain Go container types
// (maps and slices) into forms the canonical encoder sorts
// deterministically. Scalars, []byte, and already-tagged struct values
// pass through unchanged — the canonical EncMode handles their
// deterministic encoding directly.
func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = normalize(val)
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	default:
		return value
	}
}
