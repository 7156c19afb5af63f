// Package syncauth implements spec §4.11's replay-resistant HMAC
// request authentication: the canonical signing string, the header
// contract, the server verification pipeline (ordered so an
// unauthenticated request can never consume a nonce slot), the nonce
// replay cache, and the optional writer allow-list.
//
// Grounded on spec §4.11 directly for the protocol shape; the nonce
// cache is backed by github.com/hashicorp/golang-lru/v2, a dependency
// the pack's own blockchain-adjacent repos (orbas1-Synnergy,
// AKJUS-bsc-erigon) already carry for exactly this kind of
// fixed-capacity, access-ordered cache.
package syncauth

import (
	"strings"
)

// SigningVersion is the only value x-warp-sig-version may carry.
const SigningVersion = "1"

// Headers is the parsed x-warp-* header set a request carries.
type Headers struct {
	Version   string
	KeyID     string
	Timestamp string
	Nonce     string
	Signature string
}

// Header name constants, per spec §4.11.
const (
	HeaderSigVersion = "x-warp-sig-version"
	HeaderKeyID      = "x-warp-key-id"
	HeaderTimestamp  = "x-warp-timestamp"
	HeaderNonce      = "x-warp-nonce"
	HeaderSignature  = "x-warp-signature"
)

// SigningInput is everything CanonicalSigningString needs to render the
// pipe-delimited byte sequence a request's signature is computed over.
type SigningInput struct {
	KeyID         string
	Method        string
	Path          string // pathname + search, per spec §4.11
	Timestamp     string
	Nonce         string
	ContentType   string
	BodySHA256Hex string
}

// CanonicalSigningString renders spec §4.11's signing string:
//
//	warp-v1 | keyId | METHOD | canonicalPath | timestamp | nonce | contentType | sha256Hex(body)
func CanonicalSigningString(in SigningInput) string {
	fields := []string{
		"warp-v1",
		in.KeyID,
		strings.ToUpper(in.Method),
		in.Path,
		in.Timestamp,
		in.Nonce,
		in.ContentType,
		in.BodySHA256Hex,
	}
	return strings.Join(fields, " | ")
}
