package syncauth

import (
	"regexp"
	"strconv"
	"time"

	"github.com/git-stunts/warpgraph/internal/ports"
)

// Mode selects how a verification failure is handled: enforce it, or
// log it and let the request through (spec §4.11).
type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeLogOnly Mode = "log-only"
)

// FailureReason enumerates why Verify rejected a request.
type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonMalformedHeader FailureReason = "malformed_header"
	ReasonSkew            FailureReason = "skew"
	ReasonUnknownKey      FailureReason = "unknown_key"
	ReasonBadSignature    FailureReason = "bad_signature"
	ReasonReplay          FailureReason = "replay"
	ReasonForbiddenWriter FailureReason = "forbidden_writer"
)

// statusForReason maps a failure reason to its spec §6 HTTP status.
func statusForReason(r FailureReason) int {
	switch r {
	case ReasonMalformedHeader, ReasonUnknownKey, ReasonBadSignature:
		return 401
	case ReasonSkew, ReasonReplay, ReasonForbiddenWriter:
		return 403
	default:
		return 200
	}
}

// Result is the outcome of Verify.
type Result struct {
	Valid      bool
	Reason     FailureReason
	Status     int
	PassedAuth bool // true once the request's signature has been confirmed valid
}

var (
	uuidV4Re  = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	hex64Re   = regexp.MustCompile(`^[0-9a-f]{64}$`)
	digitsRe  = regexp.MustCompile(`^[0-9]{1,16}$`)
)

// ValidateHeaderFormat checks header presence and exact format, per
// spec §4.11 pipeline step 1: version==1, UUID v4 nonce, <=16-digit
// timestamp, 64 lowercase hex signature.
func ValidateHeaderFormat(h Headers) bool {
	if h.Version != SigningVersion {
		return false
	}
	if h.KeyID == "" {
		return false
	}
	if !digitsRe.MatchString(h.Timestamp) {
		return false
	}
	if !uuidV4Re.MatchString(h.Nonce) {
		return false
	}
	if !hex64Re.MatchString(h.Signature) {
		return false
	}
	return true
}

// KeyResolver resolves a key id to its shared secret.
type KeyResolver func(keyID string) (secret []byte, ok bool)

// VerifyParams bundles Verify's inputs.
type VerifyParams struct {
	Headers         Headers
	Method          string
	Path            string
	ContentType     string
	Body            []byte
	Now             time.Time
	MaxClockSkew    time.Duration
	ResolveKey      KeyResolver
	Nonces          *NonceCache
	WriterAllowList []string // empty/nil disables allow-list enforcement
	RequestWriters  []string // writers referenced by the request's payload, for allow-list enforcement
}

// Verify runs the spec §4.11 server-side pipeline, in order,
// short-circuiting on the first failure: header format, timestamp
// freshness, key resolution, signature verification, and only after
// the signature passes, nonce reservation. This ordering ensures an
// unauthenticated request never consumes a nonce slot (spec §4.11,
// §8 property 9).
func Verify(crypto ports.CryptoPort, p VerifyParams) Result {
	if !ValidateHeaderFormat(p.Headers) {
		return fail(ReasonMalformedHeader)
	}

	ts, err := strconv.ParseInt(p.Headers.Timestamp, 10, 64)
	if err != nil {
		return fail(ReasonMalformedHeader)
	}
	requestTime := time.UnixMilli(ts)
	skew := p.Now.Sub(requestTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > p.MaxClockSkew {
		return fail(ReasonSkew)
	}

	secret, ok := p.ResolveKey(p.Headers.KeyID)
	if !ok {
		return fail(ReasonUnknownKey)
	}

	bodyHashHex, err := crypto.Hash("sha256", p.Body)
	if err != nil {
		return fail(ReasonBadSignature)
	}
	signingString := CanonicalSigningString(SigningInput{
		KeyID:         p.Headers.KeyID,
		Method:        p.Method,
		Path:          p.Path,
		Timestamp:     p.Headers.Timestamp,
		Nonce:         p.Headers.Nonce,
		ContentType:   p.ContentType,
		BodySHA256Hex: bodyHashHex,
	})
	expectedMAC, err := crypto.HMAC("sha256", secret, []byte(signingString))
	if err != nil {
		return fail(ReasonBadSignature)
	}
	expectedHex := hexEncode(expectedMAC)
	if len(expectedHex) != len(p.Headers.Signature) || !crypto.TimingSafeEqual([]byte(expectedHex), []byte(p.Headers.Signature)) {
		return fail(ReasonBadSignature)
	}

	// Signature confirmed valid: only now does a nonce slot get consumed.
	if p.Nonces != nil && !p.Nonces.Reserve(p.Headers.Nonce) {
		return Result{Valid: false, Reason: ReasonReplay, Status: statusForReason(ReasonReplay), PassedAuth: true}
	}

	if len(p.WriterAllowList) > 0 {
		allowed := make(map[string]bool, len(p.WriterAllowList))
		for _, w := range p.WriterAllowList {
			allowed[w] = true
		}
		for _, w := range p.RequestWriters {
			if !allowed[w] {
				return Result{Valid: false, Reason: ReasonForbiddenWriter, Status: statusForReason(ReasonForbiddenWriter), PassedAuth: true}
			}
		}
	}

	return Result{Valid: true, Status: 200, PassedAuth: true}
}

func fail(reason FailureReason) Result {
	return Result{Valid: false, Reason: reason, Status: statusForReason(reason)}
}
