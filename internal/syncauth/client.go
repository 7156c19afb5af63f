package syncauth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/git-stunts/warpgraph/internal/ports"
	"github.com/google/uuid"
)

// SignRequest computes the full x-warp-* header set for a request,
// using clock for the timestamp and a freshly generated UUID v4 nonce.
// Signing the same (method, path, body, timestamp, nonce, key) twice
// yields identical headers (spec §8, property 8): SignRequest itself
// is deterministic given a fixed timestamp/nonce; callers that need to
// reproduce a signature for testing should supply those explicitly via
// SignAt.
func SignRequest(crypto ports.CryptoPort, keyID string, secret []byte, method, path, contentType string, body []byte, clock func() time.Time) (Headers, error) {
	now := clock()
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	nonce := uuid.New().String()
	return SignAt(crypto, keyID, secret, method, path, contentType, body, timestamp, nonce)
}

// SignAt computes headers for an explicit timestamp and nonce, the
// deterministic core SignRequest wraps.
func SignAt(crypto ports.CryptoPort, keyID string, secret []byte, method, path, contentType string, body []byte, timestamp, nonce string) (Headers, error) {
	bodyHashHex, err := crypto.Hash("sha256", body)
	if err != nil {
		return Headers{}, fmt.Errorf("syncauth: hashing body: %w", err)
	}
	signingString := CanonicalSigningString(SigningInput{
		KeyID:         keyID,
		Method:        method,
		Path:          path,
		Timestamp:     timestamp,
		Nonce:         nonce,
		ContentType:   contentType,
		BodySHA256Hex: bodyHashHex,
	})
	mac, err := crypto.HMAC("sha256", secret, []byte(signingString))
	if err != nil {
		return Headers{}, fmt.Errorf("syncauth: computing signature: %w", err)
	}
	return Headers{
		Version:   SigningVersion,
		KeyID:     keyID,
		Timestamp: timestamp,
		Nonce:     nonce,
		Signature: hexEncode(mac),
	}, nil
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0f]
	}
	return string(out)
}
