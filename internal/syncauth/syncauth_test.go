package syncauth

import (
	"testing"
	"time"

	"github.com/git-stunts/warpgraph/internal/crdt"
	"github.com/git-stunts/warpgraph/internal/cryptoimpl"
	"github.com/git-stunts/warpgraph/internal/model"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSignRequestDeterministicAtFixedInputs(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte(`{"type":"sync-request"}`)

	h1, err := SignAt(crypto, "key1", secret, "POST", "/sync", "application/json", body, "1700000000000", "11111111-1111-4111-8111-111111111111")
	require.NoError(t, err)
	h2, err := SignAt(crypto, "key1", secret, "POST", "/sync", "application/json", body, "1700000000000", "11111111-1111-4111-8111-111111111111")
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1.Signature, 64)
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte(`{"type":"sync-request"}`)
	now := time.Now()

	headers, err := SignRequest(crypto, "key1", secret, "POST", "/sync", "application/json", body, fixedClock(now))
	require.NoError(t, err)

	result := Verify(crypto, VerifyParams{
		Headers:      headers,
		Method:       "POST",
		Path:         "/sync",
		ContentType:  "application/json",
		Body:         body,
		Now:          now,
		MaxClockSkew: 5 * time.Minute,
		ResolveKey:   func(keyID string) ([]byte, bool) { return secret, keyID == "key1" },
		Nonces:       NewNonceCache(10),
	})
	require.True(t, result.Valid)
}

func TestVerifyRejectsUnknownKey(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte("x")
	now := time.Now()
	headers, err := SignRequest(crypto, "key1", secret, "POST", "/sync", "application/json", body, fixedClock(now))
	require.NoError(t, err)

	result := Verify(crypto, VerifyParams{
		Headers: headers, Method: "POST", Path: "/sync", ContentType: "application/json",
		Body: body, Now: now, MaxClockSkew: 5 * time.Minute,
		ResolveKey: func(string) ([]byte, bool) { return nil, false },
		Nonces:     NewNonceCache(10),
	})
	require.False(t, result.Valid)
	require.Equal(t, ReasonUnknownKey, result.Reason)
	require.Equal(t, 401, result.Status)
}

func TestVerifyRejectsSkew(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte("x")
	signedAt := time.Now().Add(-time.Hour)
	headers, err := SignRequest(crypto, "key1", secret, "POST", "/sync", "application/json", body, fixedClock(signedAt))
	require.NoError(t, err)

	result := Verify(crypto, VerifyParams{
		Headers: headers, Method: "POST", Path: "/sync", ContentType: "application/json",
		Body: body, Now: time.Now(), MaxClockSkew: 5 * time.Minute,
		ResolveKey: func(string) ([]byte, bool) { return secret, true },
		Nonces:     NewNonceCache(10),
	})
	require.False(t, result.Valid)
	require.Equal(t, ReasonSkew, result.Reason)
	require.Equal(t, 403, result.Status)
}

func TestVerifySkewShortCircuitsBeforeHMAC(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte("x")
	signedAt := time.Now().Add(-time.Hour)
	headers, err := SignRequest(crypto, "key1", secret, "POST", "/sync", "application/json", body, fixedClock(signedAt))
	require.NoError(t, err)

	calls := 0
	resolver := func(string) ([]byte, bool) {
		calls++
		return secret, true
	}
	result := Verify(crypto, VerifyParams{
		Headers: headers, Method: "POST", Path: "/sync", ContentType: "application/json",
		Body: body, Now: time.Now(), MaxClockSkew: 5 * time.Minute,
		ResolveKey: resolver, Nonces: NewNonceCache(10),
	})
	require.False(t, result.Valid)
	require.Equal(t, 0, calls, "key resolution (and thus HMAC) must not run once skew has failed")
}

func TestVerifyReplayRejectedOnSecondUse(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte("x")
	now := time.Now()
	headers, err := SignRequest(crypto, "key1", secret, "POST", "/sync", "application/json", body, fixedClock(now))
	require.NoError(t, err)

	nonces := NewNonceCache(10)
	params := VerifyParams{
		Headers: headers, Method: "POST", Path: "/sync", ContentType: "application/json",
		Body: body, Now: now, MaxClockSkew: 5 * time.Minute,
		ResolveKey: func(string) ([]byte, bool) { return secret, true }, Nonces: nonces,
	}
	first := Verify(crypto, params)
	require.True(t, first.Valid)

	second := Verify(crypto, params)
	require.False(t, second.Valid)
	require.Equal(t, ReasonReplay, second.Reason)
	require.Equal(t, 403, second.Status)
}

func TestVerifyBadSignatureNeverConsumesNonce(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte("x")
	now := time.Now()
	headers, err := SignRequest(crypto, "key1", secret, "POST", "/sync", "application/json", body, fixedClock(now))
	require.NoError(t, err)
	flipped := byte('a')
	if headers.Signature[0] == 'a' {
		flipped = 'b'
	}
	headers.Signature = string(flipped) + headers.Signature[1:]

	nonces := NewNonceCache(10)
	result := Verify(crypto, VerifyParams{
		Headers: headers, Method: "POST", Path: "/sync", ContentType: "application/json",
		Body: body, Now: now, MaxClockSkew: 5 * time.Minute,
		ResolveKey: func(string) ([]byte, bool) { return secret, true }, Nonces: nonces,
	})
	require.False(t, result.Valid)
	require.Equal(t, ReasonBadSignature, result.Reason)
	require.Equal(t, 0, nonces.Len(), "a bad signature must not reserve a nonce slot")
}

func TestVerifyEnforcesWriterAllowList(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte("x")
	now := time.Now()
	headers, err := SignRequest(crypto, "key1", secret, "POST", "/sync", "application/json", body, fixedClock(now))
	require.NoError(t, err)

	result := Verify(crypto, VerifyParams{
		Headers: headers, Method: "POST", Path: "/sync", ContentType: "application/json",
		Body: body, Now: now, MaxClockSkew: 5 * time.Minute,
		ResolveKey: func(string) ([]byte, bool) { return secret, true }, Nonces: NewNonceCache(10),
		WriterAllowList: []string{"alice"},
		RequestWriters:  []string{"mallory"},
	})
	require.False(t, result.Valid)
	require.Equal(t, ReasonForbiddenWriter, result.Reason)
}

func TestWritersOfCollectsFromOpsAndObservedDots(t *testing.T) {
	patches := []model.Patch{
		{
			Writer: "alice",
			Ops: []model.Op{
				{Kind: model.OpNodeAdd, Node: "n", Dot: crdt.Dot{Writer: "alice", Seq: 1}},
				{Kind: model.OpNodeTombstone, Node: "m", ObservedDots: []crdt.Dot{{Writer: "bob", Seq: 2}}},
			},
		},
	}
	writers := WritersOf(patches)
	require.ElementsMatch(t, []string{"alice", "bob"}, writers)
}
