// Package syncclient drives the peer side of spec §4.10/§4.11's sync
// protocol over HTTP: it signs a request with internal/syncauth, posts
// it with a per-attempt timeout, and retries transport and 5xx failures
// with exponential backoff plus decorrelated jitter, bounded by a
// retry count (spec §5: "sync client honors a per-attempt timeout and
// retries with exponential backoff + decorrelated jitter, bounded
// retry count. Retry triggers only for transport and 5xx responses;
// 4xx (other than auth/config) is final").
//
// Grounded on the teacher's internal/github/fetcher.go and client.go,
// which pace an outbound API client with golang.org/x/time/rate; the
// same limiter paces this package's retry loop, while the
// backoff-plus-jitter math itself is spec-mandated and hand-rolled
// (spec §5 explicitly calls out "decorrelated jitter" as a specific
// algorithm, not something x/time/rate models).
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/git-stunts/warpgraph/internal/ports"
	"github.com/git-stunts/warpgraph/internal/syncauth"
	"github.com/git-stunts/warpgraph/internal/syncproto"
	"github.com/git-stunts/warpgraph/internal/warperrors"
	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	BaseURL        string
	KeyID          string
	Secret         []byte
	AttemptTimeout time.Duration // default 10s
	MaxRetries     int           // default 5
	BaseDelay      time.Duration // default 100ms, decorrelated-jitter floor
	MaxDelay       time.Duration // default 10s, decorrelated-jitter ceiling
	RateLimit      rate.Limit    // default 2 req/s
	RateBurst      int           // default 1
	HTTPClient     *http.Client  // default http.DefaultClient
	Rand           *rand.Rand    // default a per-Client source seeded with 1; inject for deterministic tests
}

// Client posts signed sync requests to a single peer, retrying
// per Config.
type Client struct {
	cfg     Config
	crypto  ports.CryptoPort
	limiter *rate.Limiter
}

// New constructs a Client. Unset Config fields fall back to spec
// defaults.
func New(crypto ports.CryptoPort, cfg Config) *Client {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Limit(2)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	return &Client{
		cfg:     cfg,
		crypto:  crypto,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
	}
}

// Sync posts req to the peer's sync endpoint and returns its parsed
// response, retrying on transport failure or a 5xx status. ctx
// cancellation aborts an in-flight attempt promptly and is never
// retried past (spec §5).
func (c *Client) Sync(ctx context.Context, req syncproto.Request) (syncproto.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return syncproto.Response{}, warperrors.SyncProtocol("encoding sync request", err)
	}

	var lastErr error
	delay := c.cfg.BaseDelay
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, delay); err != nil {
				return syncproto.Response{}, err
			}
			delay = nextDecorrelatedJitter(c.cfg.Rand, c.cfg.BaseDelay, c.cfg.MaxDelay, delay)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return syncproto.Response{}, warperrors.Aborted("sync: rate limiter wait")
		}

		resp, err := c.attempt(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return syncproto.Response{}, warperrors.Aborted("sync")
		}
		if werr, ok := err.(*warperrors.Error); !ok || !werr.Retryable() {
			return syncproto.Response{}, err
		}
	}
	return syncproto.Response{}, lastErr
}

// attempt performs a single signed HTTP round trip within its own
// per-attempt timeout.
func (c *Client) attempt(ctx context.Context, body []byte) (syncproto.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	path := "/sync"
	headers, err := syncauth.SignRequest(c.crypto, c.cfg.KeyID, c.cfg.Secret, "POST", path, "application/json", body, time.Now)
	if err != nil {
		return syncproto.Response{}, warperrors.SyncProtocol("signing request", err)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, "POST", c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return syncproto.Response{}, warperrors.SyncRemoteURL(c.cfg.BaseURL, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(syncauth.HeaderSigVersion, headers.Version)
	httpReq.Header.Set(syncauth.HeaderKeyID, headers.KeyID)
	httpReq.Header.Set(syncauth.HeaderTimestamp, headers.Timestamp)
	httpReq.Header.Set(syncauth.HeaderNonce, headers.Nonce)
	httpReq.Header.Set(syncauth.HeaderSignature, headers.Signature)

	httpResp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			return syncproto.Response{}, warperrors.SyncTimeout(err)
		}
		return syncproto.Response{}, warperrors.SyncNetwork(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return syncproto.Response{}, warperrors.SyncNetwork(err)
	}

	if httpResp.StatusCode >= 500 {
		return syncproto.Response{}, warperrors.SyncRemote(httpResp.StatusCode, fmt.Errorf("%s", string(respBody)))
	}
	if httpResp.StatusCode >= 400 {
		return syncproto.Response{}, warperrors.SyncProtocol(fmt.Sprintf("peer returned status %d", httpResp.StatusCode), fmt.Errorf("%s", string(respBody)))
	}

	var syncResp syncproto.Response
	if err := json.Unmarshal(respBody, &syncResp); err != nil {
		return syncproto.Response{}, warperrors.SyncProtocol("decoding sync response", err)
	}
	return syncResp, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return warperrors.Aborted("sync: backoff wait")
	case <-timer.C:
		return nil
	}
}

// nextDecorrelatedJitter implements the AWS "decorrelated jitter"
// backoff recurrence: sleep = min(cap, random_between(base, prev*3)).
func nextDecorrelatedJitter(r *rand.Rand, base, ceiling, prev time.Duration) time.Duration {
	upper := prev * 3
	if upper <= base {
		upper = base + 1
	}
	span := int64(upper - base)
	if span <= 0 {
		return base
	}
	next := base + time.Duration(r.Int63n(span))
	if next > ceiling {
		next = ceiling
	}
	return next
}
