// Package httputil provides the bounded semaphore used for task scheduling
// plus shared HTTP clients with connection pooling for tasks that delegate
// to external inference services.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize caps response body reads from external services.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// Shared transport with connection pooling, safe for concurrent use.
// Every analysis task that calls out reuses these connections instead of
// opening new ones per request.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier defines standard timeout categories.
type TimeoutTier int

const (
	// TierFast for health checks and history lookups (5s)
	TierFast TimeoutTier = iota
	// TierMedium for standard API calls (30s)
	TierMedium
	// TierSlow for inference calls that may take longer (60s)
	TierSlow
)

var timeoutDurations = map[TimeoutTier]time.Duration{
	TierFast:   5 * time.Second,
	TierMedium: 30 * time.Second,
	TierSlow:   60 * time.Second,
}

var (
	clientFast   *http.Client
	clientMedium *http.Client
	clientSlow   *http.Client
	clientOnce   sync.Once
)

func initClients() {
	clientFast = &http.Client{Timeout: timeoutDurations[TierFast], Transport: sharedTransport}
	clientMedium = &http.Client{Timeout: timeoutDurations[TierMedium], Transport: sharedTransport}
	clientSlow = &http.Client{Timeout: timeoutDurations[TierSlow], Transport: sharedTransport}
}

// Client returns the shared HTTP client for the given timeout tier.
// Use this instead of constructing http.Client per call site.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	switch tier {
	case TierFast:
		return clientFast
	case TierSlow:
		return clientSlow
	default:
		return clientMedium
	}
}

// ReadResponseBody reads an HTTP response body with a size limit so a
// misbehaving inference service cannot OOM the engine.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// DrainAndClose drains and closes a response body so the underlying
// connection returns to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
