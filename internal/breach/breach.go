// Package breach queries an external breached-password corpus using the
// k-anonymity range protocol: only the first five hex characters of the
// candidate's SHA-1 ever leave the process.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Checker reports whether a plaintext candidate is known to be compromised.
type Checker interface {
	Compromised(ctx context.Context, candidate string) (bool, error)
}

// Client is the HTTP range-lookup implementation. A lookup failure never
// fails the write path: the result falls back to the configured policy
// (fail-open accepts the candidate, fail-closed rejects it).
type Client struct {
	endpoint   string
	httpClient *http.Client
	failClosed bool
	logger     *slog.Logger
	group      singleflight.Group
}

// NewClient builds a Client. endpoint is the range URL without trailing
// slash, e.g. https://api.pwnedpasswords.com/range.
func NewClient(endpoint string, failClosed bool, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		failClosed: failClosed,
		logger:     logger,
	}
}

// Compromised checks the candidate against the corpus. Concurrent lookups
// for the same hash prefix are collapsed into one request.
func (c *Client) Compromised(ctx context.Context, candidate string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sum := sha1.Sum([]byte(candidate))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	res, err, _ := c.group.Do(prefix, func() (any, error) {
		return c.fetchRange(ctx, prefix)
	})
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("breach lookup failed", slog.Any("error", err), slog.Bool("failClosed", c.failClosed))
		}
		return c.failClosed, nil
	}
	suffixes := res.(map[string]struct{})
	_, found := suffixes[suffix]
	return found, nil
}

func (c *Client) fetchRange(ctx context.Context, prefix string) (map[string]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/"+prefix, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("breach: range lookup returned %d", resp.StatusCode)
	}
	suffixes := make(map[string]struct{})
	scanner := bufio.NewScanner(io.LimitReader(resp.Body, 4<<20))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if suffix, _, ok := strings.Cut(line, ":"); ok {
			suffixes[strings.ToUpper(suffix)] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return suffixes, nil
}

// Disabled is a Checker that never reports a match, used when the breach
// boundary is not configured.
type Disabled struct{}

// Compromised always returns false.
func (Disabled) Compromised(context.Context, string) (bool, error) { return false, nil }
