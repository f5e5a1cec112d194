package fastmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"git.sr.ht/~rockorager/go-jmap"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// ClientOptions tunes the HTTP behavior of a Client.
type ClientOptions struct {
	// Timeout bounds a single HTTP exchange. Defaults to 30s.
	Timeout time.Duration

	// MaxRetries is the number of retries after an HTTP 429.
	MaxRetries int

	// Transport is the base transport wrapped with bearer
	// authentication. Defaults to http.DefaultTransport.
	Transport http.RoundTripper

	Logger logrus.FieldLogger
}

// Client is a thin HTTP client for Fastmail's JMAP endpoints.
// It handles Bearer token authentication, JSON marshaling, and
// automatic retry with exponential backoff on HTTP 429.
type Client struct {
	sessionURL string
	httpClient *http.Client
	maxRetries int
	log        logrus.FieldLogger
	seq        uint64
}

// NewClient creates a new JMAP HTTP client. The sessionURL is the JMAP
// session resource (e.g., https://api.fastmail.com/jmap/session) and the
// token is a Fastmail API token used for Bearer authentication.
func NewClient(sessionURL, token string, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	base := &http.Client{Timeout: timeout, Transport: opts.Transport}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = timeout

	return &Client{
		sessionURL: sessionURL,
		httpClient: httpClient,
		maxRetries: opts.MaxRetries,
		log:        logger,
	}
}

// Session fetches the JMAP session resource.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, c.sessionURL, nil, &s); err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	return &s, nil
}

// Call posts a JMAP request to apiURL and decodes the response envelope.
func (c *Client) Call(
	ctx context.Context,
	apiURL string,
	req *jmap.Request,
) (*jmap.Response, error) {
	var resp jmap.Response
	if err := c.do(ctx, http.MethodPost, apiURL, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do is the core HTTP method that builds the request, handles auth
// errors, rate limiting with exponential backoff, and JSON
// (de)serialization.
func (c *Client) do(
	ctx context.Context,
	method string,
	url string,
	body interface{},
	result interface{},
) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}

	seq := atomic.AddUint64(&c.seq, 1)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if data != nil {
			bodyReader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Accept", "application/json")
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		if data != nil {
			c.log.Debugf(">%d> %s %s %s", seq, method, url, data)
		} else {
			c.log.Debugf(">%d> %s %s", seq, method, url)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Debugf("<%d< %s", seq, err)
			return fmt.Errorf("executing request %s %s: %w", method, url, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		c.log.Debugf("<%d< %d %s", seq, resp.StatusCode, respBody)

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, url)
			if attempt == c.maxRetries {
				break
			}
			c.log.Warnf("rate limited, retrying in %s", waitDuration)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden {
			return &AuthError{
				StatusCode: resp.StatusCode,
				Message:    authMessage(resp.StatusCode, respBody),
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf(
				"unexpected status %d on %s %s: %s",
				resp.StatusCode, method, url, problemDetail(respBody),
			)
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf(
				"unmarshaling response from %s %s: %w", method, url, err,
			)
		}

		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// problem is an RFC 7807 problem details object, which JMAP servers use
// for request-level errors.
type problem struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// problemDetail extracts a readable message from an error response body.
func problemDetail(body []byte) string {
	var p problem
	if json.Unmarshal(body, &p) == nil && (p.Detail != "" || p.Type != "") {
		if p.Detail == "" {
			return p.Type
		}
		return p.Detail
	}
	return string(body)
}

func authMessage(status int, body []byte) string {
	if msg := problemDetail(body); msg != "" {
		return msg
	}
	if status == http.StatusForbidden {
		return "access denied"
	}
	return "invalid or expired API token"
}

// maxRetryWait bounds a single wait between rate-limited attempts.
const maxRetryWait = 30 * time.Second

// retryAfterDuration reads the Retry-After header, in seconds or as an
// HTTP date, and computes a wait duration capped at maxRetryWait. Falls
// back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := strings.TrimSpace(resp.Header.Get("Retry-After")); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			if seconds > int(maxRetryWait/time.Second) {
				return maxRetryWait
			}
			return clampWait(time.Duration(seconds) * time.Second)
		}
		if at, err := http.ParseTime(header); err == nil {
			return clampWait(time.Until(at))
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ... 1<<5 already exceeds the cap.
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxRetryWait
	}
	return clampWait(time.Duration(1<<uint(attempt)) * time.Second)
}

func clampWait(d time.Duration) time.Duration {
	switch {
	case d < 0:
		return 0
	case d > maxRetryWait:
		return maxRetryWait
	}
	return d
}
