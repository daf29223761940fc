package tunnel

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hostit-tunnel/internal/version"
)

// StatusOptions overrides pieces of the default status request. Any zero
// field falls back to the default derived from Config and the tunnel's ID,
// matching spec.md §4.9's "extraOptions" merge-over-defaults behavior.
type StatusOptions struct {
	// Scheme, Host and Path override the request URL's corresponding parts.
	Scheme string
	Host   string
	Path   string
	// Header entries are merged over the default Accept header, with
	// caller-supplied keys taking precedence.
	Header http.Header
}

// statusErrorBody is the shape a non-200 status response is expected to
// carry, per spec.md §6: "the object SHOULD contain a message string field".
type statusErrorBody struct {
	Message string `json:"message"`
}

// StatusClient issues the single HTTPS GET a tunnel uses to query its own
// proxy-side metadata.
type StatusClient struct {
	remoteAddress string
	tunnelID      string
	httpClient    *http.Client
}

// NewStatusClient constructs a StatusClient for the tunnel identified by
// tunnelID against remoteAddress (host[:port], no scheme).
func NewStatusClient(remoteAddress, tunnelID string) *StatusClient {
	return &StatusClient{
		remoteAddress: remoteAddress,
		tunnelID:      tunnelID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Query issues GET https://<remoteAddress>/<id> with Accept:
// application/json, merging opts over the defaults. On HTTP 200 it decodes
// and returns the JSON body. On any other status it fails with the parsed
// body's "message" field, or the JSON parse error if the body isn't valid
// JSON.
func (c *StatusClient) Query(ctx context.Context, opts *StatusOptions) (map[string]any, error) {
	scheme := "https"
	host := c.remoteAddress
	path := "/" + c.tunnelID
	header := http.Header{
		"Accept":     []string{"application/json"},
		"User-Agent": []string{version.UserAgent()},
	}

	if opts != nil {
		if opts.Scheme != "" {
			scheme = opts.Scheme
		}
		if opts.Host != "" {
			host = opts.Host
		}
		if opts.Path != "" {
			path = opts.Path
		}
		for k, v := range opts.Header {
			header[k] = v
		}
	}

	url := scheme + "://" + host + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrStatus, err)
	}
	req.Header = header

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStatus, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrStatus, err)
	}

	var parsed map[string]any
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("%w: parse body: %v", ErrStatus, err)
		}
		return parsed, nil
	}

	var errBody statusErrorBody
	if err := json.Unmarshal(body, &errBody); err != nil {
		return nil, fmt.Errorf("%w: status %d, unparseable body: %v", ErrStatus, resp.StatusCode, err)
	}
	if errBody.Message == "" {
		errBody.Message = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return nil, fmt.Errorf("%w: %s", ErrStatus, errBody.Message)
}
