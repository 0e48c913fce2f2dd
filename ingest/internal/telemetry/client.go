package telemetry

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"shrc-fleet-telemetry/ingest/internal/models"
	"shrc-fleet-telemetry/shared/config"
	"shrc-fleet-telemetry/shared/metricsx"
)

const (
	endpointList   = "list"
	endpointDetail = "detail"

	userAgent = "Mozilla/5.0 (compatible; SHRC/1.0)"
)

// Client talks to the external fleet telemetry API. List and detail calls
// use separate http.Clients: detail payloads can be large, so they get a
// longer timeout, and the detail endpoint sits behind a proxy with a
// broken certificate chain, so its transport can be told to skip
// verification.
type Client struct {
	baseURL string
	apiKey  string
	list    *http.Client
	detail  *http.Client
}

func NewClient(cfg config.Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.UpstreamBaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("upstream base url is required")
	}

	// Redirects are never followed: a 302 is an application-level
	// "blocked" signal, not a location to chase.
	noRedirect := func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	detailTransport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.UpstreamInsecureTLS {
		detailTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.UpstreamAPIKey,
		list: &http.Client{
			Timeout:       time.Duration(cfg.UpstreamListTimeout) * time.Second,
			CheckRedirect: noRedirect,
			Transport:     otelhttp.NewTransport(http.DefaultTransport),
		},
		detail: &http.Client{
			Timeout:       time.Duration(cfg.UpstreamDetailTimeout) * time.Second,
			CheckRedirect: noRedirect,
			Transport:     otelhttp.NewTransport(detailTransport),
		},
	}, nil
}

// ListMessages returns one envelope per message type present for the
// robot in the inclusive [fromTs, toTs] range (YYYYMMDDhhmmss).
func (c *Client) ListMessages(ctx context.Context, robotUUID string, fromTs string, toTs string) ([]models.MessageEnvelope, error) {
	path := "/ext/robots/" + url.PathEscape(robotUUID) + "/telemetries"
	body, err := c.get(ctx, c.list, endpointList, path, fromTs, toTs)
	if err != nil {
		return nil, err
	}
	return decodeSequence[models.MessageEnvelope](body)
}

// FetchDetail returns every raw sample of one message type in the range.
// The upstream answers with either a single object or a list; callers
// always see a list.
func (c *Client) FetchDetail(ctx context.Context, robotUUID string, msgID int, fromTs string, toTs string) ([]map[string]any, error) {
	path := "/ext/robots/" + url.PathEscape(robotUUID) + "/telemetries/" + strconv.Itoa(msgID)
	body, err := c.get(ctx, c.detail, endpointDetail, path, fromTs, toTs)
	if err != nil {
		return nil, err
	}
	return decodeSequence[map[string]any](body)
}

func (c *Client) get(ctx context.Context, hc *http.Client, endpoint string, path string, fromTs string, toTs string) ([]byte, error) {
	q := url.Values{}
	q.Set("from", fromTs)
	q.Set("to", toTs)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()
	metricsx.IncUpstreamRequest(endpoint, resp.StatusCode)

	if resp.StatusCode == http.StatusFound {
		return nil, fmt.Errorf("%s: %w", endpoint, ErrBlocked)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Endpoint: endpoint, Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// decodeSequence accepts either a JSON array or a single object and
// always hands back a slice.
func decodeSequence[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decode upstream response: %w", err)
		}
		return out, nil
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	return []T{one}, nil
}
