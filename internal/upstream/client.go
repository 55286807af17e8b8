package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/skybi/report-server/internal/metrics"
	"github.com/skybi/report-server/internal/report"
	"github.com/skybi/report-server/internal/station"
)

// Client implements the Fetcher interface against the parsing engine's HTTP API.
// A circuit breaker keeps a flapping engine from being hammered; an open breaker
// surfaces as ErrUnavailable just like an unreachable engine does.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

var _ Fetcher = (*Client)(nil)

// NewClient creates a new parsing engine client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "parsing-engine",
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			// A rejected report means the engine is healthy enough to answer
			IsSuccessful: func(err error) bool {
				var parseErr *ParseError
				return err == nil || errors.As(err, &parseErr)
			},
		}),
	}
}

// FetchReport fetches and parses the current report of the given type for a station
func (client *Client) FetchReport(ctx context.Context, typ report.Type, obj *station.Station, opts report.Options) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", client.baseURL, typ, obj.ICAO)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if len(opts) > 0 {
		query.Set("options", opts.String())
	}
	request.URL.RawQuery = query.Encode()
	return client.do(request)
}

// ParseReport parses a raw report string supplied by a client
func (client *Client) ParseReport(ctx context.Context, typ report.Type, raw string, opts report.Options) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/parse/%s", client.baseURL, typ)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "text/plain")
	query := url.Values{}
	if len(opts) > 0 {
		query.Set("options", opts.String())
	}
	request.URL.RawQuery = query.Encode()
	return client.do(request)
}

func (client *Client) do(request *http.Request) (json.RawMessage, error) {
	payload, err := client.breaker.Execute(func() (interface{}, error) {
		response, err := client.client.Do(request)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		defer response.Body.Close()

		body, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}

		switch {
		case response.StatusCode == http.StatusOK:
			return json.RawMessage(body), nil
		case response.StatusCode >= 400 && response.StatusCode < 500:
			return nil, &ParseError{Message: engineErrorMessage(body)}
		default:
			return nil, fmt.Errorf("%w: engine responded with status %d", ErrUnavailable, response.StatusCode)
		}
	})
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("error").Inc()
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit breaker is open", ErrUnavailable)
		}
		return nil, err
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("success").Inc()
	return payload.(json.RawMessage), nil
}

// engineErrorMessage extracts the error message out of an engine error body, falling back to the raw body
func engineErrorMessage(body []byte) string {
	var decoded struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != "" {
		return decoded.Error
	}
	return strings.TrimSpace(string(body))
}
