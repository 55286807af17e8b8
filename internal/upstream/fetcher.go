package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skybi/report-server/internal/report"
	"github.com/skybi/report-server/internal/station"
)

// ErrUnavailable is returned whenever the parsing engine cannot be reached at all
var ErrUnavailable = errors.New("the parsing engine is unavailable")

// ParseError is returned whenever the parsing engine rejected the request itself,
// for example because the raw report could not be decoded
type ParseError struct {
	Message string
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("the parsing engine rejected the request: %s", err.Message)
}

// Fetcher defines the boundary to the external report parsing engine.
// Payloads are opaque to the report server; it never inspects their content.
type Fetcher interface {
	// FetchReport fetches and parses the current report of the given type for a station
	FetchReport(ctx context.Context, typ report.Type, obj *station.Station, opts report.Options) (json.RawMessage, error)

	// ParseReport parses a raw report string supplied by a client
	ParseReport(ctx context.Context, typ report.Type, raw string, opts report.Options) (json.RawMessage, error)
}
