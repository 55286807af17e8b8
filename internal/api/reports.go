package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skybi/report-server/internal/api/schema"
	"github.com/skybi/report-server/internal/report"
	"github.com/skybi/report-server/internal/station"
	"github.com/skybi/report-server/internal/upstream"
)

// reportResponse represents the envelope every successfully fetched report is wrapped in
type reportResponse struct {
	Meta reportMeta      `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type reportMeta struct {
	Timestamp time.Time `json:"timestamp"`
	// FetchedAt holds the point in time the payload was fetched from the upstream source,
	// which differs from Timestamp whenever the cache answered the request
	FetchedAt time.Time `json:"fetched_at"`
	Cached    bool      `json:"cached"`
	Station   string    `json:"station,omitempty"`
}

// EndpointGetReport handles the 'GET /v1/report/{type}/{location}?options={a,b,...?}' endpoint.
// The location is either an ICAO-style station code or a 'lat,lon' coordinate pair.
func (service *Service) EndpointGetReport(writer http.ResponseWriter, request *http.Request) {
	typ, ok := report.ParseType(chi.URLParam(request, "type"))
	if !ok {
		service.writer.WriteErrors(writer, http.StatusBadRequest, errUnknownReportType(chi.URLParam(request, "type")))
		return
	}

	opts, err := report.ParseOptions(request.URL.Query().Get("options"))
	if err != nil {
		var optionErr *report.UnknownOptionError
		if errors.As(err, &optionErr) {
			service.writer.WriteErrors(writer, http.StatusBadRequest, errUnknownReportOption(optionErr.Option))
			return
		}
		service.writer.WriteInternalError(writer, err)
		return
	}

	obj, schemaErr, status := service.resolveLocation(chi.URLParam(request, "location"))
	if schemaErr != nil {
		service.writer.WriteErrors(writer, status, schemaErr)
		return
	}

	if !service.admitRequest(writer, request) {
		return
	}

	key := report.NewKey(typ, obj.ICAO, opts)
	result, err := service.Cache.GetOrFetch(request.Context(), key, func(ctx context.Context) (json.RawMessage, error) {
		return service.Fetcher.FetchReport(ctx, typ, obj, opts)
	})
	if err != nil {
		service.writeFetchError(writer, request, err)
		return
	}

	service.writer.WriteJSON(writer, &reportResponse{
		Meta: reportMeta{
			Timestamp: time.Now().UTC(),
			FetchedAt: result.FetchedAt.UTC(),
			Cached:    result.Hit,
			Station:   obj.ICAO,
		},
		Data: result.Payload,
	})
}

// resolveLocation resolves a station code or coordinate pair into a canonical station.
// It returns either the station or the schema error + HTTP status to respond with.
func (service *Service) resolveLocation(raw string) (*station.Station, *schema.Error, int) {
	raw = strings.TrimSpace(raw)

	// Coordinate pairs contain a comma, codes never do
	if strings.Contains(raw, ",") {
		parts := strings.SplitN(raw, ",", 2)
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if latErr != nil || lonErr != nil {
			return nil, errInvalidLocation(raw), http.StatusBadRequest
		}
		obj, err := service.Index.ResolveCoordinate(lat, lon)
		if err != nil {
			switch {
			case errors.Is(err, station.ErrInvalidCoordinate):
				return nil, errCoordinateOutOfRange(lat, lon), http.StatusBadRequest
			case errors.Is(err, station.ErrNotLoaded):
				return nil, errIndexNotLoaded, http.StatusServiceUnavailable
			}
			return nil, schema.ErrInternal, http.StatusInternalServerError
		}
		return obj, nil, 0
	}

	code := strings.ToUpper(raw)
	if !station.CodeRegex.MatchString(code) {
		return nil, errInvalidLocation(raw), http.StatusBadRequest
	}
	obj, err := service.Index.ResolveCode(code)
	if err != nil {
		switch {
		case errors.Is(err, station.ErrNotFound):
			return nil, errStationNotFound(code), http.StatusNotFound
		case errors.Is(err, station.ErrNotLoaded):
			return nil, errIndexNotLoaded, http.StatusServiceUnavailable
		}
		return nil, schema.ErrInternal, http.StatusInternalServerError
	}
	return obj, nil, 0
}

// writeFetchError maps an upstream fetch failure onto the API error taxonomy
func (service *Service) writeFetchError(writer http.ResponseWriter, request *http.Request, err error) {
	var parseErr *upstream.ParseError
	switch {
	case errors.Is(err, context.Canceled) && request.Context().Err() != nil:
		// The requesting client is gone; nobody reads this response
		return
	case errors.Is(err, upstream.ErrUnavailable):
		service.writer.WriteErrors(writer, http.StatusServiceUnavailable, errEngineUnavailable)
	case errors.As(err, &parseErr):
		service.writer.WriteErrors(writer, http.StatusBadGateway, errEngineRejected(parseErr.Message))
	default:
		service.writer.WriteInternalError(writer, err)
	}
}
