package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skybi/report-server/internal/report"
)

var maxRawReportSize int64 = 16 * 1024

// EndpointParseReport handles the 'POST /v1/parse/{type}?options={a,b,...?}' endpoint.
// The raw report string is given as the plain text request body; it is handed to the parsing
// engine directly, without any station resolution or caching.
func (service *Service) EndpointParseReport(writer http.ResponseWriter, request *http.Request) {
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

	body, err := io.ReadAll(io.LimitReader(request.Body, maxRawReportSize))
	if err != nil {
		service.writer.WriteInternalError(writer, err)
		return
	}
	raw := strings.TrimSpace(string(body))
	if len(raw) < 4 || strings.ContainsAny(raw, "{[") {
		service.writer.WriteErrors(writer, http.StatusBadRequest, errNotARawReport)
		return
	}

	if !service.admitRequest(writer, request) {
		return
	}

	payload, err := service.Fetcher.ParseReport(request.Context(), typ, raw, opts)
	if err != nil {
		service.writeFetchError(writer, request, err)
		return
	}

	service.writer.WriteJSON(writer, &reportResponse{
		Meta: reportMeta{
			Timestamp: time.Now().UTC(),
			FetchedAt: time.Now().UTC(),
		},
		Data: payload,
	})
}
