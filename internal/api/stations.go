package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skybi/report-server/internal/api/schema"
	"github.com/skybi/report-server/internal/station"
)

// EndpointGetStation handles the 'GET /v1/station/{location}' endpoint.
// The location is either an ICAO-style station code or a 'lat,lon' coordinate pair,
// in which case the station closest to the given point is returned.
func (service *Service) EndpointGetStation(writer http.ResponseWriter, request *http.Request) {
	obj, schemaErr, status := service.resolveLocation(chi.URLParam(request, "location"))
	if schemaErr != nil {
		service.writer.WriteErrors(writer, status, schemaErr)
		return
	}
	if !service.admitRequest(writer, request) {
		return
	}
	service.writer.WriteJSON(writer, obj)
}

// EndpointGetNearStations handles the 'GET /v1/station/near/{coordinate}?n={number?:10}' endpoint.
// It returns the n stations closest to the given 'lat,lon' pair, ordered by ascending distance.
func (service *Service) EndpointGetNearStations(writer http.ResponseWriter, request *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(request, "coordinate"))
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		service.writer.WriteErrors(writer, http.StatusBadRequest, errInvalidLocation(raw))
		return
	}
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if latErr != nil || lonErr != nil {
		service.writer.WriteErrors(writer, http.StatusBadRequest, errInvalidLocation(raw))
		return
	}

	n, validationErr := schema.QueryNumber(request, "n", false, 10, 1, 50)
	if validationErr != nil {
		service.writer.WriteErrors(writer, http.StatusBadRequest, validationErr)
		return
	}

	near, err := service.Index.Nearest(lat, lon, int(n))
	if err != nil {
		switch {
		case errors.Is(err, station.ErrInvalidCoordinate):
			service.writer.WriteErrors(writer, http.StatusBadRequest, errCoordinateOutOfRange(lat, lon))
		case errors.Is(err, station.ErrNotLoaded):
			service.writer.WriteErrors(writer, http.StatusServiceUnavailable, errIndexNotLoaded)
		default:
			service.writer.WriteInternalError(writer, err)
		}
		return
	}

	if !service.admitRequest(writer, request) {
		return
	}

	service.writer.WriteJSON(writer, schema.BuildPaginatedResponse(0, uint64(n), uint64(service.Index.Size()), near))
}
