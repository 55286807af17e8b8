package api

import (
	"fmt"
	"time"

	"github.com/skybi/report-server/internal/api/schema"
	"github.com/skybi/report-server/internal/bitflag"
	"github.com/skybi/report-server/internal/report"
)

var (
	errAccountDisabled = &schema.Error{
		Type:    "access.accountDisabled",
		Message: "The account belonging to the specified token is disabled.",
		Details: nil,
	}
	errInsufficientCapabilities = func(provided, required bitflag.Container) *schema.Error {
		return &schema.Error{
			Type:    "access.insufficientCapabilities",
			Message: "The specified account lacks at least one capability required for this action.",
			Details: map[string]any{
				"provided": provided,
				"required": required,
				"missing":  required & ^provided,
			},
		}
	}
	errRateLimited = func(limit, used int64, resetsAt time.Time) *schema.Error {
		return &schema.Error{
			Type:    "access.rateLimited",
			Message: fmt.Sprintf("The request limit for the current window is exhausted (max. %d requests).", limit),
			Details: map[string]any{
				"limit":     limit,
				"used":      used,
				"resets_at": resetsAt,
			},
		}
	}
	errUnknownReportType = func(raw string) *schema.Error {
		return &schema.Error{
			Type:    "report.unknownType",
			Message: fmt.Sprintf("The report type '%s' is not supported.", raw),
			Details: map[string]any{
				"given":     raw,
				"supported": report.Types,
			},
		}
	}
	errUnknownReportOption = func(opt string) *schema.Error {
		return &schema.Error{
			Type:    "report.unknownOption",
			Message: fmt.Sprintf("The report option '%s' is not supported.", opt),
			Details: map[string]any{
				"given": opt,
			},
		}
	}
	errInvalidLocation = func(raw string) *schema.Error {
		return &schema.Error{
			Type:    "station.invalidLocation",
			Message: fmt.Sprintf("'%s' is neither a station code nor a coordinate pair.", raw),
			Details: map[string]any{
				"given": raw,
			},
		}
	}
	errCoordinateOutOfRange = func(lat, lon float64) *schema.Error {
		return &schema.Error{
			Type:    "station.coordinateOutOfRange",
			Message: "The given coordinate pair is out of the valid range (lat [-90,90], lon [-180,180]).",
			Details: map[string]any{
				"latitude":  lat,
				"longitude": lon,
			},
		}
	}
	errStationNotFound = func(code string) *schema.Error {
		return &schema.Error{
			Type:    "station.notFound",
			Message: fmt.Sprintf("No station with the code '%s' exists.", code),
			Details: map[string]any{
				"code": code,
			},
		}
	}
	errIndexNotLoaded = &schema.Error{
		Type:    "station.indexNotLoaded",
		Message: "The station index has not been loaded yet. Try again in a moment.",
		Details: nil,
	}
	errEngineUnavailable = &schema.Error{
		Type:    "report.engineUnavailable",
		Message: "The report could not be fetched from the upstream source. Try again later.",
		Details: nil,
	}
	errEngineRejected = func(message string) *schema.Error {
		return &schema.Error{
			Type:    "report.engineRejected",
			Message: "The parsing engine rejected the report request.",
			Details: map[string]any{
				"reason": message,
			},
		}
	}
	errNotARawReport = &schema.Error{
		Type:    "report.notARawReport",
		Message: "The request body doesn't look like a raw report string.",
		Details: nil,
	}
)
