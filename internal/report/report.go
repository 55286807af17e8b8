package report

import (
	"fmt"
	"sort"
	"strings"
)

// Type represents a supported report type
type Type string

const (
	TypeMETAR Type = "metar"
	TypeTAF   Type = "taf"
)

// Types holds all supported report types
var Types = []Type{TypeMETAR, TypeTAF}

// ParseType parses a report type out of its string representation
func ParseType(raw string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeMETAR:
		return TypeMETAR, true
	case TypeTAF:
		return TypeTAF, true
	}
	return "", false
}

// optionKeys holds the output options the parsing engine understands
var optionKeys = map[string]struct{}{
	"info":      {},
	"translate": {},
	"summary":   {},
	"speech":    {},
}

// UnknownOptionError is returned whenever an unsupported output option is requested
type UnknownOptionError struct {
	Option string
}

func (err *UnknownOptionError) Error() string {
	return fmt.Sprintf("unknown report option '%s'", err.Option)
}

// Options represents a normalized (sorted, deduplicated, lowercased) set of requested output options.
// Two requests asking for the same options in any form or order produce equal Options values.
type Options []string

// ParseOptions parses and normalizes a comma-separated option list
func ParseOptions(raw string) (Options, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Options{}, nil
	}

	seen := map[string]struct{}{}
	opts := Options{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if _, ok := optionKeys[part]; !ok {
			return nil, &UnknownOptionError{Option: part}
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		opts = append(opts, part)
	}
	sort.Strings(opts)
	return opts, nil
}

// String returns the canonical comma-joined representation
func (opts Options) String() string {
	return strings.Join(opts, ",")
}

// Key identifies a cacheable unit of work: one report type for one resolved station with one option set.
// It is comparable and independent of whether the station was requested by code or by coordinates.
type Key struct {
	Type      Type
	StationID string
	Options   string
}

// NewKey builds a cache key from a resolved station ID and normalized options
func NewKey(typ Type, stationID string, opts Options) Key {
	return Key{
		Type:      typ,
		StationID: strings.ToUpper(stationID),
		Options:   opts.String(),
	}
}
