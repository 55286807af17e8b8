package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skybi/report-server/internal/station"
)

// Source implements the station.Source interface using a bulk JSON document served over HTTP.
// The document is expected to be an array of station objects as emitted by the geocoding exporter.
type Source struct {
	url    string
	client *http.Client
}

var _ station.Source = (*Source)(nil)

// New creates a new HTTP station source
func New(url string) *Source {
	return &Source{
		url: url,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// ListAllStations downloads and decodes the complete station list.
// Entries without a usable ICAO code or coordinate pair are skipped.
func (source *Source) ListAllStations(ctx context.Context) ([]*station.Station, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, source.url, nil)
	if err != nil {
		return nil, err
	}
	response, err := source.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("the station source responded with status %d", response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	var raw []*station.Station
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	stations := make([]*station.Station, 0, len(raw))
	skipped := 0
	for _, obj := range raw {
		obj.ICAO = strings.ToUpper(strings.TrimSpace(obj.ICAO))
		if !station.CodeRegex.MatchString(obj.ICAO) || !station.ValidCoordinate(obj.Latitude, obj.Longitude) {
			skipped++
			continue
		}
		stations = append(stations, obj)
	}
	if skipped > 0 {
		log.Warn().Int("amount", skipped).Msg("skipped station source entries with invalid code or coordinates")
	}
	return stations, nil
}
