package station

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/rs/zerolog/log"
	"github.com/skybi/report-server/internal/task"
)

var dbSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"stations": {
			Name: "stations",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:         "id",
					Unique:       true,
					AllowMissing: false,
					Indexer:      &memdb.StringFieldIndex{Field: "ICAO"},
				},
				"country": {
					Name:         "country",
					Unique:       false,
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "Country"},
				},
			},
		},
	},
}

// Index resolves station codes and coordinate pairs to canonical stations.
// The whole index is an immutable snapshot that is swapped atomically on refresh; resolutions that are already
// running keep operating on the snapshot they started with.
type Index struct {
	source Source

	mtx sync.RWMutex
	db  *memdb.MemDB

	refreshTask *task.RepeatingTask
}

// NewIndex creates a new unloaded station index.
// Use Load to build the first snapshot before serving resolutions.
func NewIndex(source Source) *Index {
	return &Index{
		source: source,
	}
}

// Load retrieves the complete station list from the source and swaps in a new index snapshot
func (index *Index) Load(ctx context.Context) error {
	stations, err := index.source.ListAllStations(ctx)
	if err != nil {
		return err
	}

	db, err := memdb.NewMemDB(dbSchema)
	if err != nil {
		return err
	}
	txn := db.Txn(true)
	for _, obj := range stations {
		if err := txn.Insert("stations", obj); err != nil {
			txn.Abort()
			return err
		}
	}
	txn.Commit()

	index.mtx.Lock()
	index.db = db
	index.mtx.Unlock()
	return nil
}

// ScheduleRefresh schedules the task that periodically rebuilds the index snapshot.
// A failing refresh keeps the previous snapshot in place.
func (index *Index) ScheduleRefresh(interval time.Duration) {
	if index.refreshTask != nil {
		return
	}
	index.refreshTask = task.NewRepeating(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := index.Load(ctx); err != nil {
			log.Error().Err(err).Msg("could not refresh the station index")
			return
		}
		log.Debug().Int("amount", index.Size()).Msg("refreshed the station index")
	}, interval)
	index.refreshTask.Start()
}

// StopRefresh stops the periodic index refresh task
func (index *Index) StopRefresh() {
	if index.refreshTask == nil {
		return
	}
	index.refreshTask.Stop(false)
	index.refreshTask = nil
}

// Size returns the amount of stations in the current snapshot
func (index *Index) Size() int {
	txn, err := index.snapshot()
	if err != nil {
		return 0
	}
	it, err := txn.Get("stations", "id")
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}

// ResolveCode resolves a station by its ICAO code (case-insensitive)
func (index *Index) ResolveCode(code string) (*Station, error) {
	txn, err := index.snapshot()
	if err != nil {
		return nil, err
	}
	obj, err := txn.First("stations", "id", strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrNotFound
	}
	return obj.(*Station), nil
}

// ResolveCoordinate resolves the station closest to the given coordinate pair.
// Equidistant candidates are broken deterministically towards the lexicographically smallest ICAO code.
func (index *Index) ResolveCoordinate(lat, lon float64) (*Station, error) {
	near, err := index.Nearest(lat, lon, 1)
	if err != nil {
		return nil, err
	}
	if len(near) == 0 {
		// The index is assumed non-empty; an empty snapshot equals an unloaded one
		return nil, ErrNotLoaded
	}
	return near[0].Station, nil
}

// Nearest returns the n stations closest to the given coordinate pair, ordered by ascending distance
func (index *Index) Nearest(lat, lon float64, n int) ([]*Distance, error) {
	if !ValidCoordinate(lat, lon) {
		return nil, ErrInvalidCoordinate
	}
	txn, err := index.snapshot()
	if err != nil {
		return nil, err
	}

	it, err := txn.Get("stations", "id")
	if err != nil {
		return nil, err
	}
	distances := []*Distance{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		cur := obj.(*Station)
		distances = append(distances, &Distance{
			Station:    cur,
			Kilometers: haversine(lat, lon, cur.Latitude, cur.Longitude),
		})
	}

	// The 'id' index iterates in ICAO order, so a stable sort keeps equidistant stations deterministic
	sort.SliceStable(distances, func(i, j int) bool {
		return distances[i].Kilometers < distances[j].Kilometers
	})
	if n > 0 && len(distances) > n {
		distances = distances[:n]
	}
	return distances, nil
}

// snapshot returns a read transaction on the current index snapshot
func (index *Index) snapshot() (*memdb.Txn, error) {
	index.mtx.RLock()
	db := index.db
	index.mtx.RUnlock()
	if db == nil {
		return nil, ErrNotLoaded
	}
	return db.Txn(false), nil
}

const earthRadiusKm = 6371.0088

// haversine computes the great-circle distance between two coordinate pairs in kilometers
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
