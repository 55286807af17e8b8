package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/skybi/report-server/internal/account/quota"
	"github.com/skybi/report-server/internal/api"
	"github.com/skybi/report-server/internal/config"
	"github.com/skybi/report-server/internal/report/cache"
	"github.com/skybi/report-server/internal/station"
	"github.com/skybi/report-server/internal/station/remote"
	"github.com/skybi/report-server/internal/storage"
	storagecache "github.com/skybi/report-server/internal/storage/cache"
	"github.com/skybi/report-server/internal/storage/inmem"
	"github.com/skybi/report-server/internal/storage/postgres"
	"github.com/skybi/report-server/internal/task"
	"github.com/skybi/report-server/internal/upstream"
)

func main() {
	// Set up zerolog to use pretty printing
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out: os.Stderr,
	})
	log.Info().Msg("starting up...")

	// Load the application configuration
	log.Info().Msg("loading configuration...")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load the configuration")
	}
	if cfg.IsEnvProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Debug().Str("config", fmt.Sprintf("%+v", cfg)).Msg("")

	// Initialize the account storage driver
	log.Info().Str("driver", cfg.StorageDriver).Msg("initializing account storage...")
	var underlying storage.Driver
	switch strings.ToLower(cfg.StorageDriver) {
	case "postgres":
		underlying = postgres.New(cfg.PostgresDSN)
	case "memory":
		log.Warn().Msg("using the in-memory account storage driver; accounts will not survive a restart")
		underlying = inmem.New()
	default:
		log.Fatal().Str("driver", cfg.StorageDriver).Msg("unknown account storage driver")
	}
	if err := underlying.Initialize(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("could not initialize the account storage driver")
	}
	defer underlying.Close()
	driver := storagecache.New(underlying)
	if err := driver.Initialize(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("could not initialize the caching storage driver")
	}
	defer driver.Close()

	// Create the quota ledger and schedule the task that flushes accumulated usage
	ledger := quota.NewLedger(driver.Accounts(), cfg.QuotaWindow)
	flushingTask := task.NewRepeating(func() {
		n, err := ledger.Flush()
		if err != nil {
			log.Error().Err(err).Msg("could not flush accumulated account usage")
		} else if n > 0 {
			log.Debug().Int("amount", n).Msg("flushed accumulated account usage")
		}
	}, cfg.QuotaFlushInterval)
	flushingTask.Start()
	defer flushingTask.Stop(true)

	// Build the station index and schedule its periodic refresh
	log.Info().Str("source", cfg.StationSourceURL).Msg("building the station index...")
	index := station.NewIndex(remote.New(cfg.StationSourceURL))
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), time.Minute)
	if err := index.Load(loadCtx); err != nil {
		// The API degrades to 503s on resolution until the first refresh succeeds
		log.Error().Err(err).Msg("could not build the station index; retrying periodically")
	} else {
		log.Info().Int("amount", index.Size()).Msg("built the station index")
	}
	cancelLoad()
	index.ScheduleRefresh(cfg.StationRefreshInterval)
	defer index.StopRefresh()

	// Create the report cache and the parsing engine adapter
	reportCache := cache.New(cfg.CacheTTL)
	if cfg.CacheSweepInterval > 0 {
		reportCache.ScheduleSweep(cfg.CacheSweepInterval)
		defer reportCache.StopSweep()
	}
	fetcher := upstream.NewClient(cfg.EngineBaseURL, cfg.EngineTimeout)

	// Start up the report API
	log.Info().Str("address", cfg.ListenAddress).Msg("starting up the report API...")
	service := &api.Service{
		Config:  cfg,
		Storage: driver,
		Ledger:  ledger,
		Index:   index,
		Cache:   reportCache,
		Fetcher: fetcher,
	}
	apiErrs := make(chan error, 1)
	service.Startup(apiErrs)
	go func() {
		err := <-apiErrs
		log.Fatal().Err(err).Msg("the report API raised an unexpected error")
	}()
	defer func() {
		log.Info().Msg("shutting down the report API...")
		service.Shutdown()
	}()

	log.Info().Msg("done!")
	defer log.Info().Msg("shutting down...")

	// Wait for the application to be terminated
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt)
	<-shutdown
}
