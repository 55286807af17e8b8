package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"github.com/skybi/report-server/internal/account"
	"github.com/skybi/report-server/internal/account/quota"
	"github.com/skybi/report-server/internal/api/schema"
	"github.com/skybi/report-server/internal/config"
	"github.com/skybi/report-server/internal/function"
	"github.com/skybi/report-server/internal/metrics"
	"github.com/skybi/report-server/internal/report/cache"
	"github.com/skybi/report-server/internal/station"
	"github.com/skybi/report-server/internal/storage"
	"github.com/skybi/report-server/internal/upstream"
)

// Service represents the report API service
type Service struct {
	server *http.Server

	Config  *config.Config
	Storage storage.Driver
	Ledger  *quota.Ledger
	Index   *station.Index
	Cache   *cache.Cache
	Fetcher upstream.Fetcher

	writer *schema.Writer
}

// Startup starts up the report API
func (service *Service) Startup(errs chan<- error) {
	// Create the HTTP schema writer
	service.writer = &schema.Writer{
		InternalErrorHook: func(err error) {
			log.Error().Err(err).Msg("the report API experienced an unexpected error")
		},
	}

	// Create the HTTP router
	router := chi.NewRouter()
	router.Use(middleware.RedirectSlashes)
	router.Use(service.middlewareMetrics)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://*", "https://*"},
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))
	router.NotFound(func(writer http.ResponseWriter, _ *http.Request) {
		service.writer.WriteErrors(writer, http.StatusNotFound, schema.ErrNotFound)
	})
	router.MethodNotAllowed(func(writer http.ResponseWriter, _ *http.Request) {
		service.writer.WriteErrors(writer, http.StatusMethodNotAllowed, schema.ErrMethodNotAllowed)
	})

	// Register the API endpoint handlers
	service.registerEndpoints(router)

	// Start up the server
	server := &http.Server{
		Addr:    service.Config.ListenAddress,
		Handler: router,
	}
	service.server = server
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
}

// Shutdown shuts down the report API
func (service *Service) Shutdown() {
	if service.server != nil {
		service.server.Close()
		service.server = nil
	}
}

func (service *Service) registerEndpoints(router chi.Router) {
	// Register the account information endpoint
	router.Get("/v1/account", function.Nest[http.HandlerFunc](
		service.EndpointGetAccount,
		service.MiddlewareVerifyToken,
		service.MiddlewareRequireAccount,
	))

	// Register the report controller endpoints
	// Quota admission is not part of the middleware chain; the handlers admit themselves once the
	// input is validated and the station resolved, so rejected input never counts against the window
	router.Get("/v1/report/{type}/{location}", function.Nest[http.HandlerFunc](
		service.EndpointGetReport,
		service.MiddlewareVerifyToken,
		service.MiddlewareVerifyCapabilities(account.CapabilityFetchReports),
	))
	router.Post("/v1/parse/{type}", function.Nest[http.HandlerFunc](
		service.EndpointParseReport,
		service.MiddlewareVerifyToken,
		service.MiddlewareVerifyCapabilities(account.CapabilityParseReports),
	))

	// Register the station controller endpoints
	router.Get("/v1/station/near/{coordinate}", function.Nest[http.HandlerFunc](
		service.EndpointGetNearStations,
		service.MiddlewareVerifyToken,
	))
	router.Get("/v1/station/{location}", function.Nest[http.HandlerFunc](
		service.EndpointGetStation,
		service.MiddlewareVerifyToken,
	))

	// Register the metrics endpoint
	router.Handle("/metrics", metrics.Handler())
}

// middlewareMetrics records the request counter & latency histogram for every served request
func (service *Service) middlewareMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(writer, request.ProtoMajor)
		next.ServeHTTP(wrapped, request)

		route := chi.RouteContext(request.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(request.Method, route, strconv.Itoa(wrapped.Status())).Inc()
		metrics.RequestDuration.WithLabelValues(request.Method, route).Observe(time.Since(start).Seconds())
	})
}
