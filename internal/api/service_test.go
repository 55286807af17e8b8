package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skybi/report-server/internal/account"
	"github.com/skybi/report-server/internal/account/quota"
	"github.com/skybi/report-server/internal/api/schema"
	"github.com/skybi/report-server/internal/bitflag"
	"github.com/skybi/report-server/internal/config"
	"github.com/skybi/report-server/internal/report"
	"github.com/skybi/report-server/internal/report/cache"
	"github.com/skybi/report-server/internal/station"
	"github.com/skybi/report-server/internal/storage/inmem"
	"github.com/skybi/report-server/internal/upstream"
)

// fakeFetcher implements the upstream.Fetcher interface with canned responses
type fakeFetcher struct {
	fetchCalls int32
	parseCalls int32
	err        error
}

var _ upstream.Fetcher = (*fakeFetcher)(nil)

func (fetcher *fakeFetcher) FetchReport(_ context.Context, typ report.Type, obj *station.Station, _ report.Options) (json.RawMessage, error) {
	atomic.AddInt32(&fetcher.fetchCalls, 1)
	if fetcher.err != nil {
		return nil, fetcher.err
	}
	return json.RawMessage(fmt.Sprintf(`{"type":"%s","station":"%s"}`, typ, obj.ICAO)), nil
}

func (fetcher *fakeFetcher) ParseReport(_ context.Context, typ report.Type, raw string, _ report.Options) (json.RawMessage, error) {
	atomic.AddInt32(&fetcher.parseCalls, 1)
	if fetcher.err != nil {
		return nil, fetcher.err
	}
	return json.RawMessage(fmt.Sprintf(`{"type":"%s","raw":%q}`, typ, raw)), nil
}

// testSource implements the station.Source interface with a fixed station list
type testSource struct{}

func (testSource) ListAllStations(_ context.Context) ([]*station.Station, error) {
	return []*station.Station{
		{ICAO: "KJFK", Name: "John F Kennedy International Airport", Country: "US", Latitude: 40.6398, Longitude: -73.7789, Elevation: 4},
		{ICAO: "KLGA", Name: "LaGuardia Airport", Country: "US", Latitude: 40.7772, Longitude: -73.8726, Elevation: 6},
		{ICAO: "EGLL", Name: "London Heathrow Airport", Country: "GB", Latitude: 51.4706, Longitude: -0.4619, Elevation: 25},
	}, nil
}

type testEnv struct {
	service *Service
	server  *httptest.Server
	driver  *inmem.Driver
	fetcher *fakeFetcher
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	driver := inmem.New()
	if err := driver.Initialize(context.Background()); err != nil {
		t.Fatalf("could not initialize the in-memory storage driver: %v", err)
	}

	index := station.NewIndex(testSource{})
	if err := index.Load(context.Background()); err != nil {
		t.Fatalf("could not build the station index: %v", err)
	}

	cfg := &config.Config{
		CacheTTL:       2 * time.Minute,
		QuotaWindow:    time.Hour,
		AllowAnonymous: false,
		AnonymousLimit: 2,
	}
	if mutate != nil {
		mutate(cfg)
	}

	fetcher := &fakeFetcher{}
	service := &Service{
		Config:  cfg,
		Storage: driver,
		Ledger:  quota.NewLedger(driver.Accounts(), cfg.QuotaWindow),
		Index:   index,
		Cache:   cache.New(cfg.CacheTTL),
		Fetcher: fetcher,
		writer: &schema.Writer{
			InternalErrorHook: func(err error) {
				t.Logf("internal API error: %v", err)
			},
		},
	}

	router := chi.NewRouter()
	service.registerEndpoints(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{
		service: service,
		server:  server,
		driver:  driver,
		fetcher: fetcher,
	}
}

func (env *testEnv) createAccount(t *testing.T, limit int64, caps bitflag.Container) (*account.Account, string) {
	t.Helper()
	acc, token, err := env.driver.Accounts().Create(context.Background(), &account.Create{
		Name:         "test",
		Plan:         "basic",
		Limit:        limit,
		Capabilities: caps,
	})
	if err != nil {
		t.Fatalf("could not create the test account: %v", err)
	}
	return acc, token
}

func (env *testEnv) request(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("could not build the request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("could not read the response body: %v", err)
	}
	decoded := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("could not decode the response body %q: %v", raw, err)
		}
	}
	return response.StatusCode, decoded
}

func errorType(t *testing.T, body map[string]any) string {
	t.Helper()
	raw, ok := body["errors"].([]any)
	if !ok || len(raw) == 0 {
		t.Fatalf("response carries no errors: %v", body)
	}
	return raw[0].(map[string]any)["type"].(string)
}

func TestService_GetReport_FetchesAndCaches(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.createAccount(t, 100, account.DefaultCapabilities)

	status, body := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, "")
	if status != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", status)
	}
	meta := body["meta"].(map[string]any)
	if meta["cached"] != false {
		t.Error("first request meta.cached = true, want false")
	}
	if meta["station"] != "KJFK" {
		t.Errorf("first request meta.station = %v, want KJFK", meta["station"])
	}

	status, body = env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, "")
	if status != http.StatusOK {
		t.Fatalf("second request status = %d, want 200", status)
	}
	if body["meta"].(map[string]any)["cached"] != true {
		t.Error("second request meta.cached = false, want true")
	}
	if n := atomic.LoadInt32(&env.fetcher.fetchCalls); n != 1 {
		t.Errorf("upstream fetch count = %d, want 1", n)
	}
}

func TestService_GetReport_CoordinateSharesCacheEntryWithCode(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.createAccount(t, 100, account.DefaultCapabilities)

	if status, _ := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, ""); status != http.StatusOK {
		t.Fatalf("code request status = %d, want 200", status)
	}

	// The same station requested by coordinates hits the entry fetched by code
	status, body := env.request(t, http.MethodGet, "/v1/report/metar/40.64,-73.78", token, "")
	if status != http.StatusOK {
		t.Fatalf("coordinate request status = %d, want 200", status)
	}
	meta := body["meta"].(map[string]any)
	if meta["cached"] != true {
		t.Error("coordinate request meta.cached = false, want true")
	}
	if meta["station"] != "KJFK" {
		t.Errorf("coordinate request meta.station = %v, want KJFK", meta["station"])
	}
	if n := atomic.LoadInt32(&env.fetcher.fetchCalls); n != 1 {
		t.Errorf("upstream fetch count = %d, want 1", n)
	}
}

func TestService_GetReport_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.createAccount(t, 100, account.DefaultCapabilities)

	status, body := env.request(t, http.MethodGet, "/v1/report/pirep/KJFK", token, "")
	if status != http.StatusBadRequest || errorType(t, body) != "report.unknownType" {
		t.Errorf("unknown type = (%d, %s), want (400, report.unknownType)", status, errorType(t, body))
	}

	status, body = env.request(t, http.MethodGet, "/v1/report/metar/KJFK?options=shout", token, "")
	if status != http.StatusBadRequest || errorType(t, body) != "report.unknownOption" {
		t.Errorf("unknown option = (%d, %s), want (400, report.unknownOption)", status, errorType(t, body))
	}

	status, body = env.request(t, http.MethodGet, "/v1/report/metar/notastation", token, "")
	if status != http.StatusBadRequest || errorType(t, body) != "station.invalidLocation" {
		t.Errorf("invalid location = (%d, %s), want (400, station.invalidLocation)", status, errorType(t, body))
	}

	status, body = env.request(t, http.MethodGet, "/v1/report/metar/91.0,0.0", token, "")
	if status != http.StatusBadRequest || errorType(t, body) != "station.coordinateOutOfRange" {
		t.Errorf("out-of-range coordinate = (%d, %s), want (400, station.coordinateOutOfRange)", status, errorType(t, body))
	}

	status, body = env.request(t, http.MethodGet, "/v1/report/metar/XXXX", token, "")
	if status != http.StatusNotFound || errorType(t, body) != "station.notFound" {
		t.Errorf("unknown station = (%d, %s), want (404, station.notFound)", status, errorType(t, body))
	}
}

func TestService_GetReport_EngineUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fetcher.err = upstream.ErrUnavailable
	_, token := env.createAccount(t, 100, account.DefaultCapabilities)

	status, body := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, "")
	if status != http.StatusServiceUnavailable || errorType(t, body) != "report.engineUnavailable" {
		t.Errorf("unavailable engine = (%d, %s), want (503, report.engineUnavailable)", status, errorType(t, body))
	}
}

func TestService_Authentication(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", "", "")
	if status != http.StatusUnauthorized || errorType(t, body) != "access.unauthorized" {
		t.Errorf("missing token = (%d, %s), want (401, access.unauthorized)", status, errorType(t, body))
	}

	status, body = env.request(t, http.MethodGet, "/v1/report/metar/KJFK", "definitely-not-a-token", "")
	if status != http.StatusUnauthorized || errorType(t, body) != "access.unauthorized" {
		t.Errorf("unknown token = (%d, %s), want (401, access.unauthorized)", status, errorType(t, body))
	}

	acc, token := env.createAccount(t, 100, account.DefaultCapabilities)
	acc.Active = false
	status, body = env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, "")
	if status != http.StatusUnauthorized || errorType(t, body) != "access.accountDisabled" {
		t.Errorf("disabled account = (%d, %s), want (401, access.accountDisabled)", status, errorType(t, body))
	}
}

func TestService_TokenViaQueryParameter(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.createAccount(t, 100, account.DefaultCapabilities)

	status, _ := env.request(t, http.MethodGet, "/v1/report/metar/KJFK?token="+url.QueryEscape(token), "", "")
	if status != http.StatusOK {
		t.Errorf("query token request status = %d, want 200", status)
	}
}

func TestService_CapabilityEnforcement(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.createAccount(t, 100, bitflag.EmptyContainer.With(account.CapabilityFetchReports))

	// Fetching works, parsing is out of the account's capability set
	if status, _ := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, ""); status != http.StatusOK {
		t.Errorf("fetch request status = %d, want 200", status)
	}
	status, body := env.request(t, http.MethodPost, "/v1/parse/metar", token, "KJFK 251651Z 24008KT 10SM FEW055 25/14 A3005")
	if status != http.StatusForbidden || errorType(t, body) != "access.insufficientCapabilities" {
		t.Errorf("parse request = (%d, %s), want (403, access.insufficientCapabilities)", status, errorType(t, body))
	}
}

func TestService_QuotaEnforcement(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.createAccount(t, 2, account.DefaultCapabilities)

	for i := 0; i < 2; i++ {
		if status, _ := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, ""); status != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, status)
		}
	}

	status, body := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, "")
	if status != http.StatusTooManyRequests || errorType(t, body) != "access.rateLimited" {
		t.Errorf("exhausted account = (%d, %s), want (429, access.rateLimited)", status, errorType(t, body))
	}

	// Rejections never consume cache or upstream work
	if n := atomic.LoadInt32(&env.fetcher.fetchCalls); n != 1 {
		t.Errorf("upstream fetch count = %d, want 1", n)
	}
}

func TestService_InvalidInputDoesNotConsumeQuota(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.createAccount(t, 1, account.DefaultCapabilities)

	// Rejected input never reaches the admission step
	rejected := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/v1/report/pirep/KJFK", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/report/metar/notacode", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/report/metar/91.0,0.0", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/report/metar/XXXX", "", http.StatusNotFound},
		{http.MethodPost, "/v1/parse/metar", `{"raw": "already parsed"}`, http.StatusBadRequest},
		{http.MethodGet, "/v1/station/garbage!", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/station/near/garbage", "", http.StatusBadRequest},
	}
	for _, tc := range rejected {
		if status, _ := env.request(t, tc.method, tc.path, token, tc.body); status != tc.status {
			t.Errorf("%s %s status = %d, want %d", tc.method, tc.path, status, tc.status)
		}
	}

	// The account's single window unit is still available for a well-formed request
	if status, _ := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, ""); status != http.StatusOK {
		t.Errorf("valid request after rejected ones status = %d, want 200", status)
	}
	if status, _ := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, ""); status != http.StatusTooManyRequests {
		t.Errorf("request past the limit status = %d, want 429", status)
	}
}

func TestService_AnonymousAccess(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.AllowAnonymous = true
		cfg.AnonymousLimit = 2
	})

	for i := 0; i < 2; i++ {
		if status, _ := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", "", ""); status != http.StatusOK {
			t.Fatalf("anonymous request %d status = %d, want 200", i+1, status)
		}
	}
	if status, _ := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", "", ""); status != http.StatusTooManyRequests {
		t.Errorf("exhausted anonymous client status = %d, want 429", status)
	}

	// The account endpoint stays closed to anonymous clients
	if status, _ := env.request(t, http.MethodGet, "/v1/account", "", ""); status != http.StatusUnauthorized {
		t.Errorf("anonymous account request status = %d, want 401", status)
	}
}

func TestService_ParseReport(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.createAccount(t, 100, account.DefaultCapabilities)

	raw := "KJFK 251651Z 24008KT 10SM FEW055 25/14 A3005"
	status, body := env.request(t, http.MethodPost, "/v1/parse/metar", token, raw)
	if status != http.StatusOK {
		t.Fatalf("parse request status = %d, want 200", status)
	}
	if data := body["data"].(map[string]any); data["raw"] != raw {
		t.Errorf("parse response data.raw = %v, want the submitted report", data["raw"])
	}

	status, body = env.request(t, http.MethodPost, "/v1/parse/metar", token, `{"raw": "already parsed"}`)
	if status != http.StatusBadRequest || errorType(t, body) != "report.notARawReport" {
		t.Errorf("JSON body = (%d, %s), want (400, report.notARawReport)", status, errorType(t, body))
	}

	status, body = env.request(t, http.MethodPost, "/v1/parse/metar", token, "ab")
	if status != http.StatusBadRequest || errorType(t, body) != "report.notARawReport" {
		t.Errorf("tiny body = (%d, %s), want (400, report.notARawReport)", status, errorType(t, body))
	}
}

func TestService_GetStation(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.createAccount(t, 100, account.DefaultCapabilities)

	status, body := env.request(t, http.MethodGet, "/v1/station/egll", token, "")
	if status != http.StatusOK {
		t.Fatalf("station request status = %d, want 200", status)
	}
	if body["icao"] != "EGLL" {
		t.Errorf("station response icao = %v, want EGLL", body["icao"])
	}

	// Coordinates resolve to the closest station
	status, body = env.request(t, http.MethodGet, "/v1/station/40.7580,-73.9855", token, "")
	if status != http.StatusOK {
		t.Fatalf("coordinate station request status = %d, want 200", status)
	}
	if body["icao"] != "KLGA" {
		t.Errorf("coordinate station response icao = %v, want KLGA", body["icao"])
	}
}

func TestService_GetNearStations(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.createAccount(t, 100, account.DefaultCapabilities)

	status, body := env.request(t, http.MethodGet, "/v1/station/near/40.7580,-73.9855?n=2", token, "")
	if status != http.StatusOK {
		t.Fatalf("near request status = %d, want 200", status)
	}
	data := body["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("near response length = %d, want 2", len(data))
	}
	first := data[0].(map[string]any)["station"].(map[string]any)
	if first["icao"] != "KLGA" {
		t.Errorf("near response [0] = %v, want KLGA", first["icao"])
	}

	status, _ = env.request(t, http.MethodGet, "/v1/station/near/garbage", token, "")
	if status != http.StatusBadRequest {
		t.Errorf("invalid near coordinate status = %d, want 400", status)
	}
}

func TestService_GetAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	acc, token := env.createAccount(t, 50, account.DefaultCapabilities)

	if status, _ := env.request(t, http.MethodGet, "/v1/report/metar/KJFK", token, ""); status != http.StatusOK {
		t.Fatal("warm-up report request failed")
	}

	status, body := env.request(t, http.MethodGet, "/v1/account", token, "")
	if status != http.StatusOK {
		t.Fatalf("account request status = %d, want 200", status)
	}
	obj := body["account"].(map[string]any)
	if obj["id"] != acc.ID.String() {
		t.Errorf("account response id = %v, want %v", obj["id"], acc.ID)
	}
	window := body["window"].(map[string]any)
	if window["used"] != float64(1) {
		t.Errorf("account response window.used = %v, want 1", window["used"])
	}
	if window["limit"] != float64(50) {
		t.Errorf("account response window.limit = %v, want 50", window["limit"])
	}
}
