package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/analyzer/internal/catalog"
	"github.com/JonMunkholm/analyzer/internal/config"
	"github.com/JonMunkholm/analyzer/internal/country"
	"github.com/JonMunkholm/analyzer/internal/ingest"
	"github.com/JonMunkholm/analyzer/internal/storage/sqlite"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second, ShutdownTimeout: time.Second},
		Import:  config.ImportConfig{MaxFileSize: 1 << 20, MaxConcurrent: 2, MaxWait: time.Second},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

// newTestServer serves a catalog backed by an in-memory SQLite database.
func newTestServer(t *testing.T, cfg *config.Config) (*Server, *catalog.Catalog) {
	t.Helper()
	ctx := context.Background()

	repo, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	cat, err := catalog.Load(ctx, repo)
	require.NoError(t, err)
	return NewServer(cat, repo, cfg), cat
}

func seedScenario(t *testing.T, cat *catalog.Catalog) {
	t.Helper()
	ctx := context.Background()
	for _, c := range []country.Country{
		{Code: "USA", Name: "United States", InternetUsers: country.MustRate("87.50"), AdultLiteracyRate: country.MustRate("99.00")},
		{Code: "CHN", Name: "China", InternetUsers: country.MustRate("54.30"), AdultLiteracyRate: country.MustRate("96.40")},
		{Code: "NER", Name: "Niger", InternetUsers: country.MustRate("5.00"), AdultLiteracyRate: country.MustRate("19.10")},
		{Code: "XXX", Name: "Unmeasured"},
	} {
		require.NoError(t, cat.Create(ctx, c))
	}
}

func do(t *testing.T, s *Server, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeCountryBody(t *testing.T, rec *httptest.ResponseRecorder) country.Country {
	t.Helper()
	var req countryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))
	c, err := req.toCountry()
	require.NoError(t, err)
	return c
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Code
}

func TestCountryCRUD(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodPost, "/api/countries",
		strings.NewReader(`{"code":"USA","name":"United States","internet_users":87.50,"adult_literacy_rate":"99"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/countries/USA", rec.Header().Get("Location"))

	rec = do(t, srv, http.MethodGet, "/api/countries/USA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeCountryBody(t, rec)
	assert.Equal(t, "87.5", country.RateString(got.InternetUsers))
	assert.Equal(t, "99", country.RateString(got.AdultLiteracyRate))

	rec = do(t, srv, http.MethodPost, "/api/countries", strings.NewReader(`{"code":"USA","name":"Again"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CAT002", errorCode(t, rec))

	rec = do(t, srv, http.MethodPut, "/api/countries/USA", strings.NewReader(`{"name":"USA","adult_literacy_rate":98.2}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored, err := cat.FindByCode("USA")
	require.NoError(t, err)
	assert.Equal(t, "USA", stored.Name)
	assert.False(t, stored.InternetUsers.Valid, "update overwrites, never merges")

	rec = do(t, srv, http.MethodPut, "/api/countries/USA", strings.NewReader(`{"code":"CAN","name":"Canada"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CAT005", errorCode(t, rec))

	rec = do(t, srv, http.MethodPut, "/api/countries/ZZZ", strings.NewReader(`{"name":"Nowhere"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/countries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(t, srv, http.MethodDelete, "/api/countries/USA", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/countries/USA", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CAT001", errorCode(t, rec))

	rec = do(t, srv, http.MethodGet, "/api/countries/usa", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "lookup is case-sensitive")
}

func TestCreateCountry_Invalid(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())

	tests := []struct {
		name string
		body string
	}{
		{"lowercase code", `{"code":"usa","name":"United States"}`},
		{"empty name", `{"code":"USA","name":""}`},
		{"long name", `{"code":"USA","name":"` + strings.Repeat("x", 33) + `"}`},
		{"rate above 100", `{"code":"USA","name":"United States","internet_users":100.5}`},
		{"negative rate", `{"code":"USA","name":"United States","adult_literacy_rate":-1}`},
		{"exponent above 100", `{"code":"USA","name":"United States","internet_users":1.5e2}`},
		{"exponent too precise", `{"code":"USA","name":"United States","internet_users":1e-9}`},
		{"exponent too large", `{"code":"USA","name":"United States","internet_users":1e400}`},
		{"unknown field", `{"code":"USA","name":"United States","population":3}`},
		{"malformed", `{"code":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/countries", strings.NewReader(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "CAT005", errorCode(t, rec))
		})
	}
	assert.Equal(t, 0, cat.Len())
}

func TestCreateCountry_ExponentRates(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodPost, "/api/countries",
		strings.NewReader(`{"code":"USA","name":"United States","internet_users":5e1,"adult_literacy_rate":9.91E1}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got, err := cat.FindByCode("USA")
	require.NoError(t, err)
	assert.Equal(t, "50", country.RateString(got.InternetUsers))
	assert.Equal(t, "99.1", country.RateString(got.AdultLiteracyRate))

	rec = do(t, srv, http.MethodPut, "/api/countries/USA",
		strings.NewReader(`{"name":"United States","internet_users":1.2345e-3,"adult_literacy_rate":1e2}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err = cat.FindByCode("USA")
	require.NoError(t, err)
	assert.Equal(t, "0.0012345", country.RateString(got.InternetUsers))
	assert.Equal(t, "100", country.RateString(got.AdultLiteracyRate))
}

func TestStatsEndpoints(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())
	seedScenario(t, cat)

	tests := []struct {
		path string
		want string
	}{
		{"/api/stats/min/internet_users", "NER"},
		{"/api/stats/max/internet-users", "USA"},
		{"/api/stats/min/literacy", "NER"},
		{"/api/stats/max/adult_literacy_rate", "USA"},
	}
	for _, tt := range tests {
		rec := do(t, srv, http.MethodGet, tt.path, nil)
		require.Equal(t, http.StatusOK, rec.Code, tt.path)

		var resp struct {
			Field   string          `json:"field"`
			Country json.RawMessage `json:"country"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, string(resp.Country), `"code":"`+tt.want+`"`, tt.path)
	}

	rec := do(t, srv, http.MethodGet, "/api/stats/min/population", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/stats/correlation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var corr correlationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &corr))
	assert.Equal(t, "internet_users", corr.A)
	assert.Equal(t, "adult_literacy_rate", corr.B)
	assert.InDelta(t, 0.9276, corr.Correlation, 1e-3)

	rec = do(t, srv, http.MethodGet, "/api/stats/correlation?a=literacy&b=internet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var swapped correlationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &swapped))
	assert.Equal(t, corr.Correlation, swapped.Correlation)

	rec = do(t, srv, http.MethodGet, "/api/stats/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum struct {
		Total       int      `json:"total"`
		Eligible    int      `json:"eligible"`
		Correlation *float64 `json:"correlation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 3, sum.Eligible)
	require.NotNil(t, sum.Correlation)
}

func TestStatsEndpoints_InsufficientData(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())
	require.NoError(t, cat.Create(context.Background(), country.Country{
		Code: "USA", Name: "United States", InternetUsers: country.MustRate("87.5"), AdultLiteracyRate: country.MustRate("99"),
	}))

	rec := do(t, srv, http.MethodGet, "/api/stats/correlation", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "CAT004", errorCode(t, rec))

	srv, _ = newTestServer(t, testConfig())
	for _, path := range []string{"/api/stats/min/internet_users", "/api/stats/summary"} {
		rec = do(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, path)
	}
}

func TestImport_CSV(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())
	require.NoError(t, cat.Create(context.Background(), country.Country{Code: "USA", Name: "United States"}))

	body := "code,name,internet_users,adult_literacy_rate\n" +
		"USA,United States,87.5,99\n" +
		"CHN,China,54.3,96.4\n" +
		"BAD,Bad,200,1\n"
	rec := do(t, srv, http.MethodPost, "/api/import", strings.NewReader(body), "Content-Type", "text/csv")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "BAD", res.Failed[0].Code)
	assert.Equal(t, 2, cat.Len())
}

func TestImport_RowMetrics(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())
	require.NoError(t, cat.Create(context.Background(), country.Country{
		Code: "USA", Name: "United States", InternetUsers: country.MustRate("87.5"), AdultLiteracyRate: country.MustRate("99"),
	}))

	body := "code,name,internet_users,adult_literacy_rate\n" +
		"USA,United States,87.50,99.0\n" +
		"CHN,China,54.3,96.4\n" +
		"BAD,Bad,200,1\n"
	rec := do(t, srv, http.MethodPost, "/api/import", strings.NewReader(body), "Content-Type", "text/csv")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Unchanged)

	rec = do(t, srv, http.MethodGet, "/metrics", nil)
	metricsBody := rec.Body.String()
	assert.Contains(t, metricsBody, `import_rows_total{outcome="created"} 1`)
	assert.Contains(t, metricsBody, `import_rows_total{outcome="updated"} 0`)
	assert.Contains(t, metricsBody, `import_rows_total{outcome="unchanged"} 1`)
	assert.Contains(t, metricsBody, `import_rows_total{outcome="failed"} 1`)
}

func TestImport_MultipartYAML(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "seed.yaml")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "countries:\n  - code: NER\n    name: Niger\n    internet_users: 5.00\n    adult_literacy_rate: 19.10\n")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := do(t, srv, http.MethodPost, "/api/import", &buf, "Content-Type", mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ner, err := cat.FindByCode("NER")
	require.NoError(t, err)
	assert.Equal(t, "19.1", country.RateString(ner.AdultLiteracyRate))
}

func TestImport_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 64
	srv, _ := newTestServer(t, cfg)

	body := "code,name\n" + strings.Repeat("AAA,Padding\n", 20)
	rec := do(t, srv, http.MethodPost, "/api/import", strings.NewReader(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE001", errorCode(t, rec))
}

func TestImport_Busy(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxConcurrent = 1
	cfg.Import.MaxWait = 10 * time.Millisecond
	srv, _ := newTestServer(t, cfg)

	require.NoError(t, srv.imports.Acquire(context.Background()))
	defer srv.imports.Release()

	rec := do(t, srv, http.MethodPost, "/api/import", strings.NewReader("code,name\nUSA,United States\n"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "IMP001", errorCode(t, rec))
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestImport_NoHeader(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	rec := do(t, srv, http.MethodPost, "/api/import?format=csv", strings.NewReader("a,b\n1,2\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExport(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())
	seedScenario(t, cat)

	rec := do(t, srv, http.MethodGet, "/api/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "code,name,internet_users,adult_literacy_rate", lines[0])
	assert.Equal(t, "USA,United States,87.5,99", lines[1])
	assert.Equal(t, "XXX,Unmeasured,,", lines[4])
}

func TestIndexPage(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())
	seedScenario(t, cat)
	require.NoError(t, cat.Create(context.Background(), country.Country{Code: "EVL", Name: "<script>alert(1)</script>"}))

	rec := do(t, srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "United States")
	assert.Contains(t, body, "87.50")
	assert.Contains(t, body, "n/a")
	assert.Contains(t, body, "Correlation: 0.92")
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestIndexPage_Empty(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	rec := do(t, srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No countries yet.")
	assert.NotContains(t, rec.Body.String(), "Statistics")
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	cat, err := catalog.Load(context.Background(), &failingBackend{})
	require.NoError(t, err)
	down := NewServer(cat, downPinger{}, testConfig())
	rec = do(t, down, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	srv, cat := newTestServer(t, testConfig())
	seedScenario(t, cat)

	do(t, srv, http.MethodGet, "/api/countries/USA", nil)
	do(t, srv, http.MethodDelete, "/api/countries/ZZZ", nil)

	rec := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "catalog_records 4")
	assert.Contains(t, body, `http_requests_total{method="GET",route="/api/countries/{code}",status="200"} 1`)
	assert.Contains(t, body, `catalog_writes_total{op="delete",outcome="CAT001"} 1`)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	srv, _ := newTestServer(t, cfg)

	body := `{"code":"USA","name":"United States"}`
	rec := do(t, srv, http.MethodPost, "/api/countries", strings.NewReader(body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/countries", strings.NewReader(body), "X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/countries", strings.NewReader(body), "X-API-Key", "secret")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/countries", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay open")
}

// failingBackend loads empty and fails every write.
type failingBackend struct{}

func (*failingBackend) ReadAll(context.Context) ([]country.Country, error) { return nil, nil }
func (*failingBackend) Insert(context.Context, country.Country) error {
	return errors.New("connection reset by peer")
}
func (*failingBackend) Update(context.Context, country.Country) error {
	return errors.New("connection reset by peer")
}
func (*failingBackend) Delete(context.Context, string) error {
	return errors.New("connection reset by peer")
}

func TestCreateCountry_StorageUnavailable(t *testing.T) {
	cat, err := catalog.Load(context.Background(), &failingBackend{})
	require.NoError(t, err)
	srv := NewServer(cat, nil, testConfig())

	rec := do(t, srv, http.MethodPost, "/api/countries", strings.NewReader(`{"code":"USA","name":"United States"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "CAT003", errorCode(t, rec))
	assert.Equal(t, 0, cat.Len())

	rec = do(t, srv, http.MethodGet, "/api/countries/USA", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
