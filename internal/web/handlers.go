package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/analyzer/internal/country"
	"github.com/JonMunkholm/analyzer/internal/ingest"
	"github.com/JonMunkholm/analyzer/internal/logging"
)

// multipartMemory is how much of a multipart import is held in memory
// before spilling to a temp file.
const multipartMemory = 8 << 20

// countryRequest is the body of create and update calls. Rates are JSON
// numbers (or numeric strings); null or absent means "not measured".
type countryRequest struct {
	Code              string       `json:"code"`
	Name              string       `json:"name"`
	InternetUsers     *json.Number `json:"internet_users"`
	AdultLiteracyRate *json.Number `json:"adult_literacy_rate"`
}

func (req countryRequest) toCountry() (country.Country, error) {
	internet, err := numberRate(req.InternetUsers)
	if err != nil {
		return country.Country{}, fmt.Errorf("%s: %w", country.FieldInternetUsers, err)
	}
	literacy, err := numberRate(req.AdultLiteracyRate)
	if err != nil {
		return country.Country{}, fmt.Errorf("%s: %w", country.FieldAdultLiteracyRate, err)
	}
	return country.New(req.Code, req.Name,
		country.WithInternetUsers(internet),
		country.WithAdultLiteracyRate(literacy),
	)
}

// maxRateExponent bounds the exponent accepted in a JSON number such as
// 5e1. Anything larger cannot be a valid rate and would only cost memory.
const maxRateExponent = 20

// numberRate converts a JSON rate to a Numeric. Exponent forms are rewritten
// as plain decimals first; they must still land on the store's scale.
func numberRate(n *json.Number) (pgtype.Numeric, error) {
	if n == nil {
		return pgtype.Numeric{}, nil
	}
	s := n.String()
	if strings.ContainsAny(s, "eE") {
		plain, err := expandExponent(s)
		if err != nil {
			return pgtype.Numeric{}, err
		}
		s = plain
	}
	return country.ParseRate(s)
}

func expandExponent(s string) (string, error) {
	_, exp, _ := strings.Cut(strings.ToLower(s), "e")
	e, err := strconv.Atoi(exp)
	if err != nil || e > maxRateExponent || e < -maxRateExponent {
		return "", fmt.Errorf("%w: invalid number %q", country.ErrInvalidValue, s)
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return "", fmt.Errorf("%w: invalid number %q", country.ErrInvalidValue, s)
	}
	plain := r.FloatString(country.RateScale)
	if back, _ := new(big.Rat).SetString(plain); back.Cmp(r) != 0 {
		return "", fmt.Errorf("%w: %q has more than %d decimal places", country.ErrInvalidValue, s, country.RateScale)
	}
	plain = strings.TrimRight(plain, "0")
	return strings.TrimSuffix(plain, "."), nil
}

func decodeCountry(r *http.Request) (countryRequest, error) {
	var req countryRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: malformed request body: %w", country.ErrInvalidValue, err)
	}
	return req, nil
}

// handleListCountries returns every country in load/insert order.
func (s *Server) handleListCountries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleGetCountry(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalog.FindByCode(chi.URLParam(r, "code"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCreateCountry(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCountry(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	c, err := req.toCountry()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.catalog.Create(r.Context(), c); err != nil {
		s.countOp("create", MapError(err).Code)
		s.respondError(w, r, err)
		return
	}
	s.countOp("create", "ok")

	logging.FromContext(r.Context()).Info("country created", "code", c.Code)
	w.Header().Set("Location", "/api/countries/"+c.Code)
	writeJSON(w, http.StatusCreated, c)
}

// handleUpdateCountry replaces every field of an existing country. The
// code comes from the path; a body code, if given, must match it.
func (s *Server) handleUpdateCountry(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	req, err := decodeCountry(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Code != "" && req.Code != code {
		s.respondError(w, r, fmt.Errorf("%w: code %q cannot be changed to %q", country.ErrInvalidValue, code, req.Code))
		return
	}
	req.Code = code

	c, err := req.toCountry()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.catalog.Update(r.Context(), c); err != nil {
		s.countOp("update", MapError(err).Code)
		s.respondError(w, r, err)
		return
	}
	s.countOp("update", "ok")

	logging.FromContext(r.Context()).Info("country updated", "code", c.Code)
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCountry(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := s.catalog.Delete(r.Context(), code); err != nil {
		s.countOp("delete", MapError(err).Code)
		s.respondError(w, r, err)
		return
	}
	s.countOp("delete", "ok")

	logging.FromContext(r.Context()).Info("country deleted", "code", code)
	w.WriteHeader(http.StatusNoContent)
}

// extremeResponse is the body of the min and max endpoints.
type extremeResponse struct {
	Field   string          `json:"field"`
	Country country.Country `json:"country"`
}

func (s *Server) handleMin(w http.ResponseWriter, r *http.Request) {
	s.handleExtreme(w, r, s.catalog.MinBy)
}

func (s *Server) handleMax(w http.ResponseWriter, r *http.Request) {
	s.handleExtreme(w, r, s.catalog.MaxBy)
}

func (s *Server) handleExtreme(w http.ResponseWriter, r *http.Request, pick func(country.Field) (country.Country, error)) {
	f, err := country.ParseField(chi.URLParam(r, "field"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	c, err := pick(f)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, extremeResponse{Field: f.String(), Country: c})
}

// correlationResponse is the body of the correlation endpoint.
type correlationResponse struct {
	A           string  `json:"a"`
	B           string  `json:"b"`
	Correlation float64 `json:"correlation"`
}

// handleCorrelation computes Pearson r between ?a= and ?b=, defaulting to
// internet usage against adult literacy.
func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	a, err := fieldParam(r, "a", country.FieldInternetUsers)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	b, err := fieldParam(r, "b", country.FieldAdultLiteracyRate)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	corr, err := s.catalog.Correlation(a, b)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, correlationResponse{A: a.String(), B: b.String(), Correlation: corr})
}

func fieldParam(r *http.Request, name string, def country.Field) (country.Field, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return country.ParseField(v)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.catalog.Summary()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleImport applies a CSV or YAML file as create-or-update writes. The
// body is either a multipart form with a "file" field or the raw file; the
// format comes from ?format=, the file name, or the content type.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := s.imports.Acquire(r.Context()); err != nil {
		if errors.Is(err, ingest.ErrBusy) {
			w.Header().Set("Retry-After", "5")
		}
		s.respondError(w, r, err)
		return
	}
	defer s.imports.Release()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)

	body, name, err := importBody(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer body.Close()

	format := ingest.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = ingest.FormatFor(name, r.Header.Get("Content-Type"))
	}

	batch, err := ingest.Parse(body, format)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := ingest.Apply(r.Context(), s.catalog, batch)
	s.metrics.GetOrCreateCounter(`import_rows_total{outcome="created"}`).Add(res.Created)
	s.metrics.GetOrCreateCounter(`import_rows_total{outcome="updated"}`).Add(res.Updated)
	s.metrics.GetOrCreateCounter(`import_rows_total{outcome="unchanged"}`).Add(res.Unchanged)
	s.metrics.GetOrCreateCounter(`import_rows_total{outcome="failed"}`).Add(len(res.Failed))

	log := logging.WithFields(r.Context(), "batch_id", res.BatchID, "format", format, "file", name)
	if err != nil {
		log.Error("import aborted", "created", res.Created, "updated", res.Updated, "error", err)
		s.respondError(w, r, err)
		return
	}
	log.Info("import applied",
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"failed", len(res.Failed),
	)
	writeJSON(w, http.StatusOK, res)
}

// importBody returns the uploaded file and its name ("" for a raw body).
func importBody(r *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, "", nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, "", fmt.Errorf("%w: invalid multipart form: %w", country.ErrInvalidValue, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("%w: multipart import needs a \"file\" field: %w", country.ErrInvalidValue, err)
	}
	return file, header.Filename, nil
}

// handleExport streams the catalog as CSV.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("countries-%s.csv", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := ingest.WriteCSV(w, s.catalog.List()); err != nil {
		logging.FromContext(r.Context()).Error("export failed", "error", err)
	}
}

// healthResponse is the body of /healthz.
type healthResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Records: s.catalog.Len()}
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			resp.Status, resp.Error = "unavailable", err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMetrics exposes this server's metrics plus Go runtime and process
// metrics in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.metrics.WritePrometheus(w)
	metrics.WritePrometheus(w, true)
}
