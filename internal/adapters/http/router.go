package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/routers"
	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/promo-price-index/internal/config"
	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/kirillkom/promo-price-index/internal/core/ports"
	"github.com/kirillkom/promo-price-index/internal/observability/metrics"
)

const (
	serviceName      = "api"
	maxJSONBodyBytes = 1 << 20
	// multipart framing on top of the file itself
	uploadOverheadBytes  = 1 << 20
	multipartMemoryBytes = 32 << 20
)

type Services struct {
	Importer  ports.FlyerImporter
	Imports   ports.ImportReader
	Indexes   ports.IndexComputer
	Results   ports.IndexReader
	Requester ports.IndexRequester
}

type Router struct {
	cfg      config.Config
	services Services
	metrics  *metrics.HTTPServerMetrics
	openAPI  routers.Router
}

// NewRouter builds the API router. httpMetrics may be nil.
func NewRouter(cfg config.Config, services Services, httpMetrics *metrics.HTTPServerMetrics) *Router {
	openAPI, err := loadOpenAPIRouter()
	if err != nil {
		panic(err)
	}
	return &Router{
		cfg:      cfg,
		services: services,
		metrics:  httpMetrics,
		openAPI:  openAPI,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/imports", rt.importFlyer)
	mux.HandleFunc("/v1/imports/", rt.getImport)
	mux.HandleFunc("/v1/index/compute", rt.computeIndex)
	mux.HandleFunc("/v1/index/batch", rt.computeIndexBatch)
	mux.HandleFunc("/v1/index/requests", rt.requestIndexes)
	mux.HandleFunc("/v1/index/", rt.getIndex)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = openAPIValidationMiddleware(handler, rt.openAPI)
	handler = backpressureMiddleware(
		handler,
		rt.cfg.APIMaxInFlight,
		time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond,
		rt.recordOverloaded,
	)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.recordRateLimited)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) importFlyer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	maxUpload := rt.cfg.ImportMaxUploadBytes
	if maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload+uploadOverheadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload is too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form is required"})
		return
	}

	passes, err := parsePasses(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	result, err := rt.services.Importer.Import(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
		passes,
	)
	if rt.metrics != nil {
		rt.metrics.RecordImport(serviceName, result, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("flyer_imported",
		"request_id", requestIDFromContext(r.Context()),
		"import_id", result.ID,
		"passes", result.PassCount,
		"successful_passes", result.Consensus.SuccessfulPasses,
		"products", len(result.Consensus.Products),
		"insufficient_data", result.Consensus.InsufficientData,
	)
	writeJSON(w, http.StatusCreated, result)
}

// parsePasses reads the pass count from the query string or, failing that, from the
// multipart form. Zero means the configured default.
func parsePasses(r *http.Request) (int, error) {
	var passes int
	if err := runtime.BindQueryParameter("form", true, false, "passes", r.URL.Query(), &passes); err != nil {
		return 0, fmt.Errorf("invalid passes: %w", err)
	}
	if passes != 0 {
		return passes, nil
	}

	raw := strings.TrimSpace(r.FormValue("passes"))
	if raw == "" {
		return 0, nil
	}
	passes, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid passes %q", raw)
	}
	return passes, nil
}

func (rt *Router) getImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/imports/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "import id is required"})
		return
	}

	result, err := rt.services.Imports.GetImport(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type computeIndexRequest struct {
	City   string `json:"city"`
	Period string `json:"period"`
}

func (rt *Router) computeIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req computeIndexRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	period, err := parsePeriod(req.Period)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := rt.services.Indexes.Compute(r.Context(), req.City, period)
	rt.recordIndexComputation("compute", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type citiesRequest struct {
	Cities []string `json:"cities"`
	Period string   `json:"period"`
}

// cities falls back to the configured city list when the request names none.
func (rt *Router) cities(req citiesRequest) []string {
	if len(req.Cities) > 0 {
		return req.Cities
	}
	return rt.cfg.IndexCities
}

func (rt *Router) computeIndexBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req citiesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	period, err := parsePeriod(req.Period)
	if err != nil {
		writeError(w, r, err)
		return
	}

	outcomes, err := rt.services.Indexes.ComputeBatch(r.Context(), rt.cities(req), period)
	rt.recordIndexComputation("batch", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period":   period.String(),
		"outcomes": outcomes,
	})
}

func (rt *Router) requestIndexes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req citiesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	period, err := parsePeriod(req.Period)
	if err != nil {
		writeError(w, r, err)
		return
	}

	requests, err := rt.services.Requester.RequestIndexes(r.Context(), rt.cities(req), period)
	if rt.metrics != nil {
		rt.metrics.RecordIndexRequestsEnqueued(serviceName, len(requests))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"requests": requests})
}

func (rt *Router) getIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	segments := strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/v1/index/"), "/")
	if len(segments) != 2 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	var city, rawPeriod string
	pathOpts := runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}
	if err := runtime.BindStyledParameterWithOptions("simple", "city", segments[0], &city, pathOpts); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := runtime.BindStyledParameterWithOptions("simple", "period", segments[1], &rawPeriod, pathOpts); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	period, err := parsePeriod(rawPeriod)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := rt.services.Results.GetIndex(r.Context(), city, period.String())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) recordIndexComputation(endpoint string, err error) {
	if rt.metrics != nil {
		rt.metrics.RecordIndexComputation(serviceName, endpoint, err)
	}
}

func (rt *Router) recordRateLimited() {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(serviceName)
	}
}

func (rt *Router) recordOverloaded() {
	if rt.metrics != nil {
		rt.metrics.RecordOverloaded(serviceName)
	}
}

func parsePeriod(raw string) (domain.Period, error) {
	period, err := domain.ParsePeriod(strings.TrimSpace(raw))
	if err != nil {
		return domain.Period{}, domain.WrapError(domain.ErrInvalidInput, "parse period", err)
	}
	return period, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
