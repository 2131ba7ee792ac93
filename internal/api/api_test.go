package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/kagami/internal/daemon"
	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/metrics"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeVision struct {
	analyzeErr error
	facesErr   error
	statuses   map[contract.ProviderID]contract.ProviderStatus
	collector  *metrics.Collector

	gotKind  contract.AnalysisKind
	gotImage []byte
	gotCtx   context.Context
}

func (f *fakeVision) AnalyzeImage(ctx context.Context, image []byte, kind contract.AnalysisKind) (*contract.AnalysisResult, error) {
	f.gotKind, f.gotImage, f.gotCtx = kind, image, ctx
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return &contract.AnalysisResult{
		Provider:   contract.ProviderAWS,
		Kind:       kind,
		Tags:       []contract.Tag{{Label: "beach", Confidence: 0.93}},
		Confidence: 0.93,
	}, nil
}

func (f *fakeVision) DetectFaces(ctx context.Context, image []byte) (*contract.FaceDetectionResult, error) {
	f.gotImage, f.gotCtx = image, ctx
	if f.facesErr != nil {
		return nil, f.facesErr
	}
	return &contract.FaceDetectionResult{
		Provider:   contract.ProviderOpenAI,
		Faces:      []contract.Face{{BoundingBox: contract.BoundingBox{Width: 0.2, Height: 0.3}, Confidence: 0.9}},
		Confidence: 0.9,
		Quality:    contract.QualityGood,
	}, nil
}

func (f *fakeVision) ProviderStatus(context.Context) map[contract.ProviderID]contract.ProviderStatus {
	return f.statuses
}

func (f *fakeVision) Metrics() *metrics.Collector {
	if f.collector == nil {
		f.collector = metrics.NewCollector(nil)
	}
	return f.collector
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func serve(h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyze_ReturnsResult(t *testing.T) {
	v := &fakeVision{}
	h := NewRouter(v, Options{MaxImageBytes: 1024})

	rec := serve(h, http.MethodPost, "/v1/analyze?kind=object", pngHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, rec.Header().Get(requestIDHeader))
	assert.Equal(t, contract.KindObject, v.gotKind)
	assert.Equal(t, pngHeader, v.gotImage)
}

func TestAnalyze_PropagatesRequestID(t *testing.T) {
	v := &fakeVision{}
	h := NewRouter(v, Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze?kind=scene", bytes.NewReader(pngHeader))
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
	assert.Equal(t, "req-42", decode(t, rec).RequestID)
}

func TestAnalyze_BadRequests(t *testing.T) {
	h := NewRouter(&fakeVision{}, Options{MaxImageBytes: 8})

	tests := []struct {
		name   string
		target string
		body   []byte
		status int
		code   string
	}{
		{name: "unknown kind", target: "/v1/analyze?kind=audio", body: pngHeader, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "face detection via analyze", target: "/v1/analyze?kind=faces", body: pngHeader, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "empty body", target: "/v1/analyze?kind=scene", body: nil, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "too large", target: "/v1/analyze?kind=scene", body: pngHeader, status: http.StatusRequestEntityTooLarge, code: "PAYLOAD_TOO_LARGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestFailoverErrorsMapToStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "no providers",
			err:    &kagamiErrors.NoProvidersAvailableError{Statuses: map[string]string{"openai": "unavailable"}},
			status: http.StatusServiceUnavailable,
			code:   "NO_PROVIDERS_AVAILABLE",
		},
		{
			name:   "all failed",
			err:    &kagamiErrors.AllProvidersFailedError{Attempts: 3, Last: errors.New("boom")},
			status: http.StatusBadGateway,
			code:   "ALL_PROVIDERS_FAILED",
		},
		{
			name:   "global timeout",
			err:    &kagamiErrors.GlobalTimeoutError{Timeout: time.Second, Attempts: 1},
			status: http.StatusGatewayTimeout,
			code:   "GLOBAL_TIMEOUT",
		},
		{
			name:   "caller cancelled",
			err:    context.Canceled,
			status: StatusClientClosedRequest,
			code:   "CANCELED",
		},
		{
			name:   "unexpected",
			err:    errors.New("kaboom"),
			status: http.StatusInternalServerError,
			code:   "INTERNAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(&fakeVision{facesErr: tt.err}, Options{})
			rec := serve(h, http.MethodPost, "/v1/faces", pngHeader)
			assert.Equal(t, tt.status, rec.Code)
			resp := decode(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestFailoverErrorsHideVendorDetails(t *testing.T) {
	vendorErr := &kagamiErrors.ProviderError{
		Provider:  "google",
		Operation: "analyze",
		Err:       errors.New("googleapi: Error 403: API key sk-SECRET invalid"),
	}

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "all failed",
			err:     &kagamiErrors.AllProvidersFailedError{Attempts: 3, Last: vendorErr},
			status:  http.StatusBadGateway,
			message: "all providers failed",
		},
		{
			name:    "global timeout",
			err:     &kagamiErrors.GlobalTimeoutError{Timeout: time.Second, Elapsed: time.Second, Attempts: 2, Last: vendorErr},
			status:  http.StatusGatewayTimeout,
			message: "request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(&fakeVision{analyzeErr: tt.err}, Options{})
			rec := serve(h, http.MethodPost, "/v1/analyze?kind=scene", pngHeader)
			require.Equal(t, tt.status, rec.Code)

			body := rec.Body.String()
			assert.NotContains(t, body, "google")
			assert.NotContains(t, body, "sk-SECRET")

			resp := decode(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.message, resp.Error.Message)
			assert.NotNil(t, resp.Error.Details["attempts"])
		})
	}
}

func TestNoProvidersCarriesStatuses(t *testing.T) {
	h := NewRouter(&fakeVision{analyzeErr: &kagamiErrors.NoProvidersAvailableError{
		Statuses: map[string]string{"aws": "rate_limited"},
	}}, Options{})

	rec := serve(h, http.MethodPost, "/v1/analyze?kind=text", pngHeader)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"aws":"rate_limited"`)
}

func TestFaces_ReturnsResult(t *testing.T) {
	h := NewRouter(&fakeVision{}, Options{})
	rec := serve(h, http.MethodPost, "/v1/faces", pngHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"quality":"good"`)
}

func TestProviderStatus_SortedByProvider(t *testing.T) {
	h := NewRouter(&fakeVision{statuses: map[contract.ProviderID]contract.ProviderStatus{
		contract.ProviderOpenAI: contract.StatusDegraded,
		contract.ProviderAWS:    contract.StatusAvailable,
	}}, Options{})

	rec := serve(h, http.MethodGet, "/v1/providers/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Less(t, strings.Index(body, `"aws"`), strings.Index(body, `"openai"`))
	assert.Contains(t, body, `"status":"degraded"`)
}

func TestProviderMetrics(t *testing.T) {
	v := &fakeVision{}
	v.Metrics().RecordSuccess(contract.ProviderAWS, "analyze", 100*time.Millisecond)
	v.Metrics().RecordFailure(contract.ProviderAWS, "analyze", 50*time.Millisecond, errors.New("x"))

	rec := serve(NewRouter(v, Options{}), http.MethodGet, "/v1/providers/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error_rate":0.5`)
	assert.Contains(t, rec.Body.String(), `"requests":2`)
}

func TestHealth_ReportsComponents(t *testing.T) {
	h := NewRouter(&fakeVision{}, Options{
		Version: "test",
		Components: func() map[string]*daemon.ComponentHealth {
			return map[string]*daemon.ComponentHealth{
				"Vision":        {Name: "Vision", Healthy: true},
				"HealthMonitor": {Name: "HealthMonitor", Healthy: false, Error: errors.New("no poll yet")},
			}
		},
	})

	rec := serve(h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"status":"degraded"`)
	assert.Contains(t, body, `"no poll yet"`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	collector.RecordRequest("analyze", metrics.OutcomeSuccess)

	h := NewRouter(&fakeVision{collector: collector}, Options{Gatherer: reg})
	rec := serve(h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kagami_failover_requests_total")

	rec = serve(NewRouter(&fakeVision{}, Options{}), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyze_RateLimitedPerIP(t *testing.T) {
	h := NewRouter(&fakeVision{}, Options{RateLimitRequests: 1, RateLimitWindow: time.Minute})

	rec := serve(h, http.MethodPost, "/v1/analyze?kind=scene", pngHeader)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodPost, "/v1/analyze?kind=scene", pngHeader)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "RATE_LIMITED", resp.Error.Code)

	rec = serve(h, http.MethodGet, "/v1/providers/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "status route is not limited")
}

func TestCORS(t *testing.T) {
	h := NewRouter(&fakeVision{}, Options{CORSAllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
