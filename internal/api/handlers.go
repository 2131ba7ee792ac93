package api

import (
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/logger"
	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/metrics"
)

type componentHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime"`
	Components map[string]componentHealth `json:"components,omitempty"`
}

// health answers 200 while the process is serving; component problems are
// reported in the body and downgrade status to "degraded".
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: h.opts.Version,
		Uptime:  time.Since(h.start).Round(time.Second).String(),
	}

	if h.opts.Components != nil {
		resp.Components = map[string]componentHealth{}
		for name, ch := range h.opts.Components() {
			entry := componentHealth{Healthy: ch.Healthy}
			if ch.Error != nil {
				entry.Error = ch.Error.Error()
			}
			if !ch.Healthy {
				resp.Status = "degraded"
			}
			resp.Components[name] = entry
		}
	}

	respondJSON(w, r, http.StatusOK, resp)
}

type providerStatusEntry struct {
	Provider contract.ProviderID     `json:"provider"`
	Status   contract.ProviderStatus `json:"status"`
}

func (h *handler) providerStatus(w http.ResponseWriter, r *http.Request) {
	statuses := h.vision.ProviderStatus(r.Context())

	out := make([]providerStatusEntry, 0, len(statuses))
	for id, s := range statuses {
		out = append(out, providerStatusEntry{Provider: id, Status: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })

	respondJSON(w, r, http.StatusOK, out)
}

type providerMetricsEntry struct {
	metrics.ProviderStats
	ErrorRate float64 `json:"error_rate"`
}

func (h *handler) providerMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := h.vision.Metrics().Snapshot()

	out := make([]providerMetricsEntry, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, providerMetricsEntry{ProviderStats: s, ErrorRate: s.ErrorRate()})
	}
	respondJSON(w, r, http.StatusOK, out)
}

func (h *handler) analyze(w http.ResponseWriter, r *http.Request) {
	kind, err := contract.ParseAnalysisKind(r.URL.Query().Get("kind"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if kind == contract.KindFaceDetection {
		h.fail(w, r, kagamiErrors.InvalidInput("use POST /v1/faces for face detection"))
		return
	}

	image, err := h.readImage(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.vision.AnalyzeImage(r.Context(), image, kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, res)
}

func (h *handler) faces(w http.ResponseWriter, r *http.Request) {
	image, err := h.readImage(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.vision.DetectFaces(r.Context(), image)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, res)
}

func (h *handler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := r.Body
	if h.opts.MaxImageBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.opts.MaxImageBytes)
	}
	defer body.Close()

	image, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, kagamiErrors.InvalidInput("request body is empty")
	}
	return image, nil
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "request_id", logger.GetRequestID(r.Context()), "path", r.URL.Path, "status", status, "error", err)
	}
	respondError(w, r, status, apiErr)
}
