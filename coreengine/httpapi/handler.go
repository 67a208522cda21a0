// Package httpapi exposes the inbound stage routes over HTTP.
//
// Every stage route accepts:
//   - POST with a JSON array of {lead_data, context}; each item becomes one
//     job and the route acknowledges once all are queued
//   - GET as a probe; it acknowledges without scheduling anything
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/config"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/observability"
)

// DefaultMaxBodyBytes caps a request body.
const DefaultMaxBodyBytes = 10 << 20

// WelcomeMessage is returned by the root route.
const WelcomeMessage = "Welcome to the API!"

// Submitter queues envelopes for a stage.
type Submitter interface {
	SubmitBatch(ctx context.Context, stage envelope.Stage, envs []envelope.Envelope) (int, error)
}

// Options configures a Handler.
type Options struct {
	Pipeline     config.PipelineConfig
	MaxBodyBytes int64

	// Healthy reports readiness for /healthz. Nil means always healthy.
	Healthy func() bool
}

// Handler serves the stage routes.
type Handler struct {
	submitter Submitter
	opts      Options
	logger    logging.Logger
}

// NewHandler creates a Handler. An empty pipeline uses config.DefaultPipeline.
func NewHandler(submitter Submitter, opts Options, logger logging.Logger) *Handler {
	if len(opts.Pipeline.Stages) == 0 {
		opts.Pipeline = config.DefaultPipeline()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		submitter: submitter,
		opts:      opts,
		logger:    logger.Bind("component", "httpapi"),
	}
}

// NewRouter builds the mux with stage, health and metrics routes.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	for _, sc := range h.opts.Pipeline.Stages {
		mux.HandleFunc(sc.Route, h.stageRoute(envelope.Stage(sc.Name), sc))
	}

	mux.HandleFunc("/healthz", h.Health)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", h.Root)

	return RequestID(AccessLog(h.logger)(mux))
}

func (h *Handler) stageRoute(stage envelope.Stage, sc config.StageConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.logger.Debug("stage_probe", "stage", stage)
			writeText(w, http.StatusOK, sc.GetProbeAck())
		case http.MethodPost:
			h.accept(w, r, stage, sc)
		default:
			w.Header().Set("Allow", "GET, POST")
			writeText(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request, stage envelope.Stage, sc config.StageConfig) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeText(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	envs, err := envelope.DecodeBatch(body, stage)
	if err != nil {
		h.logger.Warn("inbound_batch_rejected",
			"stage", stage,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.submitter.SubmitBatch(r.Context(), stage, envs)
	observability.RecordInboundItems(sc.Route, n)
	if err != nil {
		h.logger.Error("inbound_batch_not_queued",
			"stage", stage,
			"queued", n,
			"total", len(envs),
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeText(w, http.StatusServiceUnavailable, "pipeline is not accepting work")
		return
	}

	h.logger.Info("inbound_batch_queued",
		"stage", stage,
		"items", n,
		"request_id", GetRequestID(r.Context()),
	)
	writeText(w, http.StatusOK, sc.Ack)
}

// Root answers GET / with a welcome message and 404s anything else.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": WelcomeMessage})
}

// Health reports liveness and bus readiness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Healthy != nil && !h.opts.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewServer wraps handler in an http.Server with the configured timeouts.
func NewServer(addr string, handler http.Handler, sc config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}
}
