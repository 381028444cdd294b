package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/poschodech/internal/api"
	"github.com/tejusbharadwaj/poschodech/internal/coordinator"
	"github.com/tejusbharadwaj/poschodech/internal/entity"
)

const refreshTimeout = 2 * time.Minute

// Provider serves the sensors.
type Provider interface {
	List() []entity.Sensor
	Get(key string) (entity.Sensor, bool)
}

// Refresher runs a refresh on demand and reports on the last one.
type Refresher interface {
	RequestRefresh(ctx context.Context) error
	Status() coordinator.Status
}

type Handler struct {
	sensors        Provider
	refresher      Refresher
	gatherer       prometheus.Gatherer
	allowedOrigins []string
	logger         *logrus.Logger
}

func NewHandler(sensors Provider, refresher Refresher, gatherer prometheus.Gatherer, allowedOrigins []string, logger *logrus.Logger) *Handler {
	return &Handler{
		sensors:        sensors,
		refresher:      refresher,
		gatherer:       gatherer,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// Init builds the router.
func (h *Handler) Init() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(h.withRequestID)
	router.Use(h.withLogging)

	router.Route("/api", func(r chi.Router) {
		r.Get("/entities", h.listEntities)
		r.Get("/entities/{key}", h.getEntity)
		r.Post("/refresh", h.refresh)
		r.Get("/status", h.status)
	})
	router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	c := cors.New(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
	})
	return c.Handler(router)
}

func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sensors.List())
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	sensor, ok := h.sensors.Get(key)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown entity: "+key, "")
		return
	}
	h.writeJSON(w, http.StatusOK, sensor)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	if err := h.refresher.RequestRefresh(ctx); err != nil {
		requestLogger(h.logger, r).WithError(err).Warn("Manual refresh failed")
		h.writeError(w, http.StatusBadGateway, err.Error(), api.Classify(err))
		return
	}
	h.writeJSON(w, http.StatusOK, h.refresher.Status())
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st := h.refresher.Status()
	code := http.StatusOK
	if !st.Ready {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, st)
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg, reason string) {
	h.writeJSON(w, code, errorResponse{Error: msg, Reason: reason})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("Failed to write response")
	}
}
