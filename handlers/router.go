package handlers

import (
	"net/http"
	"strconv"
	"time"

	"biometric-stream-monitor/logging"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *ReadingHandler, logger *logging.Logger) *mux.Router {
	if logger == nil {
		logger = logging.Global()
	}

	r := mux.NewRouter()
	r.Use(requestMiddleware(logger))

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{client_id}", h.HandleListSensors).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{client_id}/{sensor}", h.HandleSensorReading).Methods(http.MethodPost)
	r.HandleFunc("/api/data", h.HandleData).Methods(http.MethodPost)
	r.HandleFunc("/stats/{subject}/{sensor}", h.HandleStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/{username}", h.HandleSubjectStatistics).Methods(http.MethodGet)
	r.HandleFunc("/analyze", h.HandleAnalyze).Methods(http.MethodGet)
	r.HandleFunc("/anomalies/{subject}", h.HandleAnomalies).Methods(http.MethodGet)

	r.Path("/metrics").Handler(promhttp.Handler())

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// requestMiddleware assigns a request id, records request metrics labelled by
// route template and logs the outcome.
func requestMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set("X-Request-ID", requestID)

			endpoint := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					endpoint = tpl
				}
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			if endpoint == "/metrics" {
				return
			}

			requestDurationSeconds.WithLabelValues(r.Method, endpoint).Observe(duration.Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()

			fields := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", duration,
				"request_id", requestID,
			}
			switch {
			case rec.status >= 500:
				logger.Error("Server error", fields...)
			case rec.status >= 400:
				logger.Warn("Client error", fields...)
			default:
				logger.Debug("Request completed", fields...)
			}
		})
	}
}
