package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"biometric-stream-monitor/analytics"
	"biometric-stream-monitor/logging"
	"biometric-stream-monitor/models"

	"github.com/gorilla/mux"
)

const (
	defaultAnomalyLimit = 10
	maxAnomalyLimit     = 100
	maxBodyBytes        = 1 << 16
	storeTimeout        = 3 * time.Second
)

type ReadingProcessor interface {
	ProcessReading(reading models.Reading) bool
	SensorsFor(subject string) []models.SensorKind
	Statistics(subject string, sensor models.SensorKind) (*analytics.Summary, bool)
}

type AnomalyStore interface {
	LatestVerdict(ctx context.Context, subject string, sensor models.SensorKind) (*models.AnomalyRecord, error)
	RecentAnomalies(ctx context.Context, subject string, limit int64) ([]models.AnomalyRecord, error)
	Ping(ctx context.Context) error
}

type ReadingHandler struct {
	processor ReadingProcessor
	store     AnomalyStore
	logger    *logging.Logger
	now       func() time.Time
}

func NewReadingHandler(processor ReadingProcessor, store AnomalyStore, logger *logging.Logger) *ReadingHandler {
	if logger == nil {
		logger = logging.Global()
	}
	return &ReadingHandler{
		processor: processor,
		store:     store,
		logger:    logger.With("component", "http"),
		now:       time.Now,
	}
}

// HandleSensorReading accepts a reading from a wearable client at
// /sensors/{client_id}/{sensor}. The subject is the client id up to its first
// underscore.
func (h *ReadingHandler) HandleSensorReading(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var payload models.SensorPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	reading, err := payload.ToReading(vars["client_id"], vars["sensor"], h.now().UTC())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.accept(w, reading)
}

// HandleData accepts {"username", "sensor_type", "value"} bodies.
func (h *ReadingHandler) HandleData(w http.ResponseWriter, r *http.Request) {
	var payload models.DataPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	reading, err := payload.ToReading(h.now().UTC())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.accept(w, reading)
}

func (h *ReadingHandler) accept(w http.ResponseWriter, reading models.Reading) {
	if !h.processor.ProcessReading(reading) {
		h.writeError(w, http.StatusServiceUnavailable, "ingest queue is full")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "accepted",
		"subject": reading.Subject,
		"sensor":  string(reading.Sensor),
	})
}

func (h *ReadingHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	subject := vars["subject"]
	sensor := models.ParseSensorKind(vars["sensor"])

	summary, ok := h.processor.Statistics(subject, sensor)
	if !ok {
		h.writeError(w, http.StatusNotFound, "no readings for "+subject+"/"+string(sensor))
		return
	}

	h.writeJSON(w, http.StatusOK, statisticsResponse(subject, sensor, summary))
}

// HandleSubjectStatistics summarizes every sensor window held for a user.
func (h *ReadingHandler) HandleSubjectStatistics(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["username"]

	sensors := make(map[models.SensorKind]models.StatisticsResponse)
	for _, sensor := range h.processor.SensorsFor(subject) {
		if summary, ok := h.processor.Statistics(subject, sensor); ok {
			sensors[sensor] = statisticsResponse(subject, sensor, summary)
		}
	}
	if len(sensors) == 0 {
		h.writeError(w, http.StatusNotFound, "no readings for "+subject)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject": subject,
		"sensors": sensors,
	})
}

// HandleListSensors lists the sensors a device owner has reported so far.
func (h *ReadingHandler) HandleListSensors(w http.ResponseWriter, r *http.Request) {
	subject := models.SubjectFromClientID(mux.Vars(r)["client_id"])
	if subject == "" {
		h.writeError(w, http.StatusBadRequest, models.ErrSubjectRequired.Error())
		return
	}

	sensors := h.processor.SensorsFor(subject)
	if len(sensors) == 0 {
		h.writeError(w, http.StatusNotFound, "no readings for "+subject)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject": subject,
		"sensors": sensors,
	})
}

func statisticsResponse(subject string, sensor models.SensorKind, summary *analytics.Summary) models.StatisticsResponse {
	return models.StatisticsResponse{
		Subject:    subject,
		Sensor:     sensor,
		SensorName: sensor.DisplayName(),
		Mean:       summary.Mean,
		Std:        summary.Std,
		Min:        summary.Min,
		Max:        summary.Max,
		Median:     summary.Median,
		Count:      summary.Count,
	}
}

func (h *ReadingHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	sensor := models.ParseSensorKind(r.URL.Query().Get("sensor"))
	if subject == "" || sensor == "" {
		h.writeError(w, http.StatusBadRequest, "subject and sensor parameters are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	record, err := h.store.LatestVerdict(ctx, subject, sensor)
	if err != nil {
		h.logger.Error("Failed to load verdict", "subject", subject, "sensor", sensor, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get analysis")
		return
	}
	if record == nil {
		h.writeError(w, http.StatusNotFound, "no recent verdict for "+subject+"/"+string(sensor))
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

func (h *ReadingHandler) HandleAnomalies(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["subject"]

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	records, err := h.store.RecentAnomalies(ctx, subject, limit)
	if err != nil {
		h.logger.Error("Failed to load anomalies", "subject", subject, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get anomalies")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject":   subject,
		"anomalies": records,
	})
}

var errInvalidLimit = errors.New("limit must be a positive integer")

func parseLimit(raw string) (int64, error) {
	if raw == "" {
		return defaultAnomalyLimit, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	if n > maxAnomalyLimit {
		n = maxAnomalyLimit
	}
	return n, nil
}

func (h *ReadingHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	status, code := "healthy", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]string{
		"status":    status,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// writeJSON encodes v before touching the response so that an unencodable
// value becomes a 500 instead of a truncated 200.
func (h *ReadingHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode response", "status", status, "error", err)
		status = http.StatusInternalServerError
		data = []byte(`{"error":"failed to encode response"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

func (h *ReadingHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
