package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

var (
	ErrSubjectRequired = errors.New("subject is required")
	ErrSensorRequired  = errors.New("sensor type is required")
	ErrValueRequired   = errors.New("value is required")
	ErrValueNotFinite  = errors.New("value must be a finite number")
)

type Reading struct {
	Subject   string     `json:"subject"`
	Sensor    SensorKind `json:"sensor"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
}

func (r *Reading) Validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return ErrSubjectRequired
	}

	if r.Sensor == "" {
		return ErrSensorRequired
	}

	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return ErrValueNotFinite
	}

	return nil
}

// SensorPayload is the body posted by wearable clients to /sensors/{client_id}/{sensor}.
// Accelerometer clients may send the three axes instead of a scalar value.
type SensorPayload struct {
	Timestamp *float64 `json:"timestamp,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Z         *float64 `json:"z,omitempty"`
}

func (p SensorPayload) ResolveValue() (float64, error) {
	if p.Value != nil {
		return *p.Value, nil
	}
	if p.X != nil && p.Y != nil && p.Z != nil {
		x, y, z := *p.X, *p.Y, *p.Z
		return math.Sqrt(x*x + y*y + z*z), nil
	}
	return 0, ErrValueRequired
}

func (p SensorPayload) ResolveTime(now time.Time) time.Time {
	if p.Timestamp == nil || *p.Timestamp <= 0 {
		return now
	}
	sec, frac := math.Modf(*p.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func (p SensorPayload) ToReading(clientID string, sensor string, now time.Time) (Reading, error) {
	value, err := p.ResolveValue()
	if err != nil {
		return Reading{}, err
	}

	reading := Reading{
		Subject:   SubjectFromClientID(clientID),
		Sensor:    ParseSensorKind(sensor),
		Value:     value,
		Timestamp: p.ResolveTime(now),
	}
	return reading, reading.Validate()
}

// DataPayload is the body of the generic /api/data endpoint.
type DataPayload struct {
	Username   string   `json:"username"`
	SensorType string   `json:"sensor_type"`
	Value      *float64 `json:"value"`
}

func (p DataPayload) ToReading(now time.Time) (Reading, error) {
	if p.Value == nil {
		return Reading{}, ErrValueRequired
	}

	reading := Reading{
		Subject:   strings.TrimSpace(p.Username),
		Sensor:    ParseSensorKind(p.SensorType),
		Value:     *p.Value,
		Timestamp: now,
	}
	return reading, reading.Validate()
}

// SubjectFromClientID maps a device client id such as "alice_device1" to its owner.
func SubjectFromClientID(clientID string) string {
	clientID = strings.TrimSpace(clientID)
	if i := strings.Index(clientID, "_"); i >= 0 {
		return clientID[:i]
	}
	return clientID
}
