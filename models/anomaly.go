package models

import "time"

type FindingRecord struct {
	Type       string   `json:"type"`
	Message    string   `json:"message"`
	Severity   string   `json:"severity"`
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	ZScore     *float64 `json:"z_score,omitempty"`
	Mean       *float64 `json:"mean,omitempty"`
	Std        *float64 `json:"std,omitempty"`
	ChangeRate *float64 `json:"change_rate,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
	Trend      string   `json:"trend,omitempty"`
}

// AnomalyRecord is the persisted form of a detector verdict.
type AnomalyRecord struct {
	ID         string          `json:"id"`
	Subject    string          `json:"subject"`
	Sensor     SensorKind      `json:"sensor"`
	SensorName string          `json:"sensor_name"`
	Value      float64         `json:"value"`
	Severity   string          `json:"severity"`
	Findings   []FindingRecord `json:"findings"`
	WindowMean float64         `json:"window_mean"`
	WindowStd  float64         `json:"window_std"`
	DetectedAt time.Time       `json:"detected_at"`
	ReadingAt  time.Time       `json:"reading_at"`
}

type StatisticsResponse struct {
	Subject    string     `json:"subject"`
	Sensor     SensorKind `json:"sensor"`
	SensorName string     `json:"sensor_name"`
	Mean       float64    `json:"mean"`
	Std        float64    `json:"std"`
	Min        float64    `json:"min"`
	Max        float64    `json:"max"`
	Median     float64    `json:"median"`
	Count      int        `json:"count"`
}
