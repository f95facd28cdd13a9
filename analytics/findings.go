package analytics

import (
	"fmt"
	"time"

	"biometric-stream-monitor/models"
)

type Severity int

const (
	SeverityLow    Severity = 1
	SeverityMedium Severity = 2
	SeverityHigh   Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

type FindingKind string

const (
	KindAbsoluteThreshold FindingKind = "absolute_threshold"
	KindStatistical       FindingKind = "statistical"
	KindRapidChange       FindingKind = "rapid_change"
	KindTrend             FindingKind = "trend"
)

type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
)

// Finding is one triggered detection rule. The concrete types below are the
// only implementations.
type Finding interface {
	Kind() FindingKind
	Severity() Severity
	Message() string
}

type AbsoluteThresholdFinding struct {
	Value float64
	Bound models.Range
}

func (f AbsoluteThresholdFinding) Kind() FindingKind  { return KindAbsoluteThreshold }
func (f AbsoluteThresholdFinding) Severity() Severity { return SeverityHigh }
func (f AbsoluteThresholdFinding) Message() string {
	return fmt.Sprintf("value outside normal range (%g-%g)", f.Bound.Min, f.Bound.Max)
}

type StatisticalFinding struct {
	ZScore float64
	Mean   float64
	Std    float64
}

func (f StatisticalFinding) Kind() FindingKind { return KindStatistical }
func (f StatisticalFinding) Severity() Severity {
	if f.ZScore < 4 {
		return SeverityMedium
	}
	return SeverityHigh
}
func (f StatisticalFinding) Message() string {
	return fmt.Sprintf("significant deviation from mean (z-score: %.2f)", f.ZScore)
}

type RapidChangeFinding struct {
	ChangeRate float64
	Threshold  float64
}

func (f RapidChangeFinding) Kind() FindingKind { return KindRapidChange }
func (f RapidChangeFinding) Severity() Severity {
	if f.ChangeRate < 2*f.Threshold {
		return SeverityLow
	}
	return SeverityMedium
}
func (f RapidChangeFinding) Message() string {
	return fmt.Sprintf("rapid change detected (%.1f%%)", f.ChangeRate)
}

type TrendFinding struct {
	Direction TrendDirection
}

func (f TrendFinding) Kind() FindingKind  { return KindTrend }
func (f TrendFinding) Severity() Severity { return SeverityLow }
func (f TrendFinding) Message() string {
	return fmt.Sprintf("sustained %s trend", f.Direction)
}

// Verdict bundles the findings raised by a single sample, most severe first.
type Verdict struct {
	Timestamp  time.Time
	Subject    string
	Sensor     models.SensorKind
	Value      float64
	Findings   []Finding
	WindowMean float64
	WindowStd  float64
}

func (v *Verdict) Severity() Severity {
	if len(v.Findings) == 0 {
		return 0
	}
	return v.Findings[0].Severity()
}

func (v *Verdict) Record(id string, readingAt time.Time) models.AnomalyRecord {
	findings := make([]models.FindingRecord, 0, len(v.Findings))
	for _, f := range v.Findings {
		findings = append(findings, findingRecord(f))
	}

	return models.AnomalyRecord{
		ID:         id,
		Subject:    v.Subject,
		Sensor:     v.Sensor,
		SensorName: v.Sensor.DisplayName(),
		Value:      v.Value,
		Severity:   v.Severity().String(),
		Findings:   findings,
		WindowMean: v.WindowMean,
		WindowStd:  v.WindowStd,
		DetectedAt: v.Timestamp,
		ReadingAt:  readingAt,
	}
}

func findingRecord(f Finding) models.FindingRecord {
	rec := models.FindingRecord{
		Type:     string(f.Kind()),
		Message:  f.Message(),
		Severity: f.Severity().String(),
	}

	switch f := f.(type) {
	case AbsoluteThresholdFinding:
		rec.Min = ptr(f.Bound.Min)
		rec.Max = ptr(f.Bound.Max)
	case StatisticalFinding:
		rec.ZScore = ptr(f.ZScore)
		rec.Mean = ptr(f.Mean)
		rec.Std = ptr(f.Std)
	case RapidChangeFinding:
		rec.ChangeRate = ptr(f.ChangeRate)
		rec.Threshold = ptr(f.Threshold)
	case TrendFinding:
		rec.Trend = string(f.Direction)
	}
	return rec
}

func ptr(v float64) *float64 {
	return &v
}
