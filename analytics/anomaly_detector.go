package analytics

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"biometric-stream-monitor/models"

	"github.com/montanaflynn/stats"
)

const (
	DefaultWindowSize = 20
	DefaultZThreshold = 3.0

	minStatisticalSamples = 3
	minRapidChangeSamples = 2
	trendSamples          = 5
)

var (
	ErrInvalidWindowSize = errors.New("window size must be at least 2")
	ErrInvalidZThreshold = errors.New("z threshold must be positive")
	ErrNonFiniteValue    = errors.New("value must be finite")
)

type DetectorConfig struct {
	WindowSize int
	ZThreshold float64
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		WindowSize: DefaultWindowSize,
		ZThreshold: DefaultZThreshold,
	}
}

func (c DetectorConfig) Validate() error {
	if c.WindowSize < 2 {
		return ErrInvalidWindowSize
	}
	if !(c.ZThreshold > 0) || math.IsInf(c.ZThreshold, 0) {
		return ErrInvalidZThreshold
	}
	return nil
}

// MinSamples is the window length required before verdicts are produced.
func (c DetectorConfig) MinSamples() int {
	return (c.WindowSize + 1) / 2
}

type WindowKey struct {
	Subject string
	Sensor  models.SensorKind
}

type Summary struct {
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	Count  int     `json:"count"`
}

type keyedWindow struct {
	mu     sync.Mutex
	window *RollingWindow
}

// SlidingWindowDetector keeps one rolling window per (subject, sensor) and
// evaluates every new sample against threshold, z-score, rapid-change and
// trend rules. Ingests on the same key are serialized; different keys do not
// contend beyond the map lookup.
type SlidingWindowDetector struct {
	cfg     DetectorConfig
	windows map[WindowKey]*keyedWindow
	mu      sync.RWMutex
	now     func() time.Time
}

func NewSlidingWindowDetector(cfg DetectorConfig) (*SlidingWindowDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &SlidingWindowDetector{
		cfg:     cfg,
		windows: make(map[WindowKey]*keyedWindow),
		now:     time.Now,
	}, nil
}

func (d *SlidingWindowDetector) Config() DetectorConfig {
	return d.cfg
}

// Keys returns the number of live windows.
func (d *SlidingWindowDetector) Keys() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.windows)
}

// SensorsFor lists the sensors that have a window for subject, sorted by code.
func (d *SlidingWindowDetector) SensorsFor(subject string) []models.SensorKind {
	d.mu.RLock()
	var sensors []models.SensorKind
	for key := range d.windows {
		if key.Subject == subject {
			sensors = append(sensors, key.Sensor)
		}
	}
	d.mu.RUnlock()

	sort.Slice(sensors, func(i, j int) bool { return sensors[i] < sensors[j] })
	return sensors
}

func (d *SlidingWindowDetector) window(key WindowKey, create bool) *keyedWindow {
	d.mu.RLock()
	kw, exists := d.windows[key]
	d.mu.RUnlock()

	if exists || !create {
		return kw
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if kw, exists = d.windows[key]; !exists {
		kw = &keyedWindow{window: NewRollingWindow(d.cfg.WindowSize)}
		d.windows[key] = kw
	}
	return kw
}

// Ingest appends value to the key's window and returns a verdict when at least
// one rule fires. It returns nil while the window is still warming up.
func (d *SlidingWindowDetector) Ingest(subject string, sensor models.SensorKind, value float64) (*Verdict, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, ErrNonFiniteValue
	}

	kw := d.window(WindowKey{Subject: subject, Sensor: sensor}, true)

	kw.mu.Lock()
	kw.window.Add(value)
	if kw.window.Len() < d.cfg.MinSamples() {
		kw.mu.Unlock()
		return nil, nil
	}
	values := kw.window.Values()
	prev, hasPrev := kw.window.Previous()
	kw.mu.Unlock()

	findings, m := d.evaluate(sensor, value, values, prev, hasPrev)
	if len(findings) == 0 {
		return nil, nil
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity() > findings[j].Severity()
	})

	return &Verdict{
		Timestamp:  d.now(),
		Subject:    subject,
		Sensor:     sensor,
		Value:      value,
		Findings:   findings,
		WindowMean: m.mean,
		WindowStd:  m.std,
	}, nil
}

// evaluate runs every rule against the post-insertion window, oldest first,
// whose last element is value.
func (d *SlidingWindowDetector) evaluate(sensor models.SensorKind, value float64, values []float64, prev float64, hasPrev bool) ([]Finding, windowMoments) {
	var findings []Finding

	if bound, ok := models.NormalRange(sensor); ok && !bound.Contains(value) {
		findings = append(findings, AbsoluteThresholdFinding{Value: value, Bound: bound})
	}

	m := moments(values)

	if len(values) >= minStatisticalSamples && m.scaledStd > 0 {
		if z := m.zScore(value); z > d.cfg.ZThreshold {
			findings = append(findings, StatisticalFinding{ZScore: z, Mean: m.mean, Std: m.std})
		}
	}

	if len(values) >= minRapidChangeSamples && hasPrev {
		threshold := models.RapidChangeThreshold(sensor)
		if rate := changeRate(prev, value); rate > threshold {
			findings = append(findings, RapidChangeFinding{ChangeRate: rate, Threshold: threshold})
		}
	}

	if len(values) >= trendSamples {
		if dir, ok := detectTrend(values[len(values)-trendSamples:]); ok {
			findings = append(findings, TrendFinding{Direction: dir})
		}
	}

	return findings, m
}

// Statistics summarizes the key's current window. The second return is false
// when the key has no samples.
func (d *SlidingWindowDetector) Statistics(subject string, sensor models.SensorKind) (*Summary, bool) {
	kw := d.window(WindowKey{Subject: subject, Sensor: sensor}, false)
	if kw == nil {
		return nil, false
	}

	kw.mu.Lock()
	values := kw.window.Values()
	kw.mu.Unlock()

	if len(values) == 0 {
		return nil, false
	}

	m := moments(values)
	minimum, _ := stats.Min(values)
	maximum, _ := stats.Max(values)

	return &Summary{
		Mean:   m.mean,
		Std:    m.std,
		Min:    minimum,
		Max:    maximum,
		Median: median(values),
		Count:  len(values),
	}, true
}

// windowMoments holds the population mean and standard deviation of a window.
// They are computed on values divided by the largest magnitude, so sums stay
// finite for any finite input.
type windowMoments struct {
	mean, std float64

	scale                 float64
	scaledMean, scaledStd float64
}

func moments(values []float64) windowMoments {
	if len(values) == 0 {
		return windowMoments{}
	}

	lo, _ := stats.Min(values)
	hi, _ := stats.Max(values)
	scale := math.Max(math.Abs(lo), math.Abs(hi))
	if scale == 0 {
		return windowMoments{}
	}

	scaled := make([]float64, len(values))
	for i, v := range values {
		scaled[i] = v / scale
	}
	sm, _ := stats.Mean(scaled)
	ss, _ := stats.StandardDeviationPopulation(scaled)

	return windowMoments{
		mean:       sm * scale,
		std:        ss * scale,
		scale:      scale,
		scaledMean: sm,
		scaledStd:  ss,
	}
}

// zScore is |x - mean| / std, evaluated in the scaled domain.
func (m windowMoments) zScore(x float64) float64 {
	if m.scaledStd == 0 {
		return 0
	}
	return math.Abs(x/m.scale-m.scaledMean) / m.scaledStd
}

// median averages the two middle samples as halves so that it cannot overflow.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1]/2 + sorted[n/2]/2
}

// changeRate is the absolute percentage change from prev. A zero prev yields 0
// and a rate too large to represent is capped at math.MaxFloat64.
func changeRate(prev, current float64) float64 {
	if prev == 0 {
		return 0
	}
	rate := math.Abs((current - prev) / prev * 100)
	if math.IsInf(rate, 0) {
		// current-prev overflowed; retry on the ratio before capping.
		rate = math.Abs(current/prev-1) * 100
	}
	if math.IsInf(rate, 0) {
		return math.MaxFloat64
	}
	return rate
}

func detectTrend(values []float64) (TrendDirection, bool) {
	if len(values) < 2 {
		return "", false
	}

	rising, falling := true, true
	for i := 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		if diff <= 0 {
			rising = false
		}
		if diff >= 0 {
			falling = false
		}
	}

	switch {
	case rising:
		return TrendIncreasing, true
	case falling:
		return TrendDecreasing, true
	}
	return "", false
}
