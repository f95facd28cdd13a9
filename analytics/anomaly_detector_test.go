package analytics

import (
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"biometric-stream-monitor/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customSensor = models.SensorKind("custom")

func newDetector(t *testing.T, windowSize int, zThreshold float64) *SlidingWindowDetector {
	t.Helper()
	d, err := NewSlidingWindowDetector(DetectorConfig{WindowSize: windowSize, ZThreshold: zThreshold})
	require.NoError(t, err)
	return d
}

func ingestAll(t *testing.T, d *SlidingWindowDetector, subject string, sensor models.SensorKind, values ...float64) []*Verdict {
	t.Helper()
	verdicts := make([]*Verdict, 0, len(values))
	for _, v := range values {
		verdict, err := d.Ingest(subject, sensor, v)
		require.NoError(t, err)
		verdicts = append(verdicts, verdict)
	}
	return verdicts
}

func kinds(v *Verdict) []FindingKind {
	out := make([]FindingKind, 0, len(v.Findings))
	for _, f := range v.Findings {
		out = append(out, f.Kind())
	}
	return out
}

func TestNewSlidingWindowDetector_InvalidConfig(t *testing.T) {
	_, err := NewSlidingWindowDetector(DetectorConfig{WindowSize: 1, ZThreshold: 3})
	assert.ErrorIs(t, err, ErrInvalidWindowSize)

	_, err = NewSlidingWindowDetector(DetectorConfig{WindowSize: 20, ZThreshold: 0})
	assert.ErrorIs(t, err, ErrInvalidZThreshold)

	_, err = NewSlidingWindowDetector(DetectorConfig{WindowSize: 20, ZThreshold: math.NaN()})
	assert.ErrorIs(t, err, ErrInvalidZThreshold)

	d, err := NewSlidingWindowDetector(DefaultDetectorConfig())
	require.NoError(t, err)
	assert.Equal(t, 20, d.Config().WindowSize)
	assert.Equal(t, 3.0, d.Config().ZThreshold)
}

func TestDetectorConfig_MinSamples(t *testing.T) {
	assert.Equal(t, 10, DetectorConfig{WindowSize: 20}.MinSamples())
	assert.Equal(t, 3, DetectorConfig{WindowSize: 5}.MinSamples())
	assert.Equal(t, 1, DetectorConfig{WindowSize: 2}.MinSamples())
}

func TestIngest_WindowKeepsMostRecentSamples(t *testing.T) {
	d := newDetector(t, 5, 3)
	key := WindowKey{Subject: "alice", Sensor: customSensor}

	for i := 1; i <= 12; i++ {
		_, err := d.Ingest(key.Subject, key.Sensor, float64(i))
		require.NoError(t, err)

		values := d.windows[key].window.Values()
		expectedLen := i
		if expectedLen > 5 {
			expectedLen = 5
		}
		require.Len(t, values, expectedLen)
		assert.Equal(t, float64(i), values[len(values)-1])
		assert.Equal(t, float64(i-expectedLen+1), values[0])
	}

	assert.Equal(t, []float64{8, 9, 10, 11, 12}, d.windows[key].window.Values())
}

func TestIngest_ColdStartSuppression(t *testing.T) {
	d := newDetector(t, 20, 3)

	// Wildly out of range, but the window is not half full yet.
	values := []float64{10, 300, 5, 250, 0, 400, 1, 999, 2}
	for i, verdict := range ingestAll(t, d, "alice", models.SensorHeartRate, values...) {
		assert.Nil(t, verdict, "ingest %d should be suppressed", i+1)
	}

	verdict, err := d.Ingest("alice", models.SensorHeartRate, 500)
	require.NoError(t, err)
	require.NotNil(t, verdict, "10th sample reaches half capacity")
	assert.Equal(t, KindAbsoluteThreshold, verdict.Findings[0].Kind())
}

func TestIngest_ColdStartOddWindowRoundsUp(t *testing.T) {
	d := newDetector(t, 5, 3)

	verdicts := ingestAll(t, d, "alice", models.SensorHeartRate, 500, 500)
	assert.Nil(t, verdicts[0])
	assert.Nil(t, verdicts[1])

	verdict, err := d.Ingest("alice", models.SensorHeartRate, 500)
	require.NoError(t, err)
	require.NotNil(t, verdict)
}

func TestIngest_AbsoluteThresholdRanksFirst(t *testing.T) {
	d := newDetector(t, 20, 3)

	for _, v := range ingestAll(t, d, "alice", models.SensorHeartRate, 70, 70, 70, 70, 70, 70, 70, 70, 70, 70) {
		assert.Nil(t, v)
	}

	verdict, err := d.Ingest("alice", models.SensorHeartRate, 200)
	require.NoError(t, err)
	require.NotNil(t, verdict)

	top := verdict.Findings[0]
	assert.Equal(t, KindAbsoluteThreshold, top.Kind())
	assert.Equal(t, SeverityHigh, top.Severity())
	assert.Equal(t, models.Range{Min: 40, Max: 180}, top.(AbsoluteThresholdFinding).Bound)

	// One outlier among 11 samples has z = sqrt(10); the jump from 70 is 185%.
	assert.Equal(t, []FindingKind{KindAbsoluteThreshold, KindStatistical, KindRapidChange}, kinds(verdict))
	stat := verdict.Findings[1].(StatisticalFinding)
	assert.InDelta(t, math.Sqrt(10), stat.ZScore, 1e-9)
	assert.Equal(t, SeverityMedium, stat.Severity())
	assert.Equal(t, SeverityMedium, verdict.Findings[2].Severity())

	assert.Equal(t, 200.0, verdict.Value)
	assert.Equal(t, "alice", verdict.Subject)
	assert.Equal(t, models.SensorHeartRate, verdict.Sensor)
}

func TestIngest_StatisticalUsesPostInsertionWindow(t *testing.T) {
	d := newDetector(t, 20, 3)

	for _, v := range ingestAll(t, d, "alice", customSensor, repeat(10, 19)...) {
		assert.Nil(t, v)
	}

	verdict, err := d.Ingest("alice", customSensor, 1000)
	require.NoError(t, err)
	require.NotNil(t, verdict)

	stat, ok := verdict.Findings[0].(StatisticalFinding)
	require.True(t, ok, "statistical finding ranks first, got %T", verdict.Findings[0])
	assert.Equal(t, SeverityHigh, stat.Severity())
	assert.InDelta(t, math.Sqrt(19), stat.ZScore, 1e-9)
	assert.Greater(t, stat.Std, 0.0, "std is taken after 1000 joined the window")
	assert.InDelta(t, (19*10+1000)/20.0, stat.Mean, 1e-9)

	assert.Equal(t, stat.Mean, verdict.WindowMean)
	assert.Equal(t, stat.Std, verdict.WindowStd)
}

func TestIngest_StatisticalSmallWindow(t *testing.T) {
	// Five flat samples then an outlier: the prior std is zero, yet the check
	// still fires because it runs on the six-sample window including 1000.
	d := newDetector(t, 10, 2)

	ingestAll(t, d, "alice", customSensor, 10, 10, 10, 10, 10)

	verdict, err := d.Ingest("alice", customSensor, 1000)
	require.NoError(t, err)
	require.NotNil(t, verdict)

	stat := verdict.Findings[0].(StatisticalFinding)
	assert.InDelta(t, math.Sqrt(5), stat.ZScore, 1e-9)
	assert.Equal(t, SeverityMedium, stat.Severity())
}

func TestIngest_ZeroStdSkipsStatistical(t *testing.T) {
	d := newDetector(t, 4, 3)

	verdicts := ingestAll(t, d, "alice", customSensor, 5, 5, 5, 5, 5)
	for _, v := range verdicts {
		assert.Nil(t, v)
	}
}

func TestIngest_RapidChange(t *testing.T) {
	tests := []struct {
		name     string
		sensor   models.SensorKind
		prev     float64
		current  float64
		rate     float64
		severity Severity
	}{
		{"heart rate 60% is medium", models.SensorHeartRate, 50, 80, 60, SeverityMedium},
		{"heart rate 40% is low", models.SensorHeartRate, 50, 70, 40, SeverityLow},
		{"unknown sensor uses 50% default", customSensor, 10, 16, 60, SeverityLow},
		{"drop counts as change", models.SensorInterBeat, 1000, 600, 40, SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDetector(t, 4, 3)

			verdicts := ingestAll(t, d, "alice", tt.sensor, tt.prev, tt.current)
			assert.Nil(t, verdicts[0])
			require.NotNil(t, verdicts[1])
			require.Len(t, verdicts[1].Findings, 1)

			f, ok := verdicts[1].Findings[0].(RapidChangeFinding)
			require.True(t, ok)
			assert.InDelta(t, tt.rate, f.ChangeRate, 1e-9)
			assert.Equal(t, tt.severity, f.Severity())
		})
	}
}

func TestIngest_RapidChangeBelowThreshold(t *testing.T) {
	d := newDetector(t, 4, 3)

	verdicts := ingestAll(t, d, "alice", models.SensorHeartRate, 70, 80)
	assert.Nil(t, verdicts[1])
}

func TestIngest_RapidChangeFromZeroPrevious(t *testing.T) {
	d := newDetector(t, 4, 3)

	verdicts := ingestAll(t, d, "alice", customSensor, 0, 100)
	assert.Nil(t, verdicts[1], "a zero previous sample yields change rate 0")
}

func TestIngest_Trend(t *testing.T) {
	tests := []struct {
		name      string
		values    []float64
		direction TrendDirection
		found     bool
	}{
		{"increasing", []float64{100, 105, 110, 115, 120}, TrendIncreasing, true},
		{"decreasing", []float64{120, 115, 110, 105, 100}, TrendDecreasing, true},
		{"mixed", []float64{100, 105, 103, 110, 115}, "", false},
		{"flat", []float64{100, 100, 100, 100, 100}, "", false},
		{"plateau breaks trend", []float64{100, 105, 105, 110, 115}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDetector(t, 10, 3)

			verdicts := ingestAll(t, d, "alice", models.SensorHeartRate, tt.values...)
			for _, v := range verdicts[:4] {
				assert.Nil(t, v)
			}

			last := verdicts[4]
			if !tt.found {
				assert.Nil(t, last)
				return
			}

			require.NotNil(t, last)
			require.Len(t, last.Findings, 1)
			trend, ok := last.Findings[0].(TrendFinding)
			require.True(t, ok)
			assert.Equal(t, tt.direction, trend.Direction)
			assert.Equal(t, SeverityLow, trend.Severity())
		})
	}
}

func TestIngest_TrendUsesOnlyLastFiveSamples(t *testing.T) {
	d := newDetector(t, 10, 3)

	verdicts := ingestAll(t, d, "alice", models.SensorHeartRate, 130, 100, 104, 108, 112, 116)
	last := verdicts[5]
	require.NotNil(t, last)
	assert.Contains(t, kinds(last), KindTrend)
}

func TestIngest_FindingsSortedBySeverity(t *testing.T) {
	d := newDetector(t, 20, 3)

	// Rising trend ending far outside range: trend (low) is detected last but
	// must stay behind every higher severity.
	ingestAll(t, d, "alice", models.SensorSkinTemperature, repeat(36.5, 15)...)
	verdicts := ingestAll(t, d, "alice", models.SensorSkinTemperature, 36.6, 36.7, 36.8, 45)

	verdict := verdicts[3]
	require.NotNil(t, verdict)
	for i := 1; i < len(verdict.Findings); i++ {
		assert.GreaterOrEqual(t, verdict.Findings[i-1].Severity(), verdict.Findings[i].Severity())
	}
	assert.Equal(t, KindAbsoluteThreshold, verdict.Findings[0].Kind())
	assert.Equal(t, KindTrend, verdict.Findings[len(verdict.Findings)-1].Kind())
	assert.Equal(t, SeverityHigh, verdict.Severity())
}

func TestIngest_RejectsNonFinite(t *testing.T) {
	d := newDetector(t, 4, 3)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		verdict, err := d.Ingest("alice", models.SensorHeartRate, v)
		assert.ErrorIs(t, err, ErrNonFiniteValue)
		assert.Nil(t, verdict)
	}

	assert.Equal(t, 0, d.Keys(), "rejected values never create a window")
}

func TestIngest_KeysAreIndependent(t *testing.T) {
	d := newDetector(t, 4, 3)

	ingestAll(t, d, "alice_hr", models.SensorSkinTemperature, 36.5)
	ingestAll(t, d, "alice", models.SensorKind("hr_temp"), 99)
	ingestAll(t, d, "bob", models.SensorHeartRate, 50)

	assert.Equal(t, 3, d.Keys())

	// bob's first sample must not be compared with anyone else's window.
	verdict, err := d.Ingest("bob", models.SensorHeartRate, 52)
	require.NoError(t, err)
	assert.Nil(t, verdict)
}

func TestIngest_VerdictTimestamp(t *testing.T) {
	d := newDetector(t, 2, 3)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	verdict, err := d.Ingest("alice", models.SensorHeartRate, 250)
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.Equal(t, fixed, verdict.Timestamp)
}

func TestStatistics(t *testing.T) {
	d := newDetector(t, 20, 3)

	summary, ok := d.Statistics("alice", models.SensorHeartRate)
	assert.False(t, ok)
	assert.Nil(t, summary)

	ingestAll(t, d, "alice", models.SensorHeartRate, 42)

	summary, ok = d.Statistics("alice", models.SensorHeartRate)
	require.True(t, ok)
	assert.Equal(t, Summary{Mean: 42, Std: 0, Min: 42, Max: 42, Median: 42, Count: 1}, *summary)
}

func TestStatistics_EvenCountMedian(t *testing.T) {
	d := newDetector(t, 20, 3)
	ingestAll(t, d, "alice", customSensor, 10, 1, 3, 2)

	summary, ok := d.Statistics("alice", customSensor)
	require.True(t, ok)
	assert.Equal(t, 4, summary.Count)
	assert.InDelta(t, 4.0, summary.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(12.5), summary.Std, 1e-12)
	assert.Equal(t, 1.0, summary.Min)
	assert.Equal(t, 10.0, summary.Max)
	assert.Equal(t, 2.5, summary.Median)

	// Statistics is a pure read.
	assert.Equal(t, []float64{10, 1, 3, 2}, d.windows[WindowKey{"alice", customSensor}].window.Values())
}

func TestIngest_ExtremeFiniteValuesStayFinite(t *testing.T) {
	d := newDetector(t, 4, 3)

	verdicts := ingestAll(t, d, "alice", customSensor, 1e308, 1e308, 1e308, 1.7e308)
	verdict := verdicts[3]
	require.NotNil(t, verdict)
	assert.Equal(t, []FindingKind{KindRapidChange}, kinds(verdict))

	assert.False(t, math.IsInf(verdict.WindowMean, 0))
	assert.False(t, math.IsInf(verdict.WindowStd, 0))
	assert.InEpsilon(t, 1.175e308, verdict.WindowMean, 1e-9)
	assert.InEpsilon(t, math.Sqrt(0.091875)*1e308, verdict.WindowStd, 1e-9)

	_, err := json.Marshal(verdict.Record("v1", time.Now()))
	require.NoError(t, err)

	summary, ok := d.Statistics("alice", customSensor)
	require.True(t, ok)
	assert.InEpsilon(t, 1.175e308, summary.Mean, 1e-9)
	assert.Equal(t, 1e308, summary.Median)
	assert.Equal(t, 1.7e308, summary.Max)
	_, err = json.Marshal(summary)
	require.NoError(t, err)
}

func TestIngest_ExtremeOppositeSigns(t *testing.T) {
	d := newDetector(t, 2, 3)

	verdicts := ingestAll(t, d, "alice", customSensor, -1.7e308, 1.7e308)
	require.NotNil(t, verdicts[1])

	f, ok := verdicts[1].Findings[0].(RapidChangeFinding)
	require.True(t, ok)
	assert.InDelta(t, 200.0, f.ChangeRate, 1e-9)
	assert.Equal(t, 0.0, verdicts[1].WindowMean)
	assert.InEpsilon(t, 1.7e308, verdicts[1].WindowStd, 1e-12)

	summary, ok := d.Statistics("alice", customSensor)
	require.True(t, ok)
	assert.Equal(t, 0.0, summary.Median)
}

func TestChangeRate_CapsUnrepresentableRates(t *testing.T) {
	assert.Equal(t, 0.0, changeRate(0, 5))
	assert.InDelta(t, 60.0, changeRate(50, 80), 1e-9)
	assert.Equal(t, math.MaxFloat64, changeRate(1e-300, 1e300))
}

func TestStatistics_ReflectsEviction(t *testing.T) {
	d := newDetector(t, 3, 3)
	ingestAll(t, d, "alice", customSensor, 100, 1, 2, 3)

	summary, ok := d.Statistics("alice", customSensor)
	require.True(t, ok)
	assert.Equal(t, 3, summary.Count)
	assert.Equal(t, 3.0, summary.Max)
}

func TestIngest_ConcurrentKeys(t *testing.T) {
	d := newDetector(t, 20, 3)
	subjects := []string{"alice", "bob", "carol", "dave"}

	var wg sync.WaitGroup
	for _, s := range subjects {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(subject string) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					_, err := d.Ingest(subject, models.SensorHeartRate, 60+float64(i%20))
					assert.NoError(t, err)
				}
			}(s)
		}
	}
	wg.Wait()

	assert.Equal(t, len(subjects), d.Keys())
	for _, s := range subjects {
		summary, ok := d.Statistics(s, models.SensorHeartRate)
		require.True(t, ok)
		assert.Equal(t, 20, summary.Count)
	}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSensorsFor(t *testing.T) {
	d := newDetector(t, 4, 3)
	assert.Empty(t, d.SensorsFor("alice"))

	ingestAll(t, d, "alice", models.SensorSkinTemperature, 36.5)
	ingestAll(t, d, "alice", models.SensorHeartRate, 70)
	ingestAll(t, d, "bob", models.SensorElectrodermal, 2)
	ingestAll(t, d, "alice_dev", models.SensorInterBeat, 800)

	assert.Equal(t, []models.SensorKind{models.SensorHeartRate, models.SensorSkinTemperature}, d.SensorsFor("alice"))
	assert.Equal(t, []models.SensorKind{models.SensorElectrodermal}, d.SensorsFor("bob"))
}
