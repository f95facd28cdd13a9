package analytics

import (
	"context"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	"biometric-stream-monitor/logging"
	"biometric-stream-monitor/models"

	"github.com/google/uuid"
)

const (
	minWorkers       = 4
	maxWorkers       = 16
	defaultQueueSize = 10000
	storeTimeout     = 2 * time.Second
)

type VerdictStore interface {
	SaveVerdict(ctx context.Context, record models.AnomalyRecord) error
}

type AnomalyCallback func(record models.AnomalyRecord)

type EngineHooks struct {
	OnAnomaly  AnomalyCallback
	OnIngested func(sensor models.SensorKind)
	OnDropped  func(sensor models.SensorKind)
	OnError    func(sensor models.SensorKind)
}

type EngineConfig struct {
	Workers   int
	QueueSize int
}

// NumWorkers resolves the configured worker count, defaulting to twice the
// CPU count and clamping to [4, 16].
func (c EngineConfig) NumWorkers() int {
	n := c.Workers
	if n <= 0 {
		n = runtime.NumCPU() * 2
	}
	if n < minWorkers {
		n = minWorkers
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}

// AnalyticsEngine feeds readings to the detector from a pool of workers. Each
// key is pinned to one worker so its readings are evaluated in arrival order.
type AnalyticsEngine struct {
	detector *SlidingWindowDetector
	store    VerdictStore
	hooks    EngineHooks
	logger   *logging.Logger

	shards    []chan models.Reading
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewAnalyticsEngine(detector *SlidingWindowDetector, store VerdictStore, cfg EngineConfig, hooks EngineHooks, logger *logging.Logger) *AnalyticsEngine {
	if logger == nil {
		logger = logging.Global()
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	numWorkers := cfg.NumWorkers()
	engine := &AnalyticsEngine{
		detector: detector,
		store:    store,
		hooks:    hooks,
		logger:   logger.With("component", "analytics"),
		shards:   make([]chan models.Reading, numWorkers),
	}

	perShard := queueSize / numWorkers
	if perShard < 1 {
		perShard = 1
	}

	engine.logger.Info("Starting analytics workers", "workers", numWorkers, "queue_per_worker", perShard)
	for i := range engine.shards {
		engine.shards[i] = make(chan models.Reading, perShard)
		engine.wg.Add(1)
		go engine.processReadings(engine.shards[i])
	}

	return engine
}

func (ae *AnalyticsEngine) Detector() *SlidingWindowDetector {
	return ae.detector
}

func (ae *AnalyticsEngine) shardFor(subject string, sensor models.SensorKind) chan models.Reading {
	h := fnv.New32a()
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(sensor))
	return ae.shards[h.Sum32()%uint32(len(ae.shards))]
}

// ProcessReading enqueues a reading without blocking. It reports false when
// the reading was dropped because the worker queue is full or the engine is
// closed.
func (ae *AnalyticsEngine) ProcessReading(reading models.Reading) bool {
	ae.mu.RLock()
	defer ae.mu.RUnlock()

	if ae.closed {
		return false
	}

	select {
	case ae.shardFor(reading.Subject, reading.Sensor) <- reading:
		return true
	default:
		ae.logger.Warn("Reading queue is full, dropping reading",
			"subject", reading.Subject,
			"sensor", reading.Sensor)
		if ae.hooks.OnDropped != nil {
			ae.hooks.OnDropped(reading.Sensor)
		}
		return false
	}
}

func (ae *AnalyticsEngine) processReadings(ch <-chan models.Reading) {
	defer ae.wg.Done()
	for reading := range ch {
		ae.processReading(reading)
	}
}

func (ae *AnalyticsEngine) processReading(reading models.Reading) {
	verdict, err := ae.detector.Ingest(reading.Subject, reading.Sensor, reading.Value)
	if err != nil {
		ae.logger.Error("Failed to ingest reading",
			"subject", reading.Subject,
			"sensor", reading.Sensor,
			"error", err)
		if ae.hooks.OnError != nil {
			ae.hooks.OnError(reading.Sensor)
		}
		return
	}

	if ae.hooks.OnIngested != nil {
		ae.hooks.OnIngested(reading.Sensor)
	}

	if verdict == nil {
		return
	}

	record := verdict.Record(uuid.NewString(), reading.Timestamp)

	ae.logger.Warn("Anomaly detected",
		"subject", record.Subject,
		"sensor", record.Sensor,
		"value", record.Value,
		"severity", record.Severity,
		"findings", len(record.Findings),
		"window_mean", record.WindowMean)

	if ae.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := ae.store.SaveVerdict(ctx, record); err != nil {
			ae.logger.Error("Failed to save verdict",
				"subject", record.Subject,
				"sensor", record.Sensor,
				"error", err)
		}
		cancel()
	}

	if ae.hooks.OnAnomaly != nil {
		ae.hooks.OnAnomaly(record)
	}
}

func (ae *AnalyticsEngine) SensorsFor(subject string) []models.SensorKind {
	return ae.detector.SensorsFor(subject)
}

func (ae *AnalyticsEngine) Statistics(subject string, sensor models.SensorKind) (*Summary, bool) {
	return ae.detector.Statistics(subject, sensor)
}

// Close stops accepting readings and waits until queued readings are processed.
func (ae *AnalyticsEngine) Close() {
	ae.closeOnce.Do(func() {
		ae.mu.Lock()
		ae.closed = true
		for _, ch := range ae.shards {
			close(ch)
		}
		ae.mu.Unlock()
		ae.wg.Wait()
	})
}
