package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"biometric-stream-monitor/config"
	"biometric-stream-monitor/models"

	"github.com/go-redis/redis/v8"
)

const (
	verdictPrefix = "verdict:"
	historyPrefix = "anomalies:"
)

type RedisClient struct {
	client       *redis.Client
	verdictTTL   time.Duration
	historyLimit int64
}

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return newRedisClient(rdb, cfg), nil
}

func newRedisClient(rdb *redis.Client, cfg config.RedisConfig) *RedisClient {
	ttl := cfg.VerdictTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 100
	}

	return &RedisClient{
		client:       rdb,
		verdictTTL:   ttl,
		historyLimit: limit,
	}
}

func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// verdictKey length-prefixes the subject so that no (subject, sensor) pair can
// spell another pair's key, whatever either part contains.
func verdictKey(subject string, sensor models.SensorKind) string {
	return fmt.Sprintf("%s%d:%s:%s", verdictPrefix, len(subject), subject, sensor)
}

func historyKey(subject string) string {
	return historyPrefix + subject
}

// SaveVerdict stores the record as the key's latest verdict and prepends it to
// the subject's anomaly history.
func (rc *RedisClient) SaveVerdict(ctx context.Context, record models.AnomalyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}

	_, err = rc.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, verdictKey(record.Subject, record.Sensor), data, rc.verdictTTL)
		pipe.LPush(ctx, historyKey(record.Subject), data)
		pipe.LTrim(ctx, historyKey(record.Subject), 0, rc.historyLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save verdict: %w", err)
	}
	return nil
}

func (rc *RedisClient) LatestVerdict(ctx context.Context, subject string, sensor models.SensorKind) (*models.AnomalyRecord, error) {
	val, err := rc.client.Get(ctx, verdictKey(subject, sensor)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record models.AnomalyRecord
	if err := json.Unmarshal(val, &record); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}

	return &record, nil
}

// RecentAnomalies returns up to limit records for the subject, newest first.
func (rc *RedisClient) RecentAnomalies(ctx context.Context, subject string, limit int64) ([]models.AnomalyRecord, error) {
	if limit <= 0 {
		return []models.AnomalyRecord{}, nil
	}

	vals, err := rc.client.LRange(ctx, historyKey(subject), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.AnomalyRecord, 0, len(vals))
	for _, val := range vals {
		var record models.AnomalyRecord
		if err := json.Unmarshal([]byte(val), &record); err != nil {
			return nil, fmt.Errorf("failed to decode anomaly: %w", err)
		}
		records = append(records, record)
	}

	return records, nil
}
