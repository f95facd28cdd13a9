package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
)

// Baseline and spread for each sensor. Roughly one reading in a hundred is
// pushed far outside the baseline so the detector has something to flag.
var sensorProfiles = []struct {
	sensor string
	base   float64
	spread float64
}{
	{"hr", 75, 8},
	{"temp", 36.6, 0.2},
	{"eda", 2.5, 0.5},
	{"bvp", 0, 30},
	{"ibi", 800, 60},
	{"acc", 1, 0.3},
}

const spikeFactor = 8

type runStats struct {
	sent     int64
	accepted int64
	dropped  int64 // 503 from a full ingest queue
	failed   int64
	spikes   int64

	mu        sync.Mutex
	latencies []float64 // milliseconds, accepted requests only
}

func (s *runStats) observe(status int, err error, latency time.Duration) {
	atomic.AddInt64(&s.sent, 1)

	switch {
	case err != nil:
		atomic.AddInt64(&s.failed, 1)
		return
	case status == http.StatusServiceUnavailable:
		atomic.AddInt64(&s.dropped, 1)
		return
	case status != http.StatusOK:
		atomic.AddInt64(&s.failed, 1)
		return
	}

	atomic.AddInt64(&s.accepted, 1)
	s.mu.Lock()
	s.latencies = append(s.latencies, float64(latency.Microseconds())/1000)
	s.mu.Unlock()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run tools/loadtest.go <base-url> [threads] [connections] [duration] [subjects]")
		fmt.Println("Example: go run tools/loadtest.go http://localhost:8080 4 100 30s 10")
		os.Exit(1)
	}

	baseURL := os.Args[1]
	threads, connections, subjects := 4, 100, 10
	duration := 30 * time.Second

	if len(os.Args) > 2 {
		fmt.Sscanf(os.Args[2], "%d", &threads)
	}
	if len(os.Args) > 3 {
		fmt.Sscanf(os.Args[3], "%d", &connections)
	}
	if len(os.Args) > 4 {
		if d, err := time.ParseDuration(os.Args[4]); err == nil {
			duration = d
		}
	}
	if len(os.Args) > 5 {
		fmt.Sscanf(os.Args[5], "%d", &subjects)
	}
	threads = max(threads, 1)
	subjects = max(subjects, 1)
	perThread := max(connections/threads, 1)

	fmt.Printf("Load test: %s, %d threads x %d connections, %v, %d subjects\n\n",
		baseURL, threads, perThread, duration, subjects)

	rs := &runStats{latencies: make([]float64, 0, 10000)}
	start := time.Now()
	deadline := start.Add(duration)

	var wg sync.WaitGroup
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runThread(rs, baseURL, subjects, perThread, deadline)
		}()
	}
	wg.Wait()

	report(rs, time.Since(start))
}

// runThread shares one keep-alive client between its connections.
func runThread(rs *runStats, baseURL string, subjects, connections int, deadline time.Time) {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        connections,
			MaxIdleConnsPerHost: connections,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	var wg sync.WaitGroup
	for c := 0; c < connections; c++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for time.Now().Before(deadline) {
				postReading(client, rs, baseURL, subjects, rng)
			}
		}(time.Now().UnixNano() + int64(c))
	}
	wg.Wait()
}

func postReading(client *http.Client, rs *runStats, baseURL string, subjects int, rng *rand.Rand) {
	profile := sensorProfiles[rng.Intn(len(sensorProfiles))]
	value := profile.base + rng.NormFloat64()*profile.spread
	if rng.Intn(100) == 0 {
		value += spikeFactor * profile.spread
		atomic.AddInt64(&rs.spikes, 1)
	}
	if profile.sensor == "acc" {
		value = math.Abs(value)
	}

	body, _ := json.Marshal(map[string]float64{
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
		"value":     value,
	})
	url := fmt.Sprintf("%s/sensors/subject%d_wrist/%s", baseURL, rng.Intn(subjects), profile.sensor)

	began := time.Now()
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	latency := time.Since(began)

	status := 0
	if resp != nil {
		status = resp.StatusCode
		resp.Body.Close()
	}
	rs.observe(status, err, latency)
}

func report(rs *runStats, elapsed time.Duration) {
	sent := atomic.LoadInt64(&rs.sent)
	accepted := atomic.LoadInt64(&rs.accepted)

	fmt.Println("==========================================")
	fmt.Printf("Duration:       %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Sent:           %d (%.1f req/s)\n", sent, float64(sent)/elapsed.Seconds())
	fmt.Printf("Accepted:       %d\n", accepted)
	fmt.Printf("Dropped (503):  %d\n", atomic.LoadInt64(&rs.dropped))
	fmt.Printf("Failed:         %d\n", atomic.LoadInt64(&rs.failed))
	fmt.Printf("Spikes sent:    %d\n", atomic.LoadInt64(&rs.spikes))
	if sent > 0 {
		fmt.Printf("Accept rate:    %.2f%%\n", float64(accepted)/float64(sent)*100)
	}

	rs.mu.Lock()
	latencies := rs.latencies
	rs.mu.Unlock()

	if len(latencies) == 0 {
		fmt.Println("==========================================")
		return
	}

	fmt.Println("\nLatency (ms):")
	minimum, _ := stats.Min(latencies)
	maximum, _ := stats.Max(latencies)
	mean, _ := stats.Mean(latencies)
	fmt.Printf("  min %.2f  max %.2f  mean %.2f\n", minimum, maximum, mean)
	for _, p := range []float64{50, 95, 99} {
		if v, err := stats.Percentile(latencies, p); err == nil {
			fmt.Printf("  p%-3.0f %.2f\n", p, v)
		}
	}
	fmt.Println("==========================================")
}
