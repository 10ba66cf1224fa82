package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters for HTTP requests and jobs.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	jobCount     map[string]int64
	jobFailures  map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		jobCount:     make(map[string]int64),
		jobFailures:  make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordJob increments job counters, split by outcome.
func (m *Metrics) RecordJob(queue, jobType string, failed bool) {
	if m == nil {
		return
	}
	key := queue + "|" + jobType
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobCount[key]++
	if failed {
		m.jobFailures[key]++
	}
}

// JobCounts returns a copy of the per-queue job counters.
func (m *Metrics) JobCounts() (processed, failed map[string]int64) {
	processed = make(map[string]int64)
	failed = make(map[string]int64)
	if m == nil {
		return processed, failed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.jobCount {
		processed[k] = v
	}
	for k, v := range m.jobFailures {
		failed[k] = v
	}
	return processed, failed
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
