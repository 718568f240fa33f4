package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Counter names recorded by the bridge and dispatcher.
const (
	CounterUpdatesAdmitted   = "updates_admitted"
	CounterUpdatesDuplicate  = "updates_duplicate"
	CounterUpdatesIgnored    = "updates_ignored"
	CounterUpdatesDropped    = "updates_dropped"
	CounterUpdatesThrottled  = "updates_throttled"
	CounterTicketsCreated    = "tickets_created"
	CounterTopicsCreated     = "topics_created"
	CounterActionsEnqueued   = "actions_enqueued"
	CounterActionsDuplicate  = "actions_duplicate"
	CounterActionsSucceeded  = "actions_succeeded"
	CounterActionsRetried    = "actions_retried"
	CounterActionsFailed     = "actions_failed"
	CounterMirrorMissed      = "mirror_missed"
	CounterTransitionMissed  = "transition_missed"
	CounterUnknownTopic      = "unknown_topic"
	CounterStateInconsistent = "state_inconsistent"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	counters     map[string]int64
	started      time.Time
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		counters:     make(map[string]int64),
		started:      time.Now(),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, _ time.Duration) {
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

// Inc bumps a named counter by one.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// Add bumps a named counter by delta.
func (m *Metrics) Add(name string, delta int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

// Counter returns the current value of a named counter.
func (m *Metrics) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	Counters      map[string]int64 `json:"counters"`
	Requests      map[string]int64 `json:"requests"`
	Errors        map[string]int64 `json:"errors"`
}

// Snapshot copies the counters under the lock.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{Counters: map[string]int64{}, Requests: map[string]int64{}, Errors: map[string]int64{}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		UptimeSeconds: int64(time.Since(m.started).Seconds()),
		Counters:      copyCounts(m.counters),
		Requests:      copyCounts(m.requestCount),
		Errors:        copyCounts(m.errorCount),
	}
}

// Names lists named counters that have been touched, sorted.
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
