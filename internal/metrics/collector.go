package metrics

import (
	"sync"
	"time"
)

// Timing names recorded by the client.
const (
	TimingHTTPLogin   = "http_login"
	TimingWSHandshake = "ws_handshake"
	TimingWSLoginWait = "ws_login_wait"
)

const (
	maxLatencySamples = 20
	maxFailureHistory = 10
)

// FailureRecord is one entry of the recent failure history ring. Entries are
// never mutated after being appended.
type FailureRecord struct {
	At      time.Time     `json:"at"`
	Stage   string        `json:"stage"`
	Kind    string        `json:"kind"`
	Elapsed time.Duration `json:"elapsed"`
	Attempt int           `json:"attempt,omitempty"`
}

// Collector is pure bookkeeping of connection health counters and timers.
// Safe to call from any component at any time. When prometheus metrics are
// initialized via Init the same events are mirrored there.
type Collector struct {
	mu sync.Mutex

	connected bool

	totalCommands    int
	failedCommands   int
	timedOutCommands int

	latencies []time.Duration

	reconnects      int
	websocketErrors int
	pushesReceived  int
	pushesDropped   int
	tokenRefreshes  int

	timings map[string]time.Duration

	failures []FailureRecord

	lastPushAt      time.Time
	lastReconnectAt time.Time
	lastRecvError   string
	lastRecvErrorAt time.Time
}

func NewCollector() *Collector {
	return &Collector{
		timings: make(map[string]time.Duration),
	}
}

// RecordTiming stores the last observed duration for a named stage.
func (c *Collector) RecordTiming(name string, d time.Duration) {
	c.mu.Lock()
	c.timings[name] = d
	c.mu.Unlock()
	if ConnectStageDurationSummary != nil {
		ConnectStageDurationSummary.WithLabelValues(name).Observe(d.Seconds())
	}
}

// RecordCommand records a command execution and its latency.
func (c *Collector) RecordCommand(success bool, latency time.Duration) {
	c.mu.Lock()
	c.totalCommands++
	if !success {
		c.failedCommands++
	}
	if success {
		c.latencies = append(c.latencies, latency)
		if len(c.latencies) > maxLatencySamples {
			c.latencies = c.latencies[1:]
		}
	}
	c.mu.Unlock()
	if success && CommandDurationSummary != nil {
		CommandDurationSummary.Observe(latency.Seconds())
	}
	if !success && CommandErrorsTotal != nil {
		CommandErrorsTotal.WithLabelValues("error").Inc()
	}
}

// RecordTimeout records a command timeout.
func (c *Collector) RecordTimeout() {
	c.mu.Lock()
	c.totalCommands++
	c.failedCommands++
	c.timedOutCommands++
	c.mu.Unlock()
	if CommandErrorsTotal != nil {
		CommandErrorsTotal.WithLabelValues("timeout").Inc()
	}
}

// RecordReconnect records a websocket reconnection.
func (c *Collector) RecordReconnect() {
	c.mu.Lock()
	c.reconnects++
	c.lastReconnectAt = time.Now()
	c.mu.Unlock()
	if ReconnectsTotal != nil {
		ReconnectsTotal.Inc()
	}
}

// RecordWebsocketError records a transport-level error.
func (c *Collector) RecordWebsocketError(kind string) {
	c.mu.Lock()
	c.websocketErrors++
	c.lastRecvError = kind
	c.lastRecvErrorAt = time.Now()
	c.mu.Unlock()
}

// RecordPush records receiving a push update.
func (c *Collector) RecordPush() {
	c.mu.Lock()
	c.pushesReceived++
	c.lastPushAt = time.Now()
	c.mu.Unlock()
	if PushesReceivedTotal != nil {
		PushesReceivedTotal.Inc()
	}
}

// RecordPushDropped records a push update dropped because the dispatch
// queue was full.
func (c *Collector) RecordPushDropped() {
	c.mu.Lock()
	c.pushesDropped++
	c.mu.Unlock()
	if PushesDroppedTotal != nil {
		PushesDroppedTotal.Inc()
	}
}

// RecordTokenRefresh records a bearer token refresh.
func (c *Collector) RecordTokenRefresh() {
	c.mu.Lock()
	c.tokenRefreshes++
	c.mu.Unlock()
	if TokenRefreshesTotal != nil {
		TokenRefreshesTotal.Inc()
	}
}

// RecordConnectionFailure appends an entry to the failure history ring.
// Oldest entries are evicted once the ring is full.
func (c *Collector) RecordConnectionFailure(stage, kind string, elapsed time.Duration, attempt int) {
	c.mu.Lock()
	c.failures = append(c.failures, FailureRecord{
		At:      time.Now(),
		Stage:   stage,
		Kind:    kind,
		Elapsed: elapsed,
		Attempt: attempt,
	})
	if len(c.failures) > maxFailureHistory {
		c.failures = c.failures[1:]
	}
	c.mu.Unlock()
}

// SetConnected flips the connection gauge.
func (c *Collector) SetConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
	if Connected != nil {
		if connected {
			Connected.Set(1)
		} else {
			Connected.Set(0)
		}
	}
}

// Snapshot is an immutable copy of collector state.
type Snapshot struct {
	Connected bool `json:"connected"`

	TotalCommands    int `json:"total_commands"`
	FailedCommands   int `json:"failed_commands"`
	TimedOutCommands int `json:"timed_out_commands"`

	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`

	FailureRate float64 `json:"failure_rate"`
	TimeoutRate float64 `json:"timeout_rate"`

	Reconnects      int `json:"reconnects"`
	WebsocketErrors int `json:"websocket_errors"`
	PushesReceived  int `json:"pushes_received"`
	PushesDropped   int `json:"pushes_dropped"`
	TokenRefreshes  int `json:"token_refreshes"`

	Timings  map[string]time.Duration `json:"timings"`
	Failures []FailureRecord          `json:"failures"`

	LastPushAt      time.Time `json:"last_push_at"`
	LastReconnectAt time.Time `json:"last_reconnect_at"`
	LastRecvError   string    `json:"last_recv_error,omitempty"`
	LastRecvErrorAt time.Time `json:"last_recv_error_at"`
}

// ShouldWarn reports whether connection quality is poor enough to surface to
// the user: timeout rate above 30% or average latency above 5 seconds.
func (s Snapshot) ShouldWarn() bool {
	return s.TimeoutRate > 0.3 || s.AvgLatency > 5*time.Second
}

// Snapshot returns an immutable copy so a concurrent diagnostics read never
// observes a torn update.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var avg, max time.Duration
	if len(c.latencies) > 0 {
		var sum time.Duration
		for _, l := range c.latencies {
			sum += l
			if l > max {
				max = l
			}
		}
		avg = sum / time.Duration(len(c.latencies))
	}

	var failureRate, timeoutRate float64
	if c.totalCommands > 0 {
		failureRate = float64(c.failedCommands) / float64(c.totalCommands)
		timeoutRate = float64(c.timedOutCommands) / float64(c.totalCommands)
	}

	timings := make(map[string]time.Duration, len(c.timings))
	for k, v := range c.timings {
		timings[k] = v
	}
	failures := make([]FailureRecord, len(c.failures))
	copy(failures, c.failures)

	return Snapshot{
		Connected:        c.connected,
		TotalCommands:    c.totalCommands,
		FailedCommands:   c.failedCommands,
		TimedOutCommands: c.timedOutCommands,
		AvgLatency:       avg,
		MaxLatency:       max,
		FailureRate:      failureRate,
		TimeoutRate:      timeoutRate,
		Reconnects:       c.reconnects,
		WebsocketErrors:  c.websocketErrors,
		PushesReceived:   c.pushesReceived,
		PushesDropped:    c.pushesDropped,
		TokenRefreshes:   c.tokenRefreshes,
		Timings:          timings,
		Failures:         failures,
		LastPushAt:       c.lastPushAt,
		LastReconnectAt:  c.lastReconnectAt,
		LastRecvError:    c.lastRecvError,
		LastRecvErrorAt:  c.lastRecvErrorAt,
	}
}
