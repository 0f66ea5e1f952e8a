// Package client is the high-level FanSync façade: it owns authentication,
// the realtime connection, the circuit breaker and reconnect policy, and
// exposes device commands, push subscription and diagnostics.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fansync/fansync/internal/auth"
	"github.com/fansync/fansync/internal/backoff"
	"github.com/fansync/fansync/internal/breaker"
	"github.com/fansync/fansync/internal/config"
	"github.com/fansync/fansync/internal/device"
	"github.com/fansync/fansync/internal/metrics"
	"github.com/fansync/fansync/internal/protocol"
	"github.com/fansync/fansync/internal/realtime"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"
)

// ConnectKind classifies a failed bounded connect so the caller can decide
// between asking for new credentials and retrying later.
type ConnectKind int

const (
	ConnectInvalidCredentials ConnectKind = iota
	ConnectTimeout
	ConnectNetworkUnavailable
)

func (k ConnectKind) String() string {
	switch k {
	case ConnectInvalidCredentials:
		return "invalid_credentials"
	case ConnectTimeout:
		return "timeout"
	case ConnectNetworkUnavailable:
		return "network_unavailable"
	default:
		return "unknown"
	}
}

// ConnectError is the categorized result of a failed Connect.
type ConnectError struct {
	Kind ConnectKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed (%s): %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CommandKind classifies a failed device command.
type CommandKind int

const (
	CommandNotConnected CommandKind = iota
	CommandTimeout
	CommandRejected
)

func (k CommandKind) String() string {
	switch k {
	case CommandNotConnected:
		return "not_connected"
	case CommandTimeout:
		return "timeout"
	case CommandRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// CommandError is the categorized result of a failed device command.
type CommandError struct {
	Kind CommandKind
	Err  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed (%s): %v", e.Kind, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

const commandHistorySize = 50

// CommandRecord is one entry of the diagnostics command history.
type CommandRecord struct {
	At      time.Time     `json:"at"`
	Device  string        `json:"device"`
	Request string        `json:"request"`
	Success bool          `json:"success"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Client is the FanSync cloud client. Create with New, establish the session
// with Connect, then issue commands. A connected client keeps itself
// connected until Disconnect: transport faults trigger background
// reconnection with jittered backoff behind a circuit breaker.
type Client struct {
	uid       string
	config    config.Config
	log       zerolog.Logger
	collector *metrics.Collector

	auth    *auth.AuthSession
	breaker *breaker.Breaker
	policy  backoff.Policy

	// connectMu serializes Connect callers end to end.
	connectMu sync.Mutex

	mu       sync.Mutex
	running  bool
	closed   bool
	openedAt time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	pushCb   realtime.PushHandler
	// conn and dispatcher are replaced when Connect follows a
	// Disconnect; read them through connection and pushDispatcher.
	dispatcher *realtime.Dispatcher
	conn       *realtime.Connection

	historyMu sync.Mutex
	history   []CommandRecord
}

// New creates a Client from config. Credentials must pass
// config.Validate/ValidateCredentials before calling.
func New(cfg config.Config, logger zerolog.Logger, collector *metrics.Collector) *Client {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	uid := uuid.NewString()
	logger = logger.With().Str("client", uid[:8]).Logger()

	authSession := auth.New(auth.Config{
		Endpoint:      cfg.Cloud.APIEndpoint,
		HTTPTimeout:   cfg.Cloud.HTTPTimeout.ToDuration(),
		RefreshMargin: cfg.Auth.RefreshMargin.ToDuration(),
	}, auth.Credentials{
		Email:    cfg.Auth.Email,
		Password: cfg.Auth.Password,
	}, logger, collector)

	dispatcher, conn := newRealtime(cfg, logger, collector)

	return &Client{
		uid:       uid,
		config:    cfg,
		log:       logger,
		collector: collector,
		auth:      authSession,
		breaker: breaker.New(breaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			CoolDown:         cfg.CircuitBreaker.CoolDown.ToDuration(),
		}),
		policy: backoff.Policy{
			BaseDelay: cfg.Reconnect.BaseDelay.ToDuration(),
			MaxDelay:  cfg.Reconnect.MaxDelay.ToDuration(),
		},
		dispatcher: dispatcher,
		conn:       conn,
	}
}

// newRealtime builds the dispatcher and connection pair backing one
// session. Both are terminal after Close, so a client that reconnects
// after Disconnect gets a fresh pair.
func newRealtime(cfg config.Config, logger zerolog.Logger, collector *metrics.Collector) (*realtime.Dispatcher, *realtime.Connection) {
	dispatcher := realtime.NewDispatcher(logger, collector)

	dialer := realtime.NewWebsocketDialer(realtime.DialerConfig{
		HandshakeTimeout:   cfg.Cloud.WSTimeout.ToDuration(),
		WriteTimeout:       cfg.Cloud.WSTimeout.ToDuration(),
		InsecureSkipVerify: cfg.Cloud.InsecureSkipVerify,
	})

	conn := realtime.NewConnection(realtime.Config{
		URL:       cfg.Cloud.WSEndpoint,
		Timeout:   cfg.Cloud.WSTimeout.ToDuration(),
		Log:       logger,
		Collector: collector,
	}, dialer, dispatcher)

	return dispatcher, conn
}

// ID returns the unique id of this client instance.
func (c *Client) ID() string { return c.uid }

func (c *Client) connection() *realtime.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) pushDispatcher() *realtime.Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatcher
}

// Connect authenticates and opens the realtime connection. The whole attempt
// sequence is bounded by reconnect.first_connect_budget; within the budget
// transient failures retry with backoff. The returned error, if any, is a
// *ConnectError. On success a background goroutine keeps the connection
// alive until Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if c.closed {
		// Disconnect left terminal internals behind; a new session
		// starts from a fresh dispatcher and connection.
		c.dispatcher, c.conn = newRealtime(c.config, c.log, c.collector)
		if c.pushCb != nil {
			c.dispatcher.SetHandler(c.pushCb)
		}
		c.closed = false
	}
	conn := c.conn
	c.mu.Unlock()

	budget := c.config.Reconnect.FirstConnectBudget.ToDuration()
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	attempt := 0
	for {
		attempt++
		err := c.connectOnce(ctx, attempt, conn)
		if err == nil {
			break
		}
		var cerr *ConnectError
		if errors.As(err, &cerr) && cerr.Kind == ConnectInvalidCredentials {
			return err
		}
		delay := c.policy.NextDelay(attempt)
		if errors.Is(err, breaker.ErrOpen) {
			// Waiting any shorter than the backoff ceiling just burns
			// attempts against a breaker that will not move.
			delay = c.policy.ResetThreshold()
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).
			Msg("connect attempt failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &ConnectError{Kind: connectKindFor(err, ctx.Err()), Err: err}
		}
	}

	c.mu.Lock()
	c.running = true
	c.openedAt = time.Now()
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stop, done := c.stopCh, c.doneCh
	c.mu.Unlock()

	go c.run(conn, stop, done)
	c.log.Info().Msg("connected to cloud")
	return nil
}

// connectKindFor maps the last attempt error to the category Connect
// reports once the budget is exhausted. The last attempt wins over the
// expired budget: a refused endpoint stays network_unavailable even when
// the deadline is what ended the retry loop.
func connectKindFor(last, ctxErr error) ConnectKind {
	if last != nil {
		if errors.Is(last, realtime.ErrTimeout) {
			return ConnectTimeout
		}
		var nerr net.Error
		if errors.As(last, &nerr) && nerr.Timeout() {
			return ConnectTimeout
		}
		return ConnectNetworkUnavailable
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return ConnectTimeout
	}
	return ConnectNetworkUnavailable
}

// connectOnce runs one full attempt: breaker gate, token, dial + login
// handshake, device bootstrap. Breaker accounting happens here so a
// half-open probe resolves exactly once per attempt.
func (c *Client) connectOnce(ctx context.Context, attempt int, conn *realtime.Connection) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("attempt %d rejected: %w", attempt, breaker.ErrOpen)
	}

	start := time.Now()
	session, err := c.auth.EnsureValid(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.breaker.RecordFailure(breaker.FailureAuth)
			c.collector.RecordConnectionFailure("http_login", "invalid_credentials", time.Since(start), attempt)
			return &ConnectError{Kind: ConnectInvalidCredentials, Err: err}
		}
		c.breaker.RecordFailure(breaker.FailureTransport)
		c.collector.RecordConnectionFailure("http_login", "transient", time.Since(start), attempt)
		return fmt.Errorf("obtaining token: %w", err)
	}

	if err := conn.Open(ctx, session.Token); err != nil {
		if errors.Is(err, realtime.ErrLoginRejected) {
			// The token the HTTP login handed out no longer satisfies the
			// websocket side. Drop it so the next attempt logs in afresh.
			c.auth.Invalidate()
			c.breaker.RecordFailure(breaker.FailureAuth)
			return fmt.Errorf("websocket login: %w", err)
		}
		c.breaker.RecordFailure(breaker.FailureTransport)
		return fmt.Errorf("opening connection: %w", err)
	}

	if _, err := conn.Bootstrap(ctx); err != nil {
		c.log.Warn().Err(err).Msg("device bootstrap failed")
		// Connection is usable without the cached list; commands carry
		// explicit device ids.
	}

	c.breaker.RecordSuccess()
	return nil
}

// run owns background reconnection: it watches the connection fault signal
// and re-runs the connect sequence with unbounded attempts. The attempt
// counter resets when the previous connection stayed open long enough for
// the backoff to be considered recovered.
func (c *Client) run(conn *realtime.Connection, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-conn.Faulted():
		}
		if conn.State() != realtime.StateFaulted {
			continue // stale signal from an attempt that already recovered
		}

		kind, at := conn.LastFault()
		c.log.Warn().Str("fault", kind).Time("at", at).Msg("connection faulted, reconnecting")
		c.collector.RecordReconnect()

		c.mu.Lock()
		sustained := time.Since(c.openedAt) >= c.policy.ResetThreshold()
		c.mu.Unlock()

		attempt := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			if sustained {
				attempt = 1
				sustained = false
			} else {
				attempt++
			}

			err := c.connectOnce(context.Background(), attempt, conn)
			if err == nil {
				break
			}
			var cerr *ConnectError
			if errors.As(err, &cerr) && cerr.Kind == ConnectInvalidCredentials {
				// Terminal: retrying the same pair cannot succeed. The
				// client stays down until Disconnect + new credentials.
				c.log.Error().Err(err).Msg("reconnect abandoned, credentials rejected")
				return
			}
			delay := c.policy.NextDelay(attempt)
			if errors.Is(err, breaker.ErrOpen) {
				delay = c.policy.ResetThreshold()
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).
				Msg("reconnect attempt failed")
			select {
			case <-time.After(delay):
			case <-stop:
				return
			}
		}

		c.mu.Lock()
		c.openedAt = time.Now()
		c.mu.Unlock()
		c.log.Info().Msg("reconnected to cloud")
	}
}

// SendCommand sets a single status key on a device and returns the device
// state the ack carries. The returned error, if any, is a *CommandError.
func (c *Client) SendCommand(ctx context.Context, deviceID, key string, value int) (map[string]int, error) {
	return c.SetStatus(ctx, deviceID, map[string]int{key: value})
}

// SetStatus sets several status keys on a device in one request.
func (c *Client) SetStatus(ctx context.Context, deviceID string, values map[string]int) (map[string]int, error) {
	return c.exchange(ctx, deviceID, protocol.SetRequest(deviceID, values))
}

// GetStatus queries the full current state of a device.
func (c *Client) GetStatus(ctx context.Context, deviceID string) (map[string]int, error) {
	return c.exchange(ctx, deviceID, protocol.GetRequest(deviceID))
}

// DeviceProfile fetches the raw profile object the cloud attaches to a get
// ack. Callers use it for capability detection; not every firmware sends
// one, in which case the result is nil.
func (c *Client) DeviceProfile(ctx context.Context, deviceID string) (json.RawMessage, error) {
	frame := protocol.GetRequest(deviceID)
	start := time.Now()
	ack, err := c.connection().Request(ctx, frame)
	latency := time.Since(start)
	if err != nil {
		cmdErr := commandErrorFor(err)
		c.recordCommand(deviceID, frame.Request, latency, cmdErr)
		return nil, cmdErr
	}
	if !ack.OK() {
		cmdErr := &CommandError{
			Kind: CommandRejected,
			Err:  fmt.Errorf("%s rejected with status %q", frame.Request, ack.Status),
		}
		c.recordCommand(deviceID, frame.Request, latency, cmdErr)
		return nil, cmdErr
	}
	c.recordCommand(deviceID, frame.Request, latency, nil)

	profile, ok := protocol.ProfileFromAck(ack)
	if !ok {
		return nil, nil
	}
	return profile, nil
}

func (c *Client) exchange(ctx context.Context, deviceID string, frame *protocol.Frame) (map[string]int, error) {
	start := time.Now()
	ack, err := c.connection().Request(ctx, frame)
	latency := time.Since(start)
	if err != nil {
		cmdErr := commandErrorFor(err)
		c.recordCommand(deviceID, frame.Request, latency, cmdErr)
		return nil, cmdErr
	}
	if !ack.OK() {
		cmdErr := &CommandError{
			Kind: CommandRejected,
			Err:  fmt.Errorf("%s rejected with status %q", frame.Request, ack.Status),
		}
		c.recordCommand(deviceID, frame.Request, latency, cmdErr)
		return nil, cmdErr
	}
	c.recordCommand(deviceID, frame.Request, latency, nil)

	status, ok := protocol.StatusFromAck(ack)
	if !ok {
		return nil, nil
	}
	// An ack carrying device state is indistinguishable from a push for
	// subscribers, deliver it the same way.
	c.pushDispatcher().Dispatch(deviceID, status)
	return status, nil
}

func commandErrorFor(err error) *CommandError {
	switch {
	case errors.Is(err, realtime.ErrTimeout):
		return &CommandError{Kind: CommandTimeout, Err: err}
	case errors.Is(err, realtime.ErrNotConnected), errors.Is(err, realtime.ErrClosed):
		return &CommandError{Kind: CommandNotConnected, Err: err}
	default:
		return &CommandError{Kind: CommandNotConnected, Err: err}
	}
}

func (c *Client) recordCommand(deviceID, request string, latency time.Duration, cmdErr *CommandError) {
	if cmdErr == nil {
		c.collector.RecordCommand(true, latency)
	} else if cmdErr.Kind == CommandTimeout {
		c.collector.RecordTimeout()
	} else {
		c.collector.RecordCommand(false, latency)
	}

	record := CommandRecord{
		At:      time.Now(),
		Device:  deviceID,
		Request: request,
		Success: cmdErr == nil,
		Latency: latency,
	}
	if cmdErr != nil {
		record.Error = cmdErr.Error()
	}
	c.historyMu.Lock()
	c.history = append(c.history, record)
	if len(c.history) > commandHistorySize {
		c.history = c.history[1:]
	}
	c.historyMu.Unlock()
}

// ListDevices returns the devices of the account. Served from the bootstrap
// cache; refreshed from the cloud when the cache is empty.
func (c *Client) ListDevices(ctx context.Context) ([]device.Info, error) {
	conn := c.connection()
	if devices := conn.Devices(); len(devices) > 0 {
		return devices, nil
	}
	devices, err := conn.Bootstrap(ctx)
	if err != nil {
		return nil, commandErrorFor(err)
	}
	return devices, nil
}

// SubscribePushes registers cb for asynchronous device state updates.
// Replaces any previous subscriber. Callbacks run on the dispatcher
// goroutine and must not block.
func (c *Client) SubscribePushes(cb realtime.PushHandler) {
	c.mu.Lock()
	c.pushCb = cb
	dispatcher := c.dispatcher
	c.mu.Unlock()
	dispatcher.SetHandler(cb)
}

// Disconnect closes the connection and stops background reconnection.
// Idempotent. A later Connect starts a fresh session on the same client.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running := c.running
	c.running = false
	stop, done := c.stopCh, c.doneCh
	conn, dispatcher := c.conn, c.dispatcher
	c.mu.Unlock()

	if running {
		close(stop)
	}
	err := conn.Close()
	if running {
		<-done
	}
	dispatcher.Close()
	c.log.Info().Msg("disconnected")
	return err
}

// Diagnostics is a point-in-time health snapshot, safe to serialize.
type Diagnostics struct {
	ClientID       string           `json:"client_id"`
	State          string           `json:"state"`
	LastFault      string           `json:"last_fault,omitempty"`
	LastFaultAt    time.Time        `json:"last_fault_at"`
	PendingIDs     []uint64         `json:"pending_ids"`
	Devices        int              `json:"devices"`
	Breaker        breaker.Snapshot `json:"breaker"`
	Metrics        metrics.Snapshot `json:"metrics"`
	Token          map[string]any   `json:"token"`
	CommandHistory []CommandRecord  `json:"command_history"`
}

// DiagnosticsSnapshot collects the current client state without blocking on
// any network I/O.
func (c *Client) DiagnosticsSnapshot() Diagnostics {
	conn := c.connection()
	fault, faultAt := conn.LastFault()

	c.historyMu.Lock()
	history := make([]CommandRecord, len(c.history))
	copy(history, c.history)
	c.historyMu.Unlock()

	return Diagnostics{
		ClientID:       c.uid,
		State:          conn.State().String(),
		LastFault:      fault,
		LastFaultAt:    faultAt,
		PendingIDs:     conn.PendingIDs(),
		Devices:        len(conn.Devices()),
		Breaker:        c.breaker.Snapshot(),
		Metrics:        c.collector.Snapshot(),
		Token:          c.auth.TokenMetadata(),
		CommandHistory: history,
	}
}
