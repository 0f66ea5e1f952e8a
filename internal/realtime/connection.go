// Package realtime owns the websocket transport to the FanSync cloud: the
// connection state machine, the login handshake, the receive loop that
// classifies frames into acks and pushes, and request/response correlation.
//
// Lock discipline: connection state, the pending-request map and the
// transport write path each have their own synchronization primitive and
// none is ever acquired while holding another. No blocking I/O happens
// under any of them.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fansync/fansync/internal/device"
	"github.com/fansync/fansync/internal/metrics"
	"github.com/fansync/fansync/internal/protocol"

	"github.com/rs/zerolog"
)

var (
	// ErrNotConnected is returned by sends on a connection that is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed resolves every pending request on connection teardown.
	ErrClosed = errors.New("connection closed")
	// ErrTimeout resolves a pending request whose own deadline fired.
	ErrTimeout = errors.New("request timed out")
	// ErrLoginRejected means the cloud refused the websocket login: the
	// bearer token is stale or revoked and reauthentication is required.
	ErrLoginRejected = errors.New("websocket login rejected")
)

type Config struct {
	// URL of the realtime endpoint.
	URL string
	// Timeout bounds the login-ack wait and each correlated request.
	Timeout time.Duration
	// Log is the connection logger.
	Log zerolog.Logger
	// Collector receives connection metrics. May be nil.
	Collector *metrics.Collector
}

// Connection is the realtime connection to the cloud. One connection holds
// at most one transport at a time; the receive loop of a previous transport
// always exits before a new one is dialed.
type Connection struct {
	config Config
	dial   Dialer

	status     status
	correlator *Correlator
	dispatcher *Dispatcher

	// transportMu guards the transport pointer and the receive-loop done
	// channel, not the writes themselves (the transport serializes those).
	transportMu sync.Mutex
	transport   Transport
	recvDone    chan struct{}

	// openMu serializes connection attempts: at most one Open in flight.
	openMu sync.Mutex

	devicesMu sync.Mutex
	devices   []device.Info

	faulted chan struct{}
}

func NewConnection(cfg Config, dial Dialer, dispatcher *Dispatcher) *Connection {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Connection{
		config:     cfg,
		dial:       dial,
		correlator: NewCorrelator(),
		dispatcher: dispatcher,
		faulted:    make(chan struct{}, 1),
	}
}

// Open dials the transport and performs the login handshake. It returns once
// the login ack is received, the handshake times out, or ctx is cancelled.
// Valid only from idle or faulted state; a previous transport is fully torn
// down before the new dial starts.
func (c *Connection) Open(ctx context.Context, token string) error {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	switch st := c.status.get(); st {
	case StateIdle, StateFaulted:
	default:
		return fmt.Errorf("cannot connect from state %s", st)
	}

	c.awaitTeardown()

	if err := c.status.transition(StateConnecting); err != nil {
		return err
	}

	dialStart := time.Now()
	transport, err := c.dial(ctx, c.config.URL)
	if err != nil {
		c.status.fault("dial")
		c.recordFailure("ws_connect", "dial", time.Since(dialStart))
		return fmt.Errorf("dialing %s: %w", c.config.URL, err)
	}
	if c.config.Collector != nil {
		c.config.Collector.RecordTiming(metrics.TimingWSHandshake, time.Since(dialStart))
	}

	loginCh := make(chan error, 1)
	done := make(chan struct{})

	if err := c.status.transition(StateAwaitingLoginAck); err != nil {
		_ = transport.Close()
		return err
	}

	c.transportMu.Lock()
	c.transport = transport
	c.recvDone = done
	c.transportMu.Unlock()

	go c.recvLoop(transport, loginCh, done)

	frame := protocol.LoginRequest(token)
	data, err := frame.Encode()
	if err != nil {
		c.abortOpen("login_encode")
		return err
	}
	if c.config.Log.GetLevel() <= zerolog.DebugLevel {
		c.config.Log.Debug().RawJSON("frame", protocol.Redact(data)).Msg("sending login")
	}
	loginStart := time.Now()
	if err := transport.WriteMessage(data); err != nil {
		c.abortOpen("login_send")
		c.recordFailure("ws_login", "login_send", time.Since(loginStart))
		return fmt.Errorf("writing login frame: %w", err)
	}

	select {
	case err := <-loginCh:
		if err != nil {
			c.abortOpen("login_rejected")
			c.recordFailure("ws_login", "login_rejected", time.Since(loginStart))
			return err
		}
	case <-time.After(c.config.Timeout):
		c.abortOpen("login_timeout")
		c.recordFailure("ws_login", "timeout", time.Since(loginStart))
		return fmt.Errorf("waiting for login ack: %w", ErrTimeout)
	case <-ctx.Done():
		c.abortOpen("login_cancelled")
		return ctx.Err()
	}

	if c.config.Collector != nil {
		c.config.Collector.RecordTiming(metrics.TimingWSLoginWait, time.Since(loginStart))
		c.config.Collector.SetConnected(true)
	}
	c.config.Log.Debug().Dur("login_wait", time.Since(loginStart)).Msg("websocket connected")
	return nil
}

// Request sends a correlated command and blocks the caller until its ack
// arrives, its deadline fires, or the connection tears down. Fails fast with
// ErrNotConnected when the connection is not open: frames never queue
// silently. A fresh correlation id is assigned to the frame.
func (c *Connection) Request(ctx context.Context, frame *protocol.Frame) (*protocol.Frame, error) {
	if c.status.get() != StateOpen {
		return nil, ErrNotConnected
	}
	p := c.correlator.register(c.config.Timeout)
	frame.ID = p.id
	return c.send(ctx, frame, p)
}

// RequestReserved sends a bootstrap frame that carries one of the reserved
// correlation ids (frame.ID must be preset).
func (c *Connection) RequestReserved(ctx context.Context, frame *protocol.Frame) (*protocol.Frame, error) {
	if c.status.get() != StateOpen {
		return nil, ErrNotConnected
	}
	p := c.correlator.registerReserved(frame.ID, c.config.Timeout)
	return c.send(ctx, frame, p)
}

func (c *Connection) send(ctx context.Context, frame *protocol.Frame, p *pendingRequest) (*protocol.Frame, error) {
	data, err := frame.Encode()
	if err != nil {
		c.correlator.cancel(p.id)
		return nil, err
	}

	c.transportMu.Lock()
	transport := c.transport
	c.transportMu.Unlock()
	if transport == nil {
		c.correlator.cancel(p.id)
		return nil, ErrNotConnected
	}

	if err := transport.WriteMessage(data); err != nil {
		c.correlator.cancel(p.id)
		return nil, fmt.Errorf("writing frame %d: %w", p.id, err)
	}
	return c.correlator.await(ctx, p)
}

// Bootstrap performs the device enumeration exchange that follows a
// successful login and caches the result for Devices.
func (c *Connection) Bootstrap(ctx context.Context) ([]device.Info, error) {
	ack, err := c.RequestReserved(ctx, protocol.ListDevicesRequest())
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if !ack.OK() {
		return nil, fmt.Errorf("device list rejected: status %q", ack.Status)
	}
	devices, err := device.DecodeList(ack.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding device list: %w", err)
	}
	c.devicesMu.Lock()
	c.devices = devices
	c.devicesMu.Unlock()
	c.config.Log.Debug().Int("devices", len(devices)).Msg("device list refreshed")
	return devices, nil
}

// Devices returns the device list cached by the last Bootstrap.
func (c *Connection) Devices() []device.Info {
	c.devicesMu.Lock()
	defer c.devicesMu.Unlock()
	out := make([]device.Info, len(c.devices))
	copy(out, c.devices)
	return out
}

// recvLoop continuously reads frames from the transport, classifying each as
// login ack, command ack or push. A malformed frame is logged and skipped; a
// read error terminates the loop and drives the faulted transition.
func (c *Connection) recvLoop(transport Transport, loginCh chan<- error, done chan struct{}) {
	defer close(done)
	for {
		data, err := transport.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			c.config.Log.Debug().Err(err).Int("len", len(data)).Msg("skipping malformed frame")
			continue
		}

		if frame.IsLoginAck() {
			var loginErr error
			if !frame.OK() {
				loginErr = fmt.Errorf("%w: status %q", ErrLoginRejected, frame.Status)
			} else if err := c.status.transition(StateOpen); err != nil {
				// Connection is closing; the handshake waiter is gone.
				continue
			}
			select {
			case loginCh <- loginErr:
			default: // duplicate login ack
			}
			continue
		}

		if frame.IsAck() {
			if !c.correlator.resolve(frame.ID, frame) {
				c.config.Log.Debug().Uint64("id", frame.ID).Str("response", frame.Response).
					Msg("dropping ack with no pending request")
			}
			continue
		}

		if status, deviceID, ok := protocol.ExtractPushStatus(data); ok {
			if c.config.Collector != nil {
				c.config.Collector.RecordPush()
			}
			c.dispatcher.Dispatch(deviceID, status)
			continue
		}

		c.config.Log.Debug().Int("len", len(data)).Msg("skipping unclassified frame")
	}
}

// handleReadError drives the faulted transition after a transport read
// error, unless the connection is deliberately closing.
func (c *Connection) handleReadError(err error) {
	if !c.status.fault("read_error") {
		return // explicit close in progress, Close owns teardown
	}
	c.config.Log.Warn().Err(err).Msg("transport read failed")
	if c.config.Collector != nil {
		c.config.Collector.RecordWebsocketError(err.Error())
		c.config.Collector.SetConnected(false)
	}

	c.transportMu.Lock()
	transport := c.transport
	c.transport = nil
	c.transportMu.Unlock()
	if transport != nil {
		_ = transport.Close()
	}

	failed := c.correlator.failAll(ErrClosed)
	if failed > 0 {
		c.config.Log.Debug().Int("pending", failed).Msg("failed pending requests on teardown")
	}

	select {
	case c.faulted <- struct{}{}:
	default:
	}
}

// abortOpen tears down a connection attempt that failed mid-handshake.
func (c *Connection) abortOpen(kind string) {
	c.status.fault(kind)
	c.awaitTeardown()
	c.correlator.failAll(ErrClosed)
	if c.config.Collector != nil {
		c.config.Collector.SetConnected(false)
	}
}

// awaitTeardown closes the current transport, if any, and waits for its
// receive loop to exit. Guarantees no overlapping transport instances.
func (c *Connection) awaitTeardown() {
	c.transportMu.Lock()
	transport := c.transport
	done := c.recvDone
	c.transport = nil
	c.recvDone = nil
	c.transportMu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	if done != nil {
		<-done
	}
}

// Close performs a graceful caller-initiated disconnect. Idempotent and safe
// from any state. The connection will not self-heal from closed; a new
// connection is required afterwards.
func (c *Connection) Close() error {
	if err := c.status.transition(StateClosing); err != nil {
		return nil // already closing or closed
	}
	c.awaitTeardown()
	c.correlator.failAll(ErrClosed)
	_ = c.status.transition(StateClosed)
	if c.config.Collector != nil {
		c.config.Collector.SetConnected(false)
	}
	c.config.Log.Debug().Msg("connection closed")
	return nil
}

// Faulted signals transport failures of an open connection. The reconnect
// owner should verify State() before acting: a stale signal may remain from
// an attempt that already recovered.
func (c *Connection) Faulted() <-chan struct{} {
	return c.faulted
}

// State returns the current connection state.
func (c *Connection) State() State {
	return c.status.get()
}

// LastFault returns the kind and time of the last faulted transition.
func (c *Connection) LastFault() (string, time.Time) {
	return c.status.lastFault()
}

// PendingCount returns the number of in-flight correlated requests.
func (c *Connection) PendingCount() int {
	return c.correlator.Len()
}

// PendingIDs returns in-flight correlation ids for diagnostics.
func (c *Connection) PendingIDs() []uint64 {
	return c.correlator.PendingIDs()
}

func (c *Connection) recordFailure(stage, kind string, elapsed time.Duration) {
	if c.config.Collector != nil {
		c.config.Collector.RecordConnectionFailure(stage, kind, elapsed, 0)
	}
}
