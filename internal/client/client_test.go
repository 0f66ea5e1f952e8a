package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fansync/fansync/internal/breaker"
	"github.com/fansync/fansync/internal/config"
	"github.com/fansync/fansync/internal/configtypes"
	"github.com/fansync/fansync/internal/device"
	"github.com/fansync/fansync/internal/metrics"
	"github.com/fansync/fansync/internal/protocol"
	"github.com/fansync/fansync/internal/realtime"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

// cloudServer fakes both cloud surfaces: the HTTP session endpoint and the
// websocket control plane.
type cloudServer struct {
	authSrv *httptest.Server
	wsSrv   *httptest.Server

	rejectLogin atomic.Bool
	dropAcks    atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

func newCloudServer(t *testing.T) *cloudServer {
	t.Helper()
	s := &cloudServer{}

	s.authSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rejectLogin.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "test-token"})
	}))
	t.Cleanup(s.authSrv.Close)

	upgrader := websocket.Upgrader{}
	s.wsSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			switch frame.Request {
			case protocol.RequestLogin:
				s.write(fmt.Sprintf(`{"id":%d,"response":"login","status":"ok"}`, frame.ID))
			case protocol.RequestListDevices:
				s.write(fmt.Sprintf(`{"id":%d,"response":"lst_device","status":"ok","data":[{"device":"fan-1","properties":{"displayName":"Bedroom Fan"}}]}`, frame.ID))
			case protocol.RequestGet:
				if s.dropAcks.Load() {
					continue
				}
				s.write(fmt.Sprintf(`{"id":%d,"response":"get","status":"ok","data":{"status":{"H00":1,"H02":40},"profile":{"esh":{"brand":"Fanimation","model":"fanSync"}}}}`, frame.ID))
			case protocol.RequestSet:
				if s.dropAcks.Load() {
					continue
				}
				var values map[string]int
				_ = json.Unmarshal(frame.Data, &values)
				echoed, _ := json.Marshal(values)
				s.write(fmt.Sprintf(`{"id":%d,"response":"set","status":"ok","data":{"status":%s}}`, frame.ID, echoed))
			}
		}
	}))
	t.Cleanup(s.wsSrv.Close)
	return s
}

func (s *cloudServer) write(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(raw))
	}
}

// push sends an unsolicited state update to the connected client.
func (s *cloudServer) push(raw string) {
	s.write(raw)
}

// dropConn kills the websocket from the server side.
func (s *cloudServer) dropConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *cloudServer) config() config.Config {
	cfg := config.DefaultConfig()
	cfg.Cloud.APIEndpoint = s.authSrv.URL
	cfg.Cloud.WSEndpoint = "ws" + strings.TrimPrefix(s.wsSrv.URL, "http")
	cfg.Cloud.HTTPTimeout = configtypes.Duration(2 * time.Second)
	cfg.Cloud.WSTimeout = configtypes.Duration(2 * time.Second)
	cfg.Auth.Email = "user@example.com"
	cfg.Auth.Password = "secret"
	cfg.Reconnect.BaseDelay = configtypes.Duration(10 * time.Millisecond)
	cfg.Reconnect.MaxDelay = configtypes.Duration(100 * time.Millisecond)
	cfg.Reconnect.FirstConnectBudget = configtypes.Duration(5 * time.Second)
	return cfg
}

func newTestClient(t *testing.T, cfg config.Config) *Client {
	t.Helper()
	c := New(cfg, zerolog.Nop(), metrics.NewCollector())
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestClientConnectAndCommand(t *testing.T) {
	t.Parallel()
	srv := newCloudServer(t)
	c := newTestClient(t, srv.config())

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()), "second connect is a no-op")

	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "fan-1", devices[0].Device)

	status, err := c.SendCommand(context.Background(), "fan-1", device.KeyFanSpeed, 60)
	require.NoError(t, err)
	require.Equal(t, map[string]int{device.KeyFanSpeed: 60}, status)

	status, err = c.GetStatus(context.Background(), "fan-1")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"H00": 1, "H02": 40}, status)

	diag := c.DiagnosticsSnapshot()
	require.Equal(t, "open", diag.State)
	require.True(t, diag.Metrics.Connected)
	require.Equal(t, 2, diag.Metrics.TotalCommands)
	require.Len(t, diag.CommandHistory, 2)
	require.Empty(t, diag.PendingIDs)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect(), "disconnect is idempotent")
}

func TestClientConnectInvalidCredentials(t *testing.T) {
	t.Parallel()
	srv := newCloudServer(t)
	srv.rejectLogin.Store(true)
	c := newTestClient(t, srv.config())

	start := time.Now()
	err := c.Connect(context.Background())
	require.Error(t, err)
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, ConnectInvalidCredentials, cerr.Kind)
	require.Less(t, time.Since(start), 2*time.Second, "credential rejection must not retry")
}

func TestClientConnectBudgetExhausted(t *testing.T) {
	t.Parallel()
	srv := newCloudServer(t)
	cfg := srv.config()
	cfg.Cloud.WSEndpoint = "ws://127.0.0.1:1/api:1/phone" // nothing listens here
	cfg.Reconnect.FirstConnectBudget = configtypes.Duration(300 * time.Millisecond)
	c := newTestClient(t, cfg)

	err := c.Connect(context.Background())
	require.Error(t, err)
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, ConnectNetworkUnavailable, cerr.Kind,
		"a refused endpoint is not a timeout even when the retry window is what ended the loop")
}

func TestClientConnectAfterDisconnect(t *testing.T) {
	t.Parallel()
	srv := newCloudServer(t)
	c := newTestClient(t, srv.config())

	type push struct {
		device string
		status map[string]int
	}
	pushes := make(chan push, 4)
	c.SubscribePushes(func(deviceID string, status map[string]int) {
		pushes <- push{device: deviceID, status: status}
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect())

	require.NoError(t, c.Connect(context.Background()), "a disconnected client accepts a fresh session")

	status, err := c.GetStatus(context.Background(), "fan-1")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"H00": 1, "H02": 40}, status)

	srv.push(`{"event":"device_change","device":"fan-1","data":{"status":{"H00":0}}}`)
	select {
	case p := <-pushes:
		require.Equal(t, "fan-1", p.device)
		require.Equal(t, map[string]int{"H00": 0}, p.status)
	case <-time.After(2 * time.Second):
		t.Fatal("push subscription did not survive the reconnect")
	}

	require.NoError(t, c.Disconnect())
}

func TestClientDeviceProfile(t *testing.T) {
	t.Parallel()
	srv := newCloudServer(t)
	c := newTestClient(t, srv.config())

	require.NoError(t, c.Connect(context.Background()))

	profile, err := c.DeviceProfile(context.Background(), "fan-1")
	require.NoError(t, err)
	var decoded map[string]map[string]string
	require.NoError(t, json.Unmarshal(profile, &decoded))
	require.Equal(t, "Fanimation", decoded["esh"]["brand"])
}

func TestClientCommandTimeout(t *testing.T) {
	t.Parallel()
	srv := newCloudServer(t)
	cfg := srv.config()
	cfg.Cloud.WSTimeout = configtypes.Duration(200 * time.Millisecond)
	c := newTestClient(t, cfg)

	require.NoError(t, c.Connect(context.Background()))

	srv.dropAcks.Store(true)
	_, err := c.SendCommand(context.Background(), "fan-1", device.KeyFanPower, 1)
	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, CommandTimeout, cmdErr.Kind)

	diag := c.DiagnosticsSnapshot()
	require.Empty(t, diag.PendingIDs, "timed out command must not leak")
	require.Equal(t, 1, diag.Metrics.TimedOutCommands)
	require.Equal(t, "open", diag.State, "slow commands do not fault the transport")
}

func TestClientCommandNotConnected(t *testing.T) {
	t.Parallel()
	srv := newCloudServer(t)
	c := newTestClient(t, srv.config())

	_, err := c.SendCommand(context.Background(), "fan-1", device.KeyFanPower, 1)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, CommandNotConnected, cmdErr.Kind)
}

func TestClientPushDelivery(t *testing.T) {
	t.Parallel()
	srv := newCloudServer(t)
	c := newTestClient(t, srv.config())

	type push struct {
		device string
		status map[string]int
	}
	pushes := make(chan push, 4)
	c.SubscribePushes(func(deviceID string, status map[string]int) {
		pushes <- push{device: deviceID, status: status}
	})

	require.NoError(t, c.Connect(context.Background()))

	srv.push(`{"event":"device_change","device":"fan-1","data":{"status":{"H0B":1,"H0C":75}}}`)

	select {
	case p := <-pushes:
		require.Equal(t, "fan-1", p.device)
		require.Equal(t, map[string]int{"H0B": 1, "H0C": 75}, p.status)
	case <-time.After(2 * time.Second):
		t.Fatal("push not delivered")
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	t.Parallel()
	srv := newCloudServer(t)
	c := newTestClient(t, srv.config())

	require.NoError(t, c.Connect(context.Background()))
	srv.dropConn()

	require.Eventually(t, func() bool {
		_, err := c.GetStatus(context.Background(), "fan-1")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond, "client must recover after server drop")

	diag := c.DiagnosticsSnapshot()
	require.GreaterOrEqual(t, diag.Metrics.Reconnects, 1)
}

func TestClientHelperCommands(t *testing.T) {
	t.Parallel()
	srv := newCloudServer(t)
	c := newTestClient(t, srv.config())
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.SetFanPower(context.Background(), "fan-1", true))
	require.NoError(t, c.SetFanSpeed(context.Background(), "fan-1", 150), "speed clamps instead of failing")
	require.NoError(t, c.SetLightBrightness(context.Background(), "fan-1", 128))
	require.NoError(t, c.SetLightBrightness(context.Background(), "fan-1", 0), "zero brightness turns the light off")
	require.Error(t, c.SetFanDirection(context.Background(), "fan-1", 5))
	require.Error(t, c.SetPresetMode(context.Background(), "fan-1", "turbo"))
	require.NoError(t, c.SetPresetMode(context.Background(), "fan-1", "fresh_air"))
}

func TestCommandErrorClassification(t *testing.T) {
	t.Parallel()
	require.Equal(t, CommandTimeout, commandErrorFor(fmt.Errorf("waiting: %w", realtime.ErrTimeout)).Kind)
	require.Equal(t, CommandNotConnected, commandErrorFor(realtime.ErrNotConnected).Kind)
	require.Equal(t, CommandNotConnected, commandErrorFor(realtime.ErrClosed).Kind)
	require.Equal(t, CommandNotConnected, commandErrorFor(errors.New("write failed")).Kind)
}

func TestConnectKindClassification(t *testing.T) {
	t.Parallel()
	refused := &net.OpError{Op: "dial", Err: errors.New("connection refused")}

	require.Equal(t, ConnectTimeout, connectKindFor(fmt.Errorf("opening connection: %w", realtime.ErrTimeout), context.DeadlineExceeded))
	require.Equal(t, ConnectTimeout, connectKindFor(&net.OpError{Op: "dial", Err: timeoutError{}}, nil))
	require.Equal(t, ConnectNetworkUnavailable, connectKindFor(fmt.Errorf("opening connection: %w", refused), context.DeadlineExceeded),
		"the last attempt outweighs the expired retry window")
	require.Equal(t, ConnectNetworkUnavailable, connectKindFor(fmt.Errorf("attempt 3 rejected: %w", breaker.ErrOpen), context.DeadlineExceeded))
	require.Equal(t, ConnectTimeout, connectKindFor(nil, context.DeadlineExceeded))
	require.Equal(t, ConnectNetworkUnavailable, connectKindFor(nil, context.Canceled))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
