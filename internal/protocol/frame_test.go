package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		raw        string
		isAck      bool
		isLoginAck bool
		ok         bool
	}{
		{
			name:       "login ack",
			raw:        `{"id":1,"response":"login","status":"ok"}`,
			isAck:      true,
			isLoginAck: true,
			ok:         true,
		},
		{
			name:  "set ack",
			raw:   `{"id":3,"response":"set","status":"ok","data":{"status":{"H00":1}}}`,
			isAck: true,
			ok:    true,
		},
		{
			name:  "rejected ack",
			raw:   `{"id":4,"response":"set","status":"error"}`,
			isAck: true,
		},
		{
			name: "push without id",
			raw:  `{"event":"device_change","device":"abc","data":{"status":{"H02":40}}}`,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			require.Equal(t, tt.isAck, f.IsAck())
			require.Equal(t, tt.isLoginAck, f.IsLoginAck())
			require.Equal(t, tt.ok, f.OK())
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"id":`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestLoginRequest(t *testing.T) {
	t.Parallel()
	data, err := LoginRequest("secret-token").Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"id":1,"request":"login","data":{"token":"secret-token"}}`, string(data))
}

func TestSetRequestRoundTrip(t *testing.T) {
	t.Parallel()
	f := SetRequest("dev-1", map[string]int{"H02": 55})
	f.ID = 7
	data, err := f.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"id":7,"request":"set","device":"dev-1","data":{"H02":55}}`, string(data))
}

func TestExtractPushStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		raw    string
		status map[string]int
		device string
		ok     bool
	}{
		{
			name:   "status at data.status",
			raw:    `{"event":"device_change","device":"abc","data":{"status":{"H00":1,"H02":40}}}`,
			status: map[string]int{"H00": 1, "H02": 40},
			device: "abc",
			ok:     true,
		},
		{
			name:   "status nested in changes",
			raw:    `{"data":{"device":"def","changes":{"status":{"H0B":0}}}}`,
			status: map[string]int{"H0B": 0},
			device: "def",
			ok:     true,
		},
		{
			name: "no status payload",
			raw:  `{"event":"keepalive","data":{}}`,
		},
		{
			name: "status is not an object",
			raw:  `{"data":{"status":"ok"}}`,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			status, device, ok := ExtractPushStatus([]byte(tt.raw))
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.status, status)
				require.Equal(t, tt.device, device)
			}
		})
	}
}

func TestStatusFromAck(t *testing.T) {
	t.Parallel()

	f, err := Decode([]byte(`{"id":3,"response":"get","status":"ok","data":{"status":{"H00":1,"H0C":80}}}`))
	require.NoError(t, err)
	status, ok := StatusFromAck(f)
	require.True(t, ok)
	require.Equal(t, map[string]int{"H00": 1, "H0C": 80}, status)

	f, err = Decode([]byte(`{"id":4,"response":"set","status":"ok"}`))
	require.NoError(t, err)
	_, ok = StatusFromAck(f)
	require.False(t, ok)
}

func TestProfileFromAck(t *testing.T) {
	t.Parallel()

	f, err := Decode([]byte(`{"id":3,"response":"get","status":"ok","data":{"status":{"H00":1},"profile":{"esh":{"brand":"Fanimation"}}}}`))
	require.NoError(t, err)
	profile, ok := ProfileFromAck(f)
	require.True(t, ok)
	require.JSONEq(t, `{"esh":{"brand":"Fanimation"}}`, string(profile))

	f, err = Decode([]byte(`{"id":4,"response":"get","status":"ok","data":{"status":{"H00":1}}}`))
	require.NoError(t, err)
	_, ok = ProfileFromAck(f)
	require.False(t, ok)
}

func TestRedact(t *testing.T) {
	t.Parallel()

	data, err := LoginRequest("very-secret").Encode()
	require.NoError(t, err)
	redacted := string(Redact(data))
	require.NotContains(t, redacted, "very-secret")
	require.Contains(t, redacted, "***")

	// Frames without a token pass through untouched.
	raw := []byte(`{"id":3,"request":"get","device":"abc"}`)
	require.Equal(t, raw, Redact(raw))
}
