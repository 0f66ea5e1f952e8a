// Package protocol implements the FanSync cloud wire format: JSON text
// frames over a WebSocket with a numeric correlation id that round-trips
// between request and ack.
package protocol

import (
	"errors"
	"fmt"

	"github.com/segmentio/encoding/json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Request types understood by the cloud.
const (
	RequestLogin       = "login"
	RequestListDevices = "lst_device"
	RequestGet         = "get"
	RequestSet         = "set"
)

// Correlation ids 1 and 2 are reserved for the connection bootstrap: the
// login handshake and the initial device enumeration happen before the
// dynamic id allocation is active. User commands start at FirstCommandID.
const (
	IDLogin        uint64 = 1
	IDListDevices  uint64 = 2
	FirstCommandID uint64 = 3
)

// StatusOK is the success status of an ack frame.
const StatusOK = "ok"

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one discrete message unit exchanged over the realtime transport.
// Requests carry Request, acks carry Response and echo ID, pushes carry Event
// (or only Data for older firmware).
type Frame struct {
	ID       uint64          `json:"id,omitempty"`
	Request  string          `json:"request,omitempty"`
	Response string          `json:"response,omitempty"`
	Event    string          `json:"event,omitempty"`
	Status   string          `json:"status,omitempty"`
	Device   string          `json:"device,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// OK reports whether an ack frame carries a success status.
func (f *Frame) OK() bool {
	return f.Status == StatusOK
}

// IsAck reports whether the frame is a response to a correlated request.
func (f *Frame) IsAck() bool {
	return f.Response != "" && f.ID != 0
}

// IsLoginAck reports whether the frame acknowledges the login handshake.
func (f *Frame) IsLoginAck() bool {
	return f.Response == RequestLogin
}

func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &f, nil
}

type loginData struct {
	Token string `json:"token"`
}

// LoginRequest builds the login handshake frame carrying a bearer token.
func LoginRequest(token string) *Frame {
	data, _ := json.Marshal(loginData{Token: token})
	return &Frame{ID: IDLogin, Request: RequestLogin, Data: data}
}

// ListDevicesRequest builds the bootstrap device enumeration frame.
func ListDevicesRequest() *Frame {
	return &Frame{ID: IDListDevices, Request: RequestListDevices}
}

// GetRequest builds a device status query. The id is assigned by the caller.
func GetRequest(deviceID string) *Frame {
	return &Frame{Request: RequestGet, Device: deviceID}
}

// SetRequest builds a device command carrying status key/value pairs.
func SetRequest(deviceID string, values map[string]int) *Frame {
	data, _ := json.Marshal(values)
	return &Frame{Request: RequestSet, Device: deviceID, Data: data}
}

// ExtractPushStatus pulls a device state delta out of an unsolicited frame.
// The cloud nests it either at data.status or at data.changes.status, with
// the device id at top level or inside data. Returns ok=false if the frame
// carries no state delta.
func ExtractPushStatus(raw []byte) (status map[string]int, deviceID string, ok bool) {
	res := gjson.GetBytes(raw, "data.status")
	if !res.IsObject() {
		res = gjson.GetBytes(raw, "data.changes.status")
	}
	if !res.IsObject() {
		return nil, "", false
	}
	status = make(map[string]int)
	res.ForEach(func(key, value gjson.Result) bool {
		status[key.String()] = int(value.Int())
		return true
	})
	dev := gjson.GetBytes(raw, "device")
	if dev.Type != gjson.String {
		dev = gjson.GetBytes(raw, "data.device")
	}
	if dev.Type == gjson.String {
		deviceID = dev.String()
	}
	return status, deviceID, true
}

// StatusFromAck extracts the device status object from a get/set ack.
func StatusFromAck(f *Frame) (map[string]int, bool) {
	if len(f.Data) == 0 {
		return nil, false
	}
	res := gjson.GetBytes(f.Data, "status")
	if !res.IsObject() {
		return nil, false
	}
	status := make(map[string]int)
	res.ForEach(func(key, value gjson.Result) bool {
		status[key.String()] = int(value.Int())
		return true
	})
	return status, true
}

// ProfileFromAck extracts the raw device profile object from a get ack, if
// the cloud attached one.
func ProfileFromAck(f *Frame) (json.RawMessage, bool) {
	if len(f.Data) == 0 {
		return nil, false
	}
	res := gjson.GetBytes(f.Data, "profile")
	if !res.IsObject() {
		return nil, false
	}
	return json.RawMessage(res.Raw), true
}

// Redact replaces the bearer token of a login frame so the frame can be
// logged or attached to diagnostics.
func Redact(raw []byte) []byte {
	if !gjson.GetBytes(raw, "data.token").Exists() {
		return raw
	}
	out, err := sjson.SetBytes(raw, "data.token", "***")
	if err != nil {
		return raw
	}
	return out
}
