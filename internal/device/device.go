// Package device holds FanSync device status keys and value helpers.
package device

import (
	"github.com/segmentio/encoding/json"
)

// Status keys of the FanSync wire protocol.
const (
	KeyFanPower        = "H00"
	KeyFanPreset       = "H01"
	KeyFanSpeed        = "H02"
	KeyFanDirection    = "H06"
	KeyLightPower      = "H0B"
	KeyLightBrightness = "H0C"
)

// PresetModes maps wire preset values to names.
var PresetModes = map[int]string{0: "normal", 1: "fresh_air"}

// Info is device metadata returned by the lst_device bootstrap exchange.
type Info struct {
	Device     string `json:"device"`
	Owner      string `json:"owner"`
	Properties struct {
		DisplayName string `json:"displayName"`
	} `json:"properties"`
}

// DecodeList decodes the data payload of a lst_device ack. Entries without a
// device id are skipped.
func DecodeList(data json.RawMessage) ([]Info, error) {
	var list []Info
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(list))
	for _, d := range list {
		if d.Device == "" {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ClampPercent clamps a percentage to the FanSync allowed range [1, 100].
func ClampPercent(value int) int {
	if value < 1 {
		return 1
	}
	if value > 100 {
		return 100
	}
	return value
}

// BrightnessToPercent maps a 0-255 brightness to FanSync 1-100.
func BrightnessToPercent(brightness int) int {
	return ClampPercent(brightness * 100 / 255)
}

// PercentToBrightness maps FanSync 0-100 to a 0-255 brightness.
func PercentToBrightness(percent int) int {
	return percent * 255 / 100
}
