package client

import (
	"context"
	"fmt"

	"github.com/fansync/fansync/internal/device"
)

// Fan direction values of the wire protocol.
const (
	DirectionForward = 0
	DirectionReverse = 1
)

// SetFanPower turns the fan on or off.
func (c *Client) SetFanPower(ctx context.Context, deviceID string, on bool) error {
	_, err := c.SendCommand(ctx, deviceID, device.KeyFanPower, boolToInt(on))
	return err
}

// SetFanSpeed sets the fan speed as a percentage, clamped to [1, 100].
func (c *Client) SetFanSpeed(ctx context.Context, deviceID string, percent int) error {
	_, err := c.SendCommand(ctx, deviceID, device.KeyFanSpeed, device.ClampPercent(percent))
	return err
}

// SetFanDirection sets the rotation direction, DirectionForward or
// DirectionReverse.
func (c *Client) SetFanDirection(ctx context.Context, deviceID string, direction int) error {
	if direction != DirectionForward && direction != DirectionReverse {
		return fmt.Errorf("invalid fan direction %d", direction)
	}
	_, err := c.SendCommand(ctx, deviceID, device.KeyFanDirection, direction)
	return err
}

// SetPresetMode selects a fan preset by name, see device.PresetModes.
func (c *Client) SetPresetMode(ctx context.Context, deviceID, mode string) error {
	for value, name := range device.PresetModes {
		if name == mode {
			_, err := c.SendCommand(ctx, deviceID, device.KeyFanPreset, value)
			return err
		}
	}
	return fmt.Errorf("unknown preset mode %q", mode)
}

// SetLightPower turns the light on or off.
func (c *Client) SetLightPower(ctx context.Context, deviceID string, on bool) error {
	_, err := c.SendCommand(ctx, deviceID, device.KeyLightPower, boolToInt(on))
	return err
}

// SetLightBrightness sets the light brightness from a 0-255 scale, turning
// the light on. Zero turns it off instead.
func (c *Client) SetLightBrightness(ctx context.Context, deviceID string, brightness int) error {
	if brightness <= 0 {
		return c.SetLightPower(ctx, deviceID, false)
	}
	_, err := c.SetStatus(ctx, deviceID, map[string]int{
		device.KeyLightPower:      1,
		device.KeyLightBrightness: device.BrightnessToPercent(brightness),
	})
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
