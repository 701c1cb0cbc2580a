package model

import (
	"fmt"
	"math"
)

// AntiDetectionConfig parameterizes one render. SpeedFactor and
// FlipHorizontal apply even when Enabled is false; the rotate, zoom, color
// and volume values only apply when Enabled is true.
type AntiDetectionConfig struct {
	Enabled          bool    `json:"enabled" yaml:"enabled"`
	FlipHorizontal   bool    `json:"flip_horizontal" yaml:"flip_horizontal"`
	SpeedFactor      float64 `json:"speed_factor" yaml:"speed_factor"`
	RotationDegrees  float64 `json:"rotation_degrees" yaml:"rotation_degrees"`
	ZoomFactor       float64 `json:"zoom_factor" yaml:"zoom_factor"`
	ColorMultiplier  float64 `json:"color_multiplier" yaml:"color_multiplier"`
	VolumeMultiplier float64 `json:"volume_multiplier" yaml:"volume_multiplier"`
}

const (
	MinSpeedFactor = 0.95
	MaxSpeedFactor = 1.05
	MaxRotation    = 10.0
	MinZoom        = 1.0
	MaxZoom        = 1.5
)

func DefaultAntiDetection() AntiDetectionConfig {
	return AntiDetectionConfig{
		Enabled:          true,
		SpeedFactor:      1.0,
		RotationDegrees:  1.5,
		ZoomFactor:       1.15,
		ColorMultiplier:  1.03,
		VolumeMultiplier: 0.98,
	}
}

// Validate checks parameter bounds. The returned error is a plain cause;
// callers wrap it as a transform error.
func (c AntiDetectionConfig) Validate() error {
	if math.IsNaN(c.SpeedFactor) || c.SpeedFactor < MinSpeedFactor || c.SpeedFactor > MaxSpeedFactor {
		return fmt.Errorf("speed factor %.3f outside [%.2f, %.2f]", c.SpeedFactor, MinSpeedFactor, MaxSpeedFactor)
	}
	if !c.Enabled {
		return nil
	}
	if math.Abs(c.RotationDegrees) > MaxRotation {
		return fmt.Errorf("rotation %.2f° exceeds ±%.0f°", c.RotationDegrees, MaxRotation)
	}
	if c.ZoomFactor < MinZoom || c.ZoomFactor > MaxZoom {
		return fmt.Errorf("zoom factor %.3f outside [%.1f, %.1f]", c.ZoomFactor, MinZoom, MaxZoom)
	}
	if c.ColorMultiplier <= 0 || c.ColorMultiplier > 2 {
		return fmt.Errorf("color multiplier %.3f outside (0, 2]", c.ColorMultiplier)
	}
	if c.VolumeMultiplier <= 0 || c.VolumeMultiplier > 2 {
		return fmt.Errorf("volume multiplier %.3f outside (0, 2]", c.VolumeMultiplier)
	}
	return nil
}
