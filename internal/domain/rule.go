package domain

import (
	"errors"
	"fmt"
	"strings"
)

// AlertType identifies rule evaluation semantics.
// Params: target/range/rising/falling type constants.
// Returns: normalized alert type usage across pipeline.
type AlertType string

const (
	// AlertTypeTarget fires when temperature crosses a configured setpoint.
	AlertTypeTarget AlertType = "target"
	// AlertTypeRange fires when temperature leaves a configured safe band.
	AlertTypeRange AlertType = "range"
	// AlertTypeRising fires when temperature climbs by a delta within the lookback window.
	AlertTypeRising AlertType = "rising"
	// AlertTypeFalling fires when temperature drops by a delta within the lookback window.
	AlertTypeFalling AlertType = "falling"
)

// ValidationError marks malformed rule parameters surfaced to the caller.
// Params: wrapped root cause.
// Returns: typed validation error for API mapping.
type ValidationError struct {
	Err error
}

// Error returns wrapped error message.
// Params: none.
// Returns: string representation.
func (e ValidationError) Error() string {
	if e.Err == nil {
		return "validation error"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether error is a rule validation failure.
// Params: candidate error.
// Returns: true when error carries the validation marker.
func IsValidation(err error) bool {
	var marker ValidationError
	return errors.As(err, &marker)
}

func invalid(format string, args ...any) error {
	return ValidationError{Err: fmt.Errorf(format, args...)}
}

// AlertRule is one user-defined condition over a device/probe temperature stream.
// Params: identity, matching dimensions, type-specific thresholds, and active flag.
// Returns: validated rule definition consumed by the evaluator.
type AlertRule struct {
	ID                string          `json:"id"`
	DeviceID          string          `json:"device_id"`
	ProbeID           string          `json:"probe_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	AlertType         AlertType       `json:"alert_type"`
	Unit              TemperatureUnit `json:"temperature_unit"`
	TargetTemperature *float64        `json:"target_temperature,omitempty"`
	MinTemperature    *float64        `json:"min_temperature,omitempty"`
	MaxTemperature    *float64        `json:"max_temperature,omitempty"`
	ThresholdDelta    *float64        `json:"threshold_delta,omitempty"`
	IsActive          bool            `json:"is_active"`
}

// Validate validates rule shape: exactly the parameters the type requires must be set.
// Params: rule fields parsed from transport or config.
// Returns: ValidationError when the tagged-union contract is violated.
func (r AlertRule) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return invalid("device_id is required")
	}
	if strings.TrimSpace(r.ProbeID) == "" {
		return invalid("probe_id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return invalid("name is required")
	}
	if !r.Unit.Valid() {
		return invalid("unsupported temperature_unit %q", r.Unit)
	}

	switch r.AlertType {
	case AlertTypeTarget:
		if r.TargetTemperature == nil {
			return invalid("target_temperature is required for type=target")
		}
		if r.MinTemperature != nil || r.MaxTemperature != nil || r.ThresholdDelta != nil {
			return invalid("only target_temperature must be set for type=target")
		}
	case AlertTypeRange:
		if r.MinTemperature == nil || r.MaxTemperature == nil {
			return invalid("min_temperature and max_temperature are required for type=range")
		}
		if r.TargetTemperature != nil || r.ThresholdDelta != nil {
			return invalid("only min/max_temperature must be set for type=range")
		}
		if *r.MinTemperature >= *r.MaxTemperature {
			return invalid("min_temperature must be < max_temperature")
		}
	case AlertTypeRising, AlertTypeFalling:
		if r.ThresholdDelta == nil {
			return invalid("threshold_delta is required for type=%s", r.AlertType)
		}
		if r.TargetTemperature != nil || r.MinTemperature != nil || r.MaxTemperature != nil {
			return invalid("only threshold_delta must be set for type=%s", r.AlertType)
		}
		if *r.ThresholdDelta <= 0 {
			return invalid("threshold_delta must be >0")
		}
	default:
		return invalid("unsupported alert_type %q", r.AlertType)
	}
	return nil
}

// Matches reports whether rule applies to one device/probe pair.
// Params: reading device and probe identifiers.
// Returns: true when rule dimensions match.
func (r AlertRule) Matches(deviceID, probeID string) bool {
	return r.DeviceID == deviceID && r.ProbeID == probeID
}

// AlertTypeInfo describes one alert type for the metadata endpoint.
// Params: machine type key, human label/description, and required parameter names.
// Returns: static type descriptor.
type AlertTypeInfo struct {
	Type        AlertType `json:"type"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	Parameters  []string  `json:"parameters"`
}

// AlertTypes enumerates supported alert type metadata in stable order.
// Params: none.
// Returns: descriptor list for the types endpoint.
func AlertTypes() []AlertTypeInfo {
	return []AlertTypeInfo{
		{
			Type:        AlertTypeTarget,
			Label:       "Target temperature",
			Description: "Fires when the probe crosses the target temperature.",
			Parameters:  []string{"target_temperature"},
		},
		{
			Type:        AlertTypeRange,
			Label:       "Temperature range",
			Description: "Fires when the probe leaves the safe temperature band.",
			Parameters:  []string{"min_temperature", "max_temperature"},
		},
		{
			Type:        AlertTypeRising,
			Label:       "Rising temperature",
			Description: "Fires when the probe climbs by the configured delta within the lookback window.",
			Parameters:  []string{"threshold_delta"},
		},
		{
			Type:        AlertTypeFalling,
			Label:       "Falling temperature",
			Description: "Fires when the probe drops by the configured delta within the lookback window.",
			Parameters:  []string{"threshold_delta"},
		},
	}
}
