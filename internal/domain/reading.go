package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TemperatureUnit identifies temperature scale for readings and rule thresholds.
// Params: constants "F" or "C".
// Returns: normalized unit usage across pipeline.
type TemperatureUnit string

const (
	// UnitFahrenheit marks Fahrenheit scale.
	UnitFahrenheit TemperatureUnit = "F"
	// UnitCelsius marks Celsius scale.
	UnitCelsius TemperatureUnit = "C"
)

// Valid reports whether unit is a supported scale.
// Params: none.
// Returns: true for F or C.
func (u TemperatureUnit) Valid() bool {
	return u == UnitFahrenheit || u == UnitCelsius
}

// Convert converts a temperature value from unit u into target unit.
// Params: value in unit u and target unit.
// Returns: value expressed in target unit (exact linear conversion).
func (u TemperatureUnit) Convert(value float64, target TemperatureUnit) float64 {
	if u == target {
		return value
	}
	if u == UnitFahrenheit && target == UnitCelsius {
		return (value - 32) * 5 / 9
	}
	return value*9/5 + 32
}

// Reading is one normalized probe temperature sample.
// Params: device/probe identity, measured value with unit, sample timestamp, and link state.
// Returns: validated reading payload for rule evaluation.
type Reading struct {
	DeviceID    string          `json:"device_id"`
	ProbeID     string          `json:"probe_id"`
	Temperature float64         `json:"temperature"`
	Unit        TemperatureUnit `json:"unit"`
	DT          int64           `json:"dt"`
	IsConnected bool            `json:"is_connected"`
}

// ReadingTime converts milliseconds unix timestamp into UTC time.
// Params: none.
// Returns: converted UTC time.
func (r Reading) ReadingTime() time.Time {
	return time.UnixMilli(r.DT).UTC()
}

// DecodeReading decodes and validates one reading payload.
// Params: JSON document bytes.
// Returns: validated reading or decode/validation error.
func DecodeReading(raw []byte) (Reading, error) {
	var reading Reading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	if err := reading.Validate(); err != nil {
		return Reading{}, err
	}
	return reading, nil
}

// DecodeReadingsReader decodes and validates one batch of readings from stream.
// Params: reader with one JSON array of readings.
// Returns: validated readings slice or decode/validation error.
func DecodeReadingsReader(reader *json.Decoder) ([]Reading, error) {
	var readings []Reading
	if err := reader.Decode(&readings); err != nil {
		return nil, fmt.Errorf("decode reading batch: %w", err)
	}
	if len(readings) == 0 {
		return nil, errors.New("reading batch must contain at least one reading")
	}
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			return nil, fmt.Errorf("reading[%d]: %w", i, err)
		}
	}
	return readings, nil
}

// Validate validates one reading against the input contract.
// Params: reading fields parsed from transport.
// Returns: validation error when schema is violated.
func (r Reading) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return errors.New("device_id is required")
	}
	if strings.TrimSpace(r.ProbeID) == "" {
		return errors.New("probe_id is required")
	}
	if r.DT <= 0 {
		return errors.New("dt must be >0")
	}
	if !r.Unit.Valid() {
		return fmt.Errorf("unsupported unit %q", r.Unit)
	}
	return nil
}
