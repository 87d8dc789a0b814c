package domain

import (
	"fmt"
	"time"
)

// NotificationEvent is one triggered alert delivered to clients.
// Params: alert identity, trigger timestamp, rendered message, and reading context.
// Returns: outbound payload for delivery channels and client caches.
type NotificationEvent struct {
	AlertID            string          `json:"alert_id"`
	Timestamp          time.Time       `json:"timestamp"`
	Message            string          `json:"message"`
	CurrentTemperature float64         `json:"current_temperature"`
	Unit               TemperatureUnit `json:"unit"`
	DeviceID           string          `json:"device_id"`
	ProbeID            string          `json:"probe_id"`
	AlertType          AlertType       `json:"alert_type"`
	Test               bool            `json:"test,omitempty"`
	Read               bool            `json:"read"`
}

// Key returns the deduplication identity of the event.
// Params: none.
// Returns: (alertID, timestamp) composite key string.
func (e NotificationEvent) Key() string {
	return e.AlertID + "@" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// BuildNotification renders one notification for a triggered rule.
// Params: triggered rule, trigger time, and the reading value in the rule unit.
// Returns: notification event ready for dispatch.
func BuildNotification(rule AlertRule, triggeredAt time.Time, value float64) NotificationEvent {
	return NotificationEvent{
		AlertID:            rule.ID,
		Timestamp:          triggeredAt.UTC(),
		Message:            renderMessage(rule, value),
		CurrentTemperature: value,
		Unit:               rule.Unit,
		DeviceID:           rule.DeviceID,
		ProbeID:            rule.ProbeID,
		AlertType:          rule.AlertType,
	}
}

// renderMessage formats the user-facing alert text per rule type.
// Params: rule and current value in the rule unit.
// Returns: short message string.
func renderMessage(rule AlertRule, value float64) string {
	switch rule.AlertType {
	case AlertTypeTarget:
		return fmt.Sprintf("%s: probe reached %.1f°%s (target %.1f°%s)",
			rule.Name, value, rule.Unit, *rule.TargetTemperature, rule.Unit)
	case AlertTypeRange:
		return fmt.Sprintf("%s: probe at %.1f°%s is outside %.1f–%.1f°%s",
			rule.Name, value, rule.Unit, *rule.MinTemperature, *rule.MaxTemperature, rule.Unit)
	case AlertTypeRising:
		return fmt.Sprintf("%s: probe rising fast, now %.1f°%s", rule.Name, value, rule.Unit)
	case AlertTypeFalling:
		return fmt.Sprintf("%s: probe falling fast, now %.1f°%s", rule.Name, value, rule.Unit)
	default:
		return fmt.Sprintf("%s: probe at %.1f°%s", rule.Name, value, rule.Unit)
	}
}
