package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/weather-alerts/internal/weather"
)

// Event names delivered on a user's channel.
const (
	EventLocationSetAck       = "locationSetAck"
	EventTemperatureUpdate    = "temperatureUpdate"
	EventTemperatureError     = "temperatureError"
	EventAlertStatusTriggered = "alertStatusTriggered"
)

// AlertStatusChanged is the backend-to-backend message emitted for every
// alert whose status was actually modified. It is the Kafka message value.
type AlertStatusChanged struct {
	AlertID   string    `json:"_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
	UserID    string    `json:"userId"`
}

// AlertStatusTriggered is what the owning user's clients receive.
type AlertStatusTriggered struct {
	AlertID   string    `json:"alertId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LocationSetAck answers a setLocation request.
type LocationSetAck struct {
	Success  bool   `json:"success"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Coords are the coordinates reported alongside a weather update.
type Coords struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TemperatureUpdate carries the latest observation for a monitored location.
type TemperatureUpdate struct {
	Values       *weather.Values `json:"values"`
	LocationName string          `json:"locationName"`
	Time         time.Time       `json:"time"`
	Coords       Coords          `json:"coords"`
}

// TemperatureError reports a failed fetch for a monitored location.
type TemperatureError struct {
	Location string `json:"location"`
	Message  string `json:"message"`
}

// UserEvent is the envelope published on a user's pub/sub channel.
type UserEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Relay converts the backend message into the client payload.
func (m *AlertStatusChanged) Relay() *AlertStatusTriggered {
	return &AlertStatusTriggered{
		AlertID:   m.AlertID,
		Status:    m.Status,
		UpdatedAt: m.UpdatedAt,
	}
}

// EncodeAlertStatusChanged encodes an AlertStatusChanged to JSON
func EncodeAlertStatusChanged(msg *AlertStatusChanged) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeAlertStatusChanged decodes JSON to AlertStatusChanged. Messages
// without an alert or user id are rejected.
func DecodeAlertStatusChanged(data []byte) (*AlertStatusChanged, error) {
	var msg AlertStatusChanged
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.AlertID == "" || msg.UserID == "" {
		return nil, fmt.Errorf("alert status message missing _id or userId")
	}
	return &msg, nil
}

// EncodeUserEvent encodes payload under the given event name.
func EncodeUserEvent(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(&UserEvent{Event: event, Payload: raw})
}

// DecodeUserEvent decodes a UserEvent envelope.
func DecodeUserEvent(data []byte) (*UserEvent, error) {
	var ev UserEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("user event missing name")
	}
	return &ev, nil
}
