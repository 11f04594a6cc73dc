package database

import (
	"time"
)

const (
	AlertStatusTriggered    = "triggered"
	AlertStatusNotTriggered = "notTriggered"
)

// Threshold is the comparison an alert applies to its parameter. Value is
// stored as text exactly as the user entered it.
type Threshold struct {
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Alert is a user-owned rule binding a location, a weather parameter and a
// threshold. Status is written only by the evaluation cycle.
type Alert struct {
	ID          string    `json:"_id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Location    string    `json:"location"`
	Parameter   string    `json:"parameter"`
	Threshold   Threshold `json:"threshold"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AlertStatusChange is one row modified by a bulk status update.
type AlertStatusChange struct {
	ID        string
	UserID    string
	Status    string
	UpdatedAt time.Time
}

// Connection binds a user to their latest socket and monitored location.
type Connection struct {
	UserID    string
	SocketID  *string
	Location  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
