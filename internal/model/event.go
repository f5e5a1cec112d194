package model

import "time"

// EventAction names a change performed through this tool.
type EventAction string

const (
	ActionCreated   EventAction = "created"
	ActionUpdated   EventAction = "updated"
	ActionEnabled   EventAction = "enabled"
	ActionDisabled  EventAction = "disabled"
	ActionDestroyed EventAction = "deleted"
	ActionLogin     EventAction = "login"
	ActionLogout    EventAction = "logout"
)

// Event is an entry in the local action history.
type Event struct {
	ID        string      `db:"id"`
	Action    EventAction `db:"action"`
	Email     string      `db:"email"`
	Detail    string      `db:"detail"`
	CreatedAt time.Time   `db:"created_at"`
}
