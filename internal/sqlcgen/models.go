package sqlcgen

import "time"

type Printer struct {
	ID        string
	Name      string
	Address   string
	CreatedAt time.Time
}

type AuditEvent struct {
	ID         int64
	Actor      string
	Action     string
	TargetType *string
	TargetID   *string
	Details    map[string]any
	CreatedAt  time.Time
}
