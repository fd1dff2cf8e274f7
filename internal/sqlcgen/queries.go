package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const insertAuditEvent = `-- name: InsertAuditEvent :exec
INSERT INTO audit_events (
  actor,
  action,
  target_type,
  target_id,
  details
)
VALUES ($1, $2, $3, $4::uuid, COALESCE($5, '{}'::jsonb))
`

type InsertAuditEventParams struct {
	Actor      string
	Action     string
	TargetType *string
	TargetID   *string
	Details    map[string]any
}

func (q *Queries) InsertAuditEvent(ctx context.Context, arg InsertAuditEventParams) error {
	_, err := q.db.Exec(ctx, insertAuditEvent, arg.Actor, arg.Action, arg.TargetType, arg.TargetID, arg.Details)
	return err
}

const listAuditEventsForTarget = `-- name: ListAuditEventsForTarget :many
SELECT id, actor, action, target_type, target_id::text, details, created_at
FROM audit_events
WHERE target_id = $1::uuid
ORDER BY id
`

func (q *Queries) ListAuditEventsForTarget(ctx context.Context, targetID string) ([]AuditEvent, error) {
	rows, err := q.db.Query(ctx, listAuditEventsForTarget, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AuditEvent
	for rows.Next() {
		var i AuditEvent
		if err := rows.Scan(&i.ID, &i.Actor, &i.Action, &i.TargetType, &i.TargetID, &i.Details, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createPrinter = `-- name: CreatePrinter :one
INSERT INTO printers (name, address)
VALUES ($1, $2)
RETURNING id::text, name, address, created_at
`

type CreatePrinterParams struct {
	Name    string
	Address string
}

func (q *Queries) CreatePrinter(ctx context.Context, arg CreatePrinterParams) (Printer, error) {
	row := q.db.QueryRow(ctx, createPrinter, arg.Name, arg.Address)
	var i Printer
	err := row.Scan(&i.ID, &i.Name, &i.Address, &i.CreatedAt)
	return i, err
}

const getPrinter = `-- name: GetPrinter :one
SELECT id::text, name, address, created_at
FROM printers
WHERE id = $1::uuid
`

func (q *Queries) GetPrinter(ctx context.Context, id string) (Printer, error) {
	row := q.db.QueryRow(ctx, getPrinter, id)
	var i Printer
	err := row.Scan(&i.ID, &i.Name, &i.Address, &i.CreatedAt)
	return i, err
}

const listPrinters = `-- name: ListPrinters :many
SELECT id::text, name, address, created_at
FROM printers
ORDER BY created_at, id
`

func (q *Queries) ListPrinters(ctx context.Context) ([]Printer, error) {
	rows, err := q.db.Query(ctx, listPrinters)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Printer
	for rows.Next() {
		var i Printer
		if err := rows.Scan(&i.ID, &i.Name, &i.Address, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deletePrinter = `-- name: DeletePrinter :execrows
DELETE FROM printers
WHERE id = $1::uuid
`

func (q *Queries) DeletePrinter(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, deletePrinter, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
