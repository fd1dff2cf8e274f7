package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"printfarm/core-go/internal/sqlcgen"
)

const auditActor = "core-go"

// Pool is the subset of *db.Pool the Postgres store needs.
type Pool interface {
	Queries() *sqlcgen.Queries
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres persists printers and writes an audit event for every change in
// the same transaction.
type Postgres struct {
	pool Pool
}

func NewPostgres(pool Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) List(ctx context.Context) ([]Device, error) {
	rows, err := p.pool.Queries().ListPrinters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list printers: %w", err)
	}
	out := make([]Device, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (Device, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Device{}, ErrInvalidID
	}
	row, err := p.pool.Queries().GetPrinter(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("get printer: %w", err)
	}
	return fromRow(row), nil
}

func (p *Postgres) Create(ctx context.Context, in DeviceCreate) (Device, error) {
	prepared, err := Prepare(in)
	if err != nil {
		return Device{}, err
	}

	var out Device
	err = p.inTx(ctx, func(q *sqlcgen.Queries) error {
		row, err := q.CreatePrinter(ctx, sqlcgen.CreatePrinterParams{Name: prepared.Name, Address: prepared.Address})
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicateAddress
			}
			return fmt.Errorf("create printer: %w", err)
		}
		out = fromRow(row)
		return q.InsertAuditEvent(ctx, audit("printer.create", out.ID, map[string]any{
			"name":    out.Name,
			"address": out.Address,
		}))
	})
	return out, err
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return p.inTx(ctx, func(q *sqlcgen.Queries) error {
		n, err := q.DeletePrinter(ctx, id)
		if err != nil {
			return fmt.Errorf("delete printer: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return q.InsertAuditEvent(ctx, audit("printer.delete", id, nil))
	})
}

func (p *Postgres) inTx(ctx context.Context, fn func(q *sqlcgen.Queries) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(p.pool.Queries().WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func audit(action, targetID string, details map[string]any) sqlcgen.InsertAuditEventParams {
	targetType := "printer"
	return sqlcgen.InsertAuditEventParams{
		Actor:      auditActor,
		Action:     action,
		TargetType: &targetType,
		TargetID:   &targetID,
		Details:    details,
	}
}

func fromRow(r sqlcgen.Printer) Device {
	return Device{ID: r.ID, Name: r.Name, Address: r.Address, CreatedAt: r.CreatedAt}
}
