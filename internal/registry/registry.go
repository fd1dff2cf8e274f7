// Package registry owns printer identity: id, display name and network
// address. Runtime state lives in the fleet package.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"printfarm/core-go/internal/naming"
)

var (
	ErrNotFound         = errors.New("printer not found")
	ErrInvalidID        = errors.New("invalid printer id")
	ErrInvalidAddress   = errors.New("invalid printer address")
	ErrDuplicateAddress = errors.New("printer address already registered")
)

type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

type DeviceCreate struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
}

// Store is implemented by Memory and Postgres.
type Store interface {
	List(ctx context.Context) ([]Device, error)
	Get(ctx context.Context, id string) (Device, error)
	Create(ctx context.Context, in DeviceCreate) (Device, error)
	Delete(ctx context.Context, id string) error
}

// Prepare trims and validates a registration, deriving the display name when
// none was given.
func Prepare(in DeviceCreate) (DeviceCreate, error) {
	addr := strings.TrimSpace(in.Address)
	if addr == "" || strings.ContainsAny(addr, " \t\r\n") || naming.HostOf(addr) == "" {
		return DeviceCreate{}, ErrInvalidAddress
	}
	addr = strings.TrimRight(addr, "/")
	return DeviceCreate{
		Name:    naming.ForPrinter(in.Name, addr),
		Address: addr,
	}, nil
}

// Seed creates every entry whose address is not registered yet and returns
// how many were added.
func Seed(ctx context.Context, s Store, entries []DeviceCreate) (int, error) {
	existing, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		known[strings.ToLower(d.Address)] = struct{}{}
	}

	added := 0
	for _, e := range entries {
		p, err := Prepare(e)
		if err != nil {
			return added, err
		}
		if _, ok := known[strings.ToLower(p.Address)]; ok {
			continue
		}
		if _, err := s.Create(ctx, p); err != nil {
			return added, err
		}
		known[strings.ToLower(p.Address)] = struct{}{}
		added++
	}
	return added, nil
}
