// Package nas is the registry of trusted network-access devices. The
// transport layer looks a device up by address and verifies its shared
// secret before any of the device's accounting events reach the session
// manager.
package nas

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"

	"github.com/codelaboratoryltd/aaad/pkg/store"
)

var (
	// ErrNotFound is returned when no NAS is registered at an address.
	ErrNotFound = errors.New("NAS not found")

	// ErrDuplicateNas is returned when registering an address that is
	// already registered.
	ErrDuplicateNas = errors.New("NAS already registered")
)

// Client is a registered network-access device.
type Client struct {
	ID          string
	Address     string // unique network address or identifier
	ShortName   string
	Type        string // device type, e.g. "cisco", "mikrotik", "other"
	Secret      string // shared secret for transport authentication
	Description string
	Ports       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Registry provides access to the nas_clients table. NAS clients are
// referenced by accounting sessions through their address, never owned
// by them.
type Registry struct {
	db     *store.Store
	logger *zap.Logger
}

// NewRegistry creates a NAS registry on the shared storage handle.
func NewRegistry(db *store.Store, logger *zap.Logger) *Registry {
	return &Registry{db: db, logger: logger}
}

// Register adds a device. The UNIQUE constraint on nas_address rejects
// duplicate registrations atomically. The row ID is assigned here if
// the caller did not supply one.
func (r *Registry) Register(ctx context.Context, client *Client) error {
	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	if client.Type == "" {
		client.Type = "other"
	}
	now := time.Now()
	client.CreatedAt = now
	client.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO nas_clients (id, nas_address, short_name, type, secret, description, ports, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID, client.Address, client.ShortName, client.Type,
		client.Secret, client.Description, client.Ports,
		now.Unix(), now.Unix())
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrDuplicateNas
		}
		return err
	}

	r.logger.Info("NAS registered",
		zap.String("nas_address", client.Address),
		zap.String("short_name", client.ShortName),
		zap.String("type", client.Type),
	)
	return nil
}

// Lookup returns the device registered at an address.
func (r *Registry) Lookup(ctx context.Context, address string) (*Client, error) {
	var client *Client
	err := r.db.Query(ctx, `
		SELECT id, nas_address, short_name, type, secret, description, ports, created_at, updated_at
		FROM nas_clients
		WHERE nas_address = ?`,
		func(stmt *sqlite.Stmt) error {
			client = scanClient(stmt)
			return nil
		},
		address)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrNotFound
	}
	return client, nil
}

// Update replaces the mutable fields of a registered device, matched by
// address.
func (r *Registry) Update(ctx context.Context, client *Client) error {
	changed, err := r.db.Exec(ctx, `
		UPDATE nas_clients
		SET short_name = ?, type = ?, secret = ?, description = ?, ports = ?, updated_at = ?
		WHERE nas_address = ?`,
		client.ShortName, client.Type, client.Secret,
		client.Description, client.Ports, time.Now().Unix(),
		client.Address)
	if err != nil {
		return err
	}
	if changed == 0 {
		return ErrNotFound
	}

	r.logger.Info("NAS updated", zap.String("nas_address", client.Address))
	return nil
}

// Delete removes a device from the registry. Accounting sessions keep
// their nas_address column; they reference the device by identifier
// only and survive its removal.
func (r *Registry) Delete(ctx context.Context, address string) error {
	changed, err := r.db.Exec(ctx,
		`DELETE FROM nas_clients WHERE nas_address = ?`, address)
	if err != nil {
		return err
	}
	if changed == 0 {
		return ErrNotFound
	}

	r.logger.Info("NAS deleted", zap.String("nas_address", address))
	return nil
}

// List returns all registered devices ordered by address.
func (r *Registry) List(ctx context.Context) ([]*Client, error) {
	var clients []*Client
	err := r.db.Query(ctx, `
		SELECT id, nas_address, short_name, type, secret, description, ports, created_at, updated_at
		FROM nas_clients
		ORDER BY nas_address`,
		func(stmt *sqlite.Stmt) error {
			clients = append(clients, scanClient(stmt))
			return nil
		})
	if err != nil {
		return nil, err
	}
	return clients, nil
}

func scanClient(stmt *sqlite.Stmt) *Client {
	return &Client{
		ID:          stmt.ColumnText(0),
		Address:     stmt.ColumnText(1),
		ShortName:   stmt.ColumnText(2),
		Type:        stmt.ColumnText(3),
		Secret:      stmt.ColumnText(4),
		Description: stmt.ColumnText(5),
		Ports:       int(stmt.ColumnInt64(6)),
		CreatedAt:   time.Unix(stmt.ColumnInt64(7), 0),
		UpdatedAt:   time.Unix(stmt.ColumnInt64(8), 0),
	}
}
