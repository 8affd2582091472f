package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-portal/internal/tenancy"
)

var ErrContactNotFound = errors.New("notify: contact not found")

// Contact is how a portal user is reached.
type Contact struct {
	UserID string
	OrgID  string
	Email  string
	Name   string
	Role   tenancy.Role
}

// Directory resolves users to contacts.
type Directory interface {
	Lookup(ctx context.Context, orgID, userID string) (*Contact, error)
	ByRole(ctx context.Context, orgID string, role tenancy.Role) ([]Contact, error)
}

type directoryDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProfileDirectory reads the profiles table.
type ProfileDirectory struct {
	db directoryDB
}

func NewProfileDirectory(pool *pgxpool.Pool) *ProfileDirectory {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &ProfileDirectory{db: pool}
}

func NewProfileDirectoryWithDB(db directoryDB) *ProfileDirectory {
	return &ProfileDirectory{db: db}
}

func (d *ProfileDirectory) Lookup(ctx context.Context, orgID, userID string) (*Contact, error) {
	var c Contact
	var role string
	err := d.db.QueryRow(ctx, `
		SELECT id, org_id, email, full_name, role FROM profiles WHERE org_id = $1 AND id = $2
	`, orgID, userID).Scan(&c.UserID, &c.OrgID, &c.Email, &c.Name, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("notify: lookup contact: %w", err)
	}
	c.Role = tenancy.Role(role)
	return &c, nil
}

func (d *ProfileDirectory) ByRole(ctx context.Context, orgID string, role tenancy.Role) ([]Contact, error) {
	rows, err := d.db.Query(ctx, `
		SELECT id, org_id, email, full_name, role FROM profiles WHERE org_id = $1 AND role = $2 ORDER BY full_name
	`, orgID, string(role))
	if err != nil {
		return nil, fmt.Errorf("notify: contacts by role: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		var r string
		if err := rows.Scan(&c.UserID, &c.OrgID, &c.Email, &c.Name, &r); err != nil {
			return nil, fmt.Errorf("notify: scan contact: %w", err)
		}
		c.Role = tenancy.Role(r)
		out = append(out, c)
	}
	return out, rows.Err()
}
