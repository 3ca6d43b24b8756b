package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/auditdesk/portal/pkg/pg"
)

// Querier is the subset of pgxpool.Pool the directory needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres reads the clients, audits, audit_assignees and users tables.
type Postgres struct {
	db Querier
}

// NewPostgres creates a Directory backed by db.
func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

const getClientSQL = `
SELECT id, name, COALESCE(assigned_user_id, '')
FROM clients
WHERE id = $1`

func (p *Postgres) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var c Client
	err := p.db.QueryRow(ctx, getClientSQL, clientID).Scan(&c.ID, &c.Name, &c.AssignedUserID)
	if pg.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrLookupFailed, fmt.Errorf("client %s: %w", clientID, err))
	}
	return &c, nil
}

const getAuditSQL = `
SELECT a.id, a.year, a.client_id, c.name, a.stage, a.status,
       COALESCE(ARRAY(
           SELECT aa.user_id FROM audit_assignees aa
           WHERE aa.audit_id = a.id
           ORDER BY aa.assigned_at, aa.user_id
       ), '{}')
FROM audits a
JOIN clients c ON c.id = a.client_id
WHERE a.id = $1`

func (p *Postgres) GetAudit(ctx context.Context, auditID string) (*Audit, error) {
	var a Audit
	err := p.db.QueryRow(ctx, getAuditSQL, auditID).Scan(
		&a.ID, &a.Year, &a.ClientID, &a.ClientName, &a.Stage, &a.Status, &a.AssignedUserIDs,
	)
	if pg.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrLookupFailed, fmt.Errorf("audit %s: %w", auditID, err))
	}
	return &a, nil
}

const getUserSQL = `
SELECT id, name, email, role
FROM users
WHERE id = $1 AND deleted_at IS NULL`

func (p *Postgres) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := p.db.QueryRow(ctx, getUserSQL, userID).Scan(&u.ID, &u.Name, &u.Email, &u.Role)
	if pg.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrLookupFailed, fmt.Errorf("user %s: %w", userID, err))
	}
	return &u, nil
}
