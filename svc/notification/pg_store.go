package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/auditdesk/portal/pkg/pg"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore keeps notifications in the notifications table.
type PgStore struct {
	db DB
}

// NewPgStore creates a Postgres-backed Store.
func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

const notificationColumns = `id, type, recipient_user_id, sender_user_id, COALESCE(entity_id, ''),
       message, COALESCE(link_url, ''), is_read, created_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.Type, &n.RecipientUserID, &n.SenderUserID, &n.EntityID,
		&n.Message, &n.LinkURL, &n.IsRead, &n.CreatedAt)
	return n, err
}

func (s *PgStore) CountNotifications(ctx context.Context, f CountFilter) (int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("recipient_user_id = $%d", f.UserID)
	}
	if f.SenderUserID != "" {
		add("sender_user_id = $%d", f.SenderUserID)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.IsRead != nil {
		add("is_read = $%d", *f.IsRead)
	}
	if !f.CreatedAfter.IsZero() {
		add("created_at >= $%d", f.CreatedAfter)
	}

	q := "SELECT count(*) FROM notifications"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	var n int
	if err := s.db.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, errors.Join(ErrStoreFailure, fmt.Errorf("count notifications: %w", err))
	}
	return n, nil
}

const findDuplicateSQL = `
SELECT ` + notificationColumns + `
FROM notifications
WHERE recipient_user_id = $1 AND type = $2 AND entity_id = $3 AND created_at >= $4
ORDER BY created_at DESC
LIMIT 1`

func (s *PgStore) FindDuplicate(ctx context.Context, recipientUserID string, t Type, entityID string, since time.Time) (*Notification, error) {
	if entityID == "" {
		return nil, nil
	}
	n, err := scanNotification(s.db.QueryRow(ctx, findDuplicateSQL, recipientUserID, string(t), entityID, since))
	if pg.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, fmt.Errorf("find duplicate: %w", err))
	}
	return &n, nil
}

const insertNotificationSQL = `
INSERT INTO notifications
    (id, type, recipient_user_id, sender_user_id, entity_id, message, link_url, is_read, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9)`

func (s *PgStore) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	_, err := s.db.Exec(ctx, insertNotificationSQL,
		n.ID, string(n.Type), n.RecipientUserID, n.SenderUserID, n.EntityID,
		n.Message, n.LinkURL, n.IsRead, n.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) || pg.IsForeignKeyViolationError(err) {
			return Notification{}, errors.Join(ErrInvalidNotification, err)
		}
		return Notification{}, errors.Join(ErrStoreFailure, fmt.Errorf("insert notification: %w", err))
	}
	return n, nil
}

const markReadSQL = `
UPDATE notifications
SET is_read = TRUE, read_at = now()
WHERE recipient_user_id = $1 AND id = ANY($2) AND NOT is_read
RETURNING id`

func (s *PgStore) MarkRead(ctx context.Context, userID string, ids []string) (ReadResult, error) {
	if len(ids) == 0 {
		return ReadResult{AffectedIDs: []string{}}, nil
	}
	return s.collectIDs(ctx, "mark read", markReadSQL, userID, ids)
}

const markAllReadSQL = `
UPDATE notifications
SET is_read = TRUE, read_at = now()
WHERE recipient_user_id = $1 AND NOT is_read
RETURNING id`

func (s *PgStore) MarkAllRead(ctx context.Context, userID string) (ReadResult, error) {
	return s.collectIDs(ctx, "mark all read", markAllReadSQL, userID)
}

func (s *PgStore) collectIDs(ctx context.Context, op, q string, args ...any) (ReadResult, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return ReadResult{}, errors.Join(ErrStoreFailure, fmt.Errorf("%s: %w", op, err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return ReadResult{}, errors.Join(ErrStoreFailure, fmt.Errorf("%s: %w", op, err))
	}
	if ids == nil {
		ids = []string{}
	}
	return ReadResult{UpdatedCount: len(ids), AffectedIDs: ids}, nil
}

const listSQL = `
SELECT ` + notificationColumns + `
FROM notifications
WHERE recipient_user_id = $1 AND (NOT $2 OR NOT is_read)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

func (s *PgStore) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	var limit any
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	rows, err := s.db.Query(ctx, listSQL, userID, opts.OnlyUnread, limit, max(opts.Offset, 0))
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, fmt.Errorf("list notifications: %w", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		return scanNotification(row)
	})
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, fmt.Errorf("list notifications: %w", err))
	}
	if out == nil {
		out = []Notification{}
	}
	return out, nil
}
