package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

const (
	systemLogColumns = `id, level, source, message, data, user_id, created_at`

	defaultLogLimit  = 100
	maxLogLimit      = 500
	defaultTailLimit = 200
)

// LogQuery narrows a system log listing. A zero UserID with IsAdmin false
// still applies the visibility filter, matching unowned-sessions seeing only
// ownerless logs.
type LogQuery struct {
	Level   string
	Source  string
	Limit   int
	UserID  int64
	IsAdmin bool
}

// SystemLogStore persists application-domain events shown on the debug page
// and streamed over SSE.
type SystemLogStore interface {
	Insert(ctx context.Context, entry models.SystemLog) (models.SystemLog, error)
	List(ctx context.Context, q LogQuery) ([]models.SystemLog, error)
	TailAfter(ctx context.Context, afterID int64, userID int64, admin bool, limit int) ([]models.SystemLog, error)
	LatestID(ctx context.Context) (int64, error)
}

type SQLSystemLogStore struct {
	db *sql.DB
}

func NewSystemLogStore(db *sql.DB) *SQLSystemLogStore {
	return &SQLSystemLogStore{db: db}
}

func (s *SQLSystemLogStore) Insert(ctx context.Context, entry models.SystemLog) (models.SystemLog, error) {
	if s == nil || s.db == nil {
		return models.SystemLog{}, errors.New("system log store unavailable")
	}
	if entry.Level == "" {
		entry.Level = models.LogLevelInfo
	}
	if entry.Source == "" {
		entry.Source = models.LogSourceSystem
	}
	if entry.Data == nil {
		entry.Data = models.StateMap{}
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO system_logs (level, source, message, data, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`,
		entry.Level,
		entry.Source,
		entry.Message,
		entry.Data,
		entry.UserID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return models.SystemLog{}, fmt.Errorf("insert system log: %w", err)
	}
	return entry, nil
}

func (s *SQLSystemLogStore) List(ctx context.Context, q LogQuery) ([]models.SystemLog, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("system log store unavailable")
	}

	query := `SELECT ` + systemLogColumns + ` FROM system_logs`
	var args []interface{}
	var conds []string

	if q.Level != "" {
		args = append(args, q.Level)
		conds = append(conds, "level = $"+strconv.Itoa(len(args)))
	}
	if q.Source != "" {
		args = append(args, q.Source)
		conds = append(conds, "source = $"+strconv.Itoa(len(args)))
	}
	if !q.IsAdmin {
		args = append(args, q.UserID)
		conds = append(conds, "(user_id IS NULL OR user_id = $"+strconv.Itoa(len(args))+")")
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list system logs: %w", err)
	}
	defer rows.Close()

	return collectSystemLogs(rows)
}

// TailAfter returns logs with id > afterID in ascending id order, applying
// the same visibility filter as List. The realtime fan-out advances its
// cursor with it.
func (s *SQLSystemLogStore) TailAfter(ctx context.Context, afterID int64, userID int64, admin bool, limit int) ([]models.SystemLog, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("system log store unavailable")
	}
	if limit <= 0 {
		limit = defaultTailLimit
	}

	query := `
		SELECT ` + systemLogColumns + `
		FROM system_logs
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`
	args := []interface{}{afterID, limit}
	if !admin {
		query = `
		SELECT ` + systemLogColumns + `
		FROM system_logs
		WHERE id > $1 AND (user_id IS NULL OR user_id = $3)
		ORDER BY id ASC
		LIMIT $2
	`
		args = append(args, userID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tail system logs: %w", err)
	}
	defer rows.Close()

	return collectSystemLogs(rows)
}

func (s *SQLSystemLogStore) LatestID(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("system log store unavailable")
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM system_logs`).Scan(&id); err != nil {
		return 0, fmt.Errorf("latest system log id: %w", err)
	}
	return id, nil
}

func collectSystemLogs(rows *sql.Rows) ([]models.SystemLog, error) {
	var entries []models.SystemLog
	for rows.Next() {
		var entry models.SystemLog
		if err := rows.Scan(
			&entry.ID,
			&entry.Level,
			&entry.Source,
			&entry.Message,
			&entry.Data,
			&entry.UserID,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan system log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate system logs: %w", err)
	}
	return entries, nil
}
