package restart

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// Fixed width so text ordering matches time ordering.
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// Restart reasons recorded with each event.
const (
	ReasonNotRegistered    = "not_registered"
	ReasonConnectFailed    = "connect_failed"
	ReasonDisconnectFailed = "disconnect_failed"
	ReasonForced           = "forced"
)

// Event is one fired driver restart.
type Event struct {
	ID        int64     `json:"id"`
	Driver    string    `json:"driver"`
	Device    string    `json:"device,omitempty"`
	Reason    string    `json:"reason"`
	Immediate bool      `json:"immediate"`
	Strikes   int       `json:"strikes"`
	Error     string    `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// DriverPath is the executable named in the restart command and PIDs
	// the driver processes found running just before it was sent.
	DriverPath string  `json:"driver_path,omitempty"`
	PIDs       []int32 `json:"pids,omitempty"`
}

// History stores fired restarts.
//
// Implementations must be thread-safe and use UTC timestamps.
type History interface {
	// Record stores one event.
	Record(ctx context.Context, ev Event) error

	// List returns recent events newest first. An empty driver lists all.
	List(ctx context.Context, driver string, limit int) ([]Event, error)
}

// SQLiteHistory implements History on the restart_events table.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory creates a history backed by db. The restart_events
// migration must have been applied.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// Record inserts ev. A zero CreatedAt is stamped with the current time.
func (h *SQLiteHistory) Record(ctx context.Context, ev Event) error {
	if ev.Driver == "" {
		return fmt.Errorf("driver is required")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO restart_events
		 (driver, device, reason, immediate, strikes, error, session_id, created_at, driver_path, pids)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Driver,
		ev.Device,
		ev.Reason,
		ev.Immediate,
		ev.Strikes,
		ev.Error,
		ev.SessionID,
		ev.CreatedAt.UTC().Format(timestampLayout),
		ev.DriverPath,
		formatPIDs(ev.PIDs),
	)
	if err != nil {
		return fmt.Errorf("inserting restart event: %w", err)
	}
	return nil
}

// List returns up to limit events (default 50, max 500) ordered newest first.
func (h *SQLiteHistory) List(ctx context.Context, driver string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `SELECT id, driver, device, reason, immediate, strikes, error, session_id, created_at,
		 driver_path, pids
		 FROM restart_events`
	args := []any{}
	if driver != "" {
		query += " WHERE driver = ?"
		args = append(args, driver)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying restart events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		var createdAt, pids string
		if err := rows.Scan(&ev.ID, &ev.Driver, &ev.Device, &ev.Reason, &ev.Immediate,
			&ev.Strikes, &ev.Error, &ev.SessionID, &createdAt, &ev.DriverPath, &pids); err != nil {
			return nil, fmt.Errorf("scanning restart event: %w", err)
		}
		ev.CreatedAt, err = time.Parse(timestampLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		ev.PIDs, err = parsePIDs(pids)
		if err != nil {
			return nil, fmt.Errorf("parsing pids: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating restart events: %w", err)
	}

	return events, nil
}

// Prune deletes events older than olderThan and returns the count removed.
func (h *SQLiteHistory) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := h.db.ExecContext(ctx, "DELETE FROM restart_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting restart events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// PIDs are stored as a comma separated list; "" means none were found.
func formatPIDs(pids []int32) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.FormatInt(int64(pid), 10)
	}
	return strings.Join(parts, ",")
}

func parsePIDs(s string) ([]int32, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	pids := make([]int32, 0, len(fields))
	for _, f := range fields {
		pid, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, err
		}
		pids = append(pids, int32(pid))
	}
	return pids, nil
}
