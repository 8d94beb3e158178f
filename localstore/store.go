package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"boardportal/resolution"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the local durable cache tier: a single SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite file at path and migrates it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("localstore: create dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("localstore: open: %w", err)
	}
	// One writer keeps per-seat updates serialized.
	db.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Name() string { return "local" }

func (s *Store) Create(ctx context.Context, res resolution.Resolution) (resolution.Resolution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return resolution.Resolution{}, fmt.Errorf("localstore: begin create: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
INSERT INTO resolutions (id, created_at, updated_at, meeting_date, agreement_details, status, deadline_at, barcode_data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`,
		res.ID, formatTime(res.CreatedAt), formatTime(res.UpdatedAt), formatTime(res.MeetingDate),
		res.AgreementDetails, string(res.Status), formatTime(res.DeadlineAt), res.BarcodeData)
	if err != nil {
		return resolution.Resolution{}, fmt.Errorf("localstore: insert resolution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return resolution.Resolution{}, fmt.Errorf("localstore: insert resolution: %w", err)
	}
	if n == 0 {
		return s.get(ctx, tx, res.ID)
	}

	for i, sig := range res.Signatories {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO signatories (resolution_id, id, position, name, email, job_title, signed_at, signature_hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ID, sig.ID, i, sig.Name, sig.Email, sig.JobTitle, formatTimePtr(sig.SignedAt), sig.SignatureHash); err != nil {
			return resolution.Resolution{}, fmt.Errorf("localstore: insert signatory %s: %w", sig.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return resolution.Resolution{}, fmt.Errorf("localstore: commit create: %w", err)
	}
	return res.Clone(), nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectResolution = `SELECT id, created_at, updated_at, meeting_date, agreement_details, status, deadline_at, barcode_data FROM resolutions`

const selectSignatories = `SELECT resolution_id, id, name, email, job_title, signed_at, signature_hash FROM signatories`

func (s *Store) Get(ctx context.Context, id string) (resolution.Resolution, error) {
	return s.get(ctx, s.db, id)
}

func (s *Store) get(ctx context.Context, q queryer, id string) (resolution.Resolution, error) {
	res, err := scanResolution(q.QueryRowContext(ctx, selectResolution+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resolution.Resolution{}, resolution.ErrNotFound
		}
		return resolution.Resolution{}, fmt.Errorf("localstore: get resolution: %w", err)
	}
	rows, err := q.QueryContext(ctx, selectSignatories+` WHERE resolution_id = ? ORDER BY position`, id)
	if err != nil {
		return resolution.Resolution{}, fmt.Errorf("localstore: get signatories: %w", err)
	}
	panels, err := scanPanels(rows)
	if err != nil {
		return resolution.Resolution{}, err
	}
	res.Signatories = panels[id]
	return res, nil
}

func (s *Store) List(ctx context.Context) ([]resolution.Resolution, error) {
	rows, err := s.db.QueryContext(ctx, selectResolution+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("localstore: list resolutions: %w", err)
	}
	items := []resolution.Resolution{}
	for rows.Next() {
		res, err := scanResolution(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("localstore: scan resolution: %w", err)
		}
		items = append(items, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: list resolutions: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	sigRows, err := s.db.QueryContext(ctx, selectSignatories+` ORDER BY resolution_id, position`)
	if err != nil {
		return nil, fmt.Errorf("localstore: list signatories: %w", err)
	}
	panels, err := scanPanels(sigRows)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Signatories = panels[items[i].ID]
	}
	return items, nil
}

func (s *Store) UpdateSignatory(ctx context.Context, resolutionID, signatoryID string, signedAt time.Time, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: begin sign: %w", err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM resolutions WHERE id = ?`, resolutionID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resolution.ErrNotFound
		}
		return fmt.Errorf("localstore: read status: %w", err)
	}
	if resolution.Status(status) != resolution.StatusAwaitingSignatures {
		return resolution.ErrResolutionNotSignable
	}

	result, err := tx.ExecContext(ctx, `
UPDATE signatories SET signed_at = ?, signature_hash = ?
WHERE resolution_id = ? AND id = ? AND signed_at IS NULL`,
		formatTime(signedAt), hash, resolutionID, signatoryID)
	if err != nil {
		return fmt.Errorf("localstore: update signatory: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("localstore: update signatory: %w", err)
	}
	if n == 0 {
		var signedAtText sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT signed_at FROM signatories WHERE resolution_id = ? AND id = ?`,
			resolutionID, signatoryID).Scan(&signedAtText)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return resolution.ErrUnknownSignatory
		case err != nil:
			return fmt.Errorf("localstore: check signatory: %w", err)
		case signedAtText.Valid:
			return resolution.ErrAlreadySigned
		default:
			return fmt.Errorf("localstore: signatory %s not updated", signatoryID)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE resolutions SET updated_at = ? WHERE id = ?`, formatTime(s.now()), resolutionID); err != nil {
		return fmt.Errorf("localstore: touch resolution: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore: commit sign: %w", err)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status resolution.Status) error {
	result, err := s.db.ExecContext(ctx, `UPDATE resolutions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("localstore: update status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("localstore: update status: %w", err)
	}
	if n == 0 {
		return resolution.ErrNotFound
	}
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from, to resolution.Status) error {
	result, err := s.db.ExecContext(ctx, `UPDATE resolutions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(s.now()), id, string(from))
	if err != nil {
		return fmt.Errorf("localstore: transition status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("localstore: transition status: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM resolutions WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("localstore: check resolution: %w", err)
	}
	if exists == 0 {
		return resolution.ErrNotFound
	}
	return resolution.ErrStatusConflict
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResolution(row scanner) (resolution.Resolution, error) {
	var res resolution.Resolution
	var status, createdAt, updatedAt, meeting, deadline string
	if err := row.Scan(&res.ID, &createdAt, &updatedAt, &meeting, &res.AgreementDetails, &status, &deadline, &res.BarcodeData); err != nil {
		return resolution.Resolution{}, err
	}
	res.Status = resolution.Status(status)
	var err error
	if res.CreatedAt, err = parseTime(createdAt); err != nil {
		return resolution.Resolution{}, err
	}
	if res.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return resolution.Resolution{}, err
	}
	if res.MeetingDate, err = parseTime(meeting); err != nil {
		return resolution.Resolution{}, err
	}
	if res.DeadlineAt, err = parseTime(deadline); err != nil {
		return resolution.Resolution{}, err
	}
	return res, nil
}

func scanPanels(rows *sql.Rows) (map[string][]resolution.Signatory, error) {
	defer rows.Close()
	out := map[string][]resolution.Signatory{}
	for rows.Next() {
		var (
			resolutionID string
			sig          resolution.Signatory
			signedAt     sql.NullString
			hash         sql.NullString
		)
		if err := rows.Scan(&resolutionID, &sig.ID, &sig.Name, &sig.Email, &sig.JobTitle, &signedAt, &hash); err != nil {
			return nil, fmt.Errorf("localstore: scan signatory: %w", err)
		}
		if signedAt.Valid {
			at, err := parseTime(signedAt.String)
			if err != nil {
				return nil, err
			}
			sig.SignedAt = &at
		}
		if hash.Valid {
			h := hash.String
			sig.SignatureHash = &h
		}
		out[resolutionID] = append(out[resolutionID], sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: scan signatories: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("localstore: parse time %q: %w", s, err)
	}
	return t, nil
}
