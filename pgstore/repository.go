package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"boardportal/resolution"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository is the primary relational tier backed by PostgreSQL.
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Name() string { return "postgres" }

// Create inserts the resolution and its panel. An existing id is not an
// error: the stored record is returned unchanged.
func (r *Repository) Create(ctx context.Context, res resolution.Resolution) (resolution.Resolution, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return resolution.Resolution{}, fmt.Errorf("pgstore: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
INSERT INTO resolutions (id, created_at, updated_at, meeting_date, agreement_details, status, deadline_at, barcode_data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`,
		res.ID, res.CreatedAt, res.UpdatedAt, res.MeetingDate, res.AgreementDetails, string(res.Status), res.DeadlineAt, res.BarcodeData)
	if err != nil {
		return resolution.Resolution{}, fmt.Errorf("pgstore: insert resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := r.get(ctx, tx, res.ID)
		if err != nil {
			return resolution.Resolution{}, err
		}
		return existing, nil
	}

	for i, s := range res.Signatories {
		if _, err := tx.Exec(ctx, `
INSERT INTO signatories (resolution_id, id, position, name, email, job_title, signed_at, signature_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			res.ID, s.ID, i, s.Name, s.Email, s.JobTitle, s.SignedAt, s.SignatureHash); err != nil {
			return resolution.Resolution{}, fmt.Errorf("pgstore: insert signatory %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return resolution.Resolution{}, fmt.Errorf("pgstore: commit create: %w", err)
	}
	return res.Clone(), nil
}

func (r *Repository) Get(ctx context.Context, id string) (resolution.Resolution, error) {
	return r.get(ctx, r.db, id)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectResolution = `
SELECT id, created_at, updated_at, meeting_date, agreement_details, status, deadline_at, barcode_data
FROM resolutions`

const selectSignatories = `
SELECT resolution_id, id, name, email, job_title, signed_at, signature_hash
FROM signatories`

func (r *Repository) get(ctx context.Context, q querier, id string) (resolution.Resolution, error) {
	res, err := scanResolution(q.QueryRow(ctx, selectResolution+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return resolution.Resolution{}, resolution.ErrNotFound
		}
		return resolution.Resolution{}, fmt.Errorf("pgstore: get resolution: %w", err)
	}

	rows, err := q.Query(ctx, selectSignatories+` WHERE resolution_id = $1 ORDER BY position`, id)
	if err != nil {
		return resolution.Resolution{}, fmt.Errorf("pgstore: get signatories: %w", err)
	}
	panels, err := scanPanels(rows)
	if err != nil {
		return resolution.Resolution{}, err
	}
	res.Signatories = panels[id]
	return res, nil
}

// List returns every resolution, newest first.
func (r *Repository) List(ctx context.Context) ([]resolution.Resolution, error) {
	rows, err := r.db.Query(ctx, selectResolution+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list resolutions: %w", err)
	}
	var items []resolution.Resolution
	for rows.Next() {
		res, err := scanResolution(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("pgstore: scan resolution: %w", err)
		}
		items = append(items, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list resolutions: %w", err)
	}
	if len(items) == 0 {
		return []resolution.Resolution{}, nil
	}

	sigRows, err := r.db.Query(ctx, selectSignatories+` ORDER BY resolution_id, position`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list signatories: %w", err)
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

// UpdateSignatory locks the resolution row, checks it still accepts
// signatures and stamps the seat only if it is unsigned.
func (r *Repository) UpdateSignatory(ctx context.Context, resolutionID, signatoryID string, signedAt time.Time, hash string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin sign: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM resolutions WHERE id = $1 FOR UPDATE`, resolutionID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return resolution.ErrNotFound
		}
		return fmt.Errorf("pgstore: lock resolution: %w", err)
	}
	if resolution.Status(status) != resolution.StatusAwaitingSignatures {
		return resolution.ErrResolutionNotSignable
	}

	tag, err := tx.Exec(ctx, `
UPDATE signatories
SET signed_at = $3, signature_hash = $4
WHERE resolution_id = $1 AND id = $2 AND signed_at IS NULL`,
		resolutionID, signatoryID, signedAt, hash)
	if err != nil {
		return fmt.Errorf("pgstore: update signatory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var signed bool
		err := tx.QueryRow(ctx, `SELECT signed_at IS NOT NULL FROM signatories WHERE resolution_id = $1 AND id = $2`,
			resolutionID, signatoryID).Scan(&signed)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return resolution.ErrUnknownSignatory
		case err != nil:
			return fmt.Errorf("pgstore: check signatory: %w", err)
		case signed:
			return resolution.ErrAlreadySigned
		default:
			return fmt.Errorf("pgstore: signatory %s not updated", signatoryID)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE resolutions SET updated_at = now() WHERE id = $1`, resolutionID); err != nil {
		return fmt.Errorf("pgstore: touch resolution: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit sign: %w", err)
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status resolution.Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE resolutions SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("pgstore: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return resolution.ErrNotFound
	}
	return nil
}

// TransitionStatus writes to only if the stored status is still from.
func (r *Repository) TransitionStatus(ctx context.Context, id string, from, to resolution.Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE resolutions SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("pgstore: transition status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM resolutions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("pgstore: check resolution: %w", err)
	}
	if !exists {
		return resolution.ErrNotFound
	}
	return resolution.ErrStatusConflict
}

func scanResolution(row pgx.Row) (resolution.Resolution, error) {
	var (
		res    resolution.Resolution
		status string
	)
	if err := row.Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt, &res.MeetingDate, &res.AgreementDetails, &status, &res.DeadlineAt, &res.BarcodeData); err != nil {
		return resolution.Resolution{}, err
	}
	res.Status = resolution.Status(status)
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	res.MeetingDate = res.MeetingDate.UTC()
	res.DeadlineAt = res.DeadlineAt.UTC()
	return res, nil
}

// scanPanels groups signatory rows by resolution id and closes rows.
func scanPanels(rows pgx.Rows) (map[string][]resolution.Signatory, error) {
	defer rows.Close()
	out := map[string][]resolution.Signatory{}
	for rows.Next() {
		var (
			resolutionID string
			s            resolution.Signatory
			signedAt     *time.Time
		)
		if err := rows.Scan(&resolutionID, &s.ID, &s.Name, &s.Email, &s.JobTitle, &signedAt, &s.SignatureHash); err != nil {
			return nil, fmt.Errorf("pgstore: scan signatory: %w", err)
		}
		if signedAt != nil {
			at := signedAt.UTC()
			s.SignedAt = &at
		}
		out[resolutionID] = append(out[resolutionID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: scan signatories: %w", err)
	}
	return out, nil
}
