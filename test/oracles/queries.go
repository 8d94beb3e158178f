package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is an invariant expressed as a query that must return no rows.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_barcode_is_id",
			SQL:  `SELECT id, barcode_data FROM resolutions WHERE barcode_data <> id`,
		},
		{
			Name: "O2_signed_pair",
			SQL: `SELECT resolution_id, id FROM signatories
                  WHERE (signed_at IS NULL) <> (signature_hash IS NULL)`,
		},
		{
			Name: "O3_deadline_window",
			SQL: `SELECT id, meeting_date, deadline_at FROM resolutions
                  WHERE deadline_at < meeting_date + interval '1 day'
                     OR deadline_at > meeting_date + interval '3 days'`,
		},
		{
			Name: "O4_no_signature_after_terminal",
			SQL: `SELECT s.resolution_id, s.id, s.signed_at, r.updated_at FROM signatories s
                  JOIN resolutions r ON r.id = s.resolution_id
                  WHERE r.status IN ('finalized','expired')
                    AND s.signed_at > r.updated_at + interval '2 seconds'`,
		},
		{
			Name: "O5_no_draft_regression",
			SQL:  `SELECT id FROM resolutions WHERE status = 'draft'`,
		},
		{
			Name: "O6_panel_present",
			SQL: `SELECT r.id FROM resolutions r
                  WHERE NOT EXISTS (SELECT 1 FROM signatories s WHERE s.resolution_id = r.id)`,
		},
		{
			Name: "O7_guard_triggers",
			SQL: `SELECT 'missing_guard_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'resolutions_guard_trg')
                     OR NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'signatories_guard_trg')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
