package trials

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

const trialColumns = `id, trial_id, metadata_json, _etag, _created, _updated`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanTrial(row *sql.Row) (*models.TrialMetadata, error) {
	t := &models.TrialMetadata{}
	var raw []byte
	if err := row.Scan(&t.ID, &t.TrialID, &raw, &t.ETag, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, dbx.MapError(err)
	}
	if err := json.Unmarshal(raw, &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", t.TrialID, err)
	}
	return t, nil
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.TrialMetadata) (*models.TrialMetadata, error) {
	raw, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, err
	}

	query :=
		`INSERT INTO trial_metadata (trial_id, metadata_json, _etag)
		 VALUES ($1, $2, $3)
		 RETURNING id, _created, _updated
		 `

	err = r.db.QueryRowContext(ctx, query, t.TrialID, raw, t.ETag).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	return t, nil
}

func (r *PostgresRepository) GetByTrialID(ctx context.Context, trialID string) (*models.TrialMetadata, error) {
	query := `SELECT ` + trialColumns + ` FROM trial_metadata WHERE trial_id = $1`
	return scanTrial(r.db.QueryRowContext(ctx, query, trialID))
}

func (r *PostgresRepository) SelectForUpdate(ctx context.Context, trialID string) (*models.TrialMetadata, error) {
	query := `SELECT ` + trialColumns + ` FROM trial_metadata WHERE trial_id = $1 FOR UPDATE`
	return scanTrial(r.db.QueryRowContext(ctx, query, trialID))
}

func (r *PostgresRepository) UpdateMetadata(ctx context.Context, t *models.TrialMetadata) error {
	raw, err := json.Marshal(t.Metadata)
	if err != nil {
		return err
	}

	query :=
		`UPDATE trial_metadata SET metadata_json = $2, _etag = $3, _updated = now()
		 WHERE trial_id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, t.TrialID, raw, t.ETag)
	if err != nil {
		return dbx.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) ListTrialIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT trial_id FROM trial_metadata ORDER BY trial_id`)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbx.MapError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.MapError(err)
	}
	return ids, nil
}

// trialFilter encodes an optional id list as one JSON parameter; NULL
// disables the filter.
func trialFilter(trialIDs []string) (sql.NullString, error) {
	if trialIDs == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(trialIDs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

const summaryQuery = `
WITH selected AS (
    SELECT trial_id, metadata_json FROM trial_metadata
    WHERE $1::jsonb IS NULL OR trial_id IN (SELECT jsonb_array_elements_text($1::jsonb))
),
files AS (
    SELECT trial_id, COALESCE(SUM(file_size_bytes), 0)::bigint AS bytes
    FROM downloadable_files GROUP BY trial_id
),
people AS (
    SELECT s.trial_id,
           COUNT(p.value)::bigint AS participants,
           COUNT(p.value) FILTER (WHERE p.value ? 'clinical')::bigint AS clinical,
           COALESCE(SUM(jsonb_array_length(COALESCE(p.value->'samples', '[]'::jsonb))), 0)::bigint AS samples
    FROM selected s
    LEFT JOIN LATERAL jsonb_array_elements(COALESCE(s.metadata_json->'participants', '[]'::jsonb)) p ON TRUE
    GROUP BY s.trial_id
)
SELECT s.trial_id,
       COALESCE(f.bytes, 0),
       COALESCE(pp.clinical, 0),
       COALESCE(pp.participants, 0),
       COALESCE(pp.samples, 0),
       COALESCE(s.metadata_json->'expected_assays', '[]'::jsonb)
FROM selected s
LEFT JOIN files f ON f.trial_id = s.trial_id
LEFT JOIN people pp ON pp.trial_id = s.trial_id
ORDER BY s.trial_id`

const assayCountQuery = `
SELECT t.trial_id, a.key, COUNT(rec.value)::bigint
FROM trial_metadata t
CROSS JOIN LATERAL jsonb_each(COALESCE(t.metadata_json->'assays', '{}'::jsonb)) a
CROSS JOIN LATERAL jsonb_array_elements(CASE WHEN jsonb_typeof(a.value) = 'array' THEN a.value ELSE '[]'::jsonb END) run
CROSS JOIN LATERAL jsonb_array_elements(COALESCE(run.value->'records', '[]'::jsonb)) rec
WHERE $1::jsonb IS NULL OR t.trial_id IN (SELECT jsonb_array_elements_text($1::jsonb))
GROUP BY t.trial_id, a.key`

func (r *PostgresRepository) Summaries(ctx context.Context, trialIDs []string) ([]*models.TrialSummary, error) {
	filter, err := trialFilter(trialIDs)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, summaryQuery, filter)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	defer rows.Close()

	var result []*models.TrialSummary
	byTrial := map[string]*models.TrialSummary{}
	for rows.Next() {
		s := &models.TrialSummary{SamplesByAssay: map[string]int64{}}
		var expected []byte
		if err := rows.Scan(&s.TrialID, &s.FileSizeBytes, &s.ClinicalParticipants,
			&s.TotalParticipants, &s.TotalSamples, &expected); err != nil {
			return nil, dbx.MapError(err)
		}
		if err := json.Unmarshal(expected, &s.ExpectedAssays); err != nil {
			return nil, fmt.Errorf("decode expected assays of %s: %w", s.TrialID, err)
		}
		result = append(result, s)
		byTrial[s.TrialID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.MapError(err)
	}

	assayRows, err := r.db.QueryContext(ctx, assayCountQuery, filter)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	defer assayRows.Close()

	for assayRows.Next() {
		var trialID, assay string
		var n int64
		if err := assayRows.Scan(&trialID, &assay, &n); err != nil {
			return nil, dbx.MapError(err)
		}
		if s, ok := byTrial[trialID]; ok {
			s.SamplesByAssay[assay] = n
		}
	}
	if err := assayRows.Err(); err != nil {
		return nil, dbx.MapError(err)
	}

	return result, nil
}

func (r *PostgresRepository) Counts(ctx context.Context) (*Counts, error) {
	query := `
SELECT COUNT(DISTINCT t.trial_id)::bigint,
       COUNT(p.value)::bigint,
       COALESCE(SUM(jsonb_array_length(COALESCE(p.value->'samples', '[]'::jsonb))), 0)::bigint
FROM trial_metadata t
LEFT JOIN LATERAL jsonb_array_elements(COALESCE(t.metadata_json->'participants', '[]'::jsonb)) p ON TRUE`

	c := &Counts{}
	if err := r.db.QueryRowContext(ctx, query).Scan(&c.Trials, &c.Participants, &c.Samples); err != nil {
		return nil, dbx.MapError(err)
	}
	return c, nil
}
