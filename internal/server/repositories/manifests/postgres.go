package manifests

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// keyColumns are stored as columns; everything else goes to the data blob.
var keyColumns = map[models.EntityKind][]string{
	models.KindShipment:    {"trial_id", "manifest_id"},
	models.KindParticipant: {"trial_id", "cimac_participant_id"},
	models.KindSample:      {"trial_id", "cimac_id", "cimac_participant_id", "manifest_id", "collection_event_name"},
	models.KindUpload:      {"trial_id", "shipment_manifest_id", "upload_type", "status", "multifile", "assay_creator", "uploader_email"},
}

func splitFields(r *models.Record) (map[string]any, []byte, error) {
	keys := map[string]any{}
	data := map[string]any{}
	isKey := map[string]bool{}
	for _, k := range keyColumns[r.Kind] {
		isKey[k] = true
	}
	for k, v := range r.Fields {
		if isKey[k] {
			keys[k] = v
		} else {
			data[k] = v
		}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, nil, err
	}
	return keys, raw, nil
}

func mergeData(fields map[string]any, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode record data: %w", err)
	}
	for k, v := range data {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return nil
}

func (r *PostgresRepository) ShipmentByManifestID(ctx context.Context, manifestID string) (*models.Record, error) {
	query := `SELECT trial_id, manifest_id, data FROM shipments WHERE manifest_id = $1`

	var trialID, id string
	var raw []byte
	if err := r.db.QueryRowContext(ctx, query, manifestID).Scan(&trialID, &id, &raw); err != nil {
		return nil, dbx.MapError(err)
	}
	rec := &models.Record{Kind: models.KindShipment, Fields: map[string]any{"trial_id": trialID, "manifest_id": id}}
	if err := mergeData(rec.Fields, raw); err != nil {
		return nil, err
	}
	return rec, nil
}

// SamplesByManifestID returns sample records with their participant
// fields folded in.
func (r *PostgresRepository) SamplesByManifestID(ctx context.Context, manifestID string) ([]*models.Record, error) {
	query := `SELECT s.trial_id, s.cimac_id, s.cimac_participant_id, s.manifest_id, s.collection_event_name, s.data, p.data
		 FROM samples s
		 JOIN participants p ON p.trial_id = s.trial_id AND p.cimac_participant_id = s.cimac_participant_id
		 WHERE s.manifest_id = $1
		 ORDER BY s.cimac_id`

	rows, err := r.db.QueryContext(ctx, query, manifestID)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		var trialID, cimacID, participantID, mID, event string
		var sampleRaw, participantRaw []byte
		if err := rows.Scan(&trialID, &cimacID, &participantID, &mID, &event, &sampleRaw, &participantRaw); err != nil {
			return nil, dbx.MapError(err)
		}
		rec := &models.Record{Kind: models.KindSample, Fields: map[string]any{
			"trial_id":              trialID,
			"cimac_id":              cimacID,
			"cimac_participant_id":  participantID,
			"manifest_id":           mID,
			"collection_event_name": event,
		}}
		if err := mergeData(rec.Fields, sampleRaw); err != nil {
			return nil, err
		}
		if err := mergeData(rec.Fields, participantRaw); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.MapError(err)
	}
	return result, nil
}

func (r *PostgresRepository) UploadByManifestID(ctx context.Context, manifestID string) (*models.Record, error) {
	query := `SELECT trial_id, shipment_manifest_id, upload_type, status, multifile, assay_creator, uploader_email
		 FROM uploads WHERE shipment_manifest_id = $1`

	var trialID, mID, uploadType, status, creator, email string
	var multifile bool
	err := r.db.QueryRowContext(ctx, query, manifestID).Scan(&trialID, &mID, &uploadType, &status, &multifile, &creator, &email)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	return &models.Record{Kind: models.KindUpload, Fields: map[string]any{
		"trial_id":             trialID,
		"shipment_manifest_id": mID,
		"upload_type":          uploadType,
		"status":               status,
		"multifile":            multifile,
		"assay_creator":        creator,
		"uploader_email":       email,
	}}, nil
}

func (r *PostgresRepository) CIMACIDs(ctx context.Context, trialID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT cimac_id FROM samples WHERE trial_id = $1 ORDER BY cimac_id`, trialID)
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

func (r *PostgresRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, dbx.MapError(err)
	}
	return ok, nil
}

func (r *PostgresRepository) CollectionEventExists(ctx context.Context, trialID, eventName string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM collection_events WHERE trial_id = $1 AND event_name = $2)`, trialID, eventName)
}

func (r *PostgresRepository) ParticipantExists(ctx context.Context, trialID, cimacParticipantID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM participants WHERE trial_id = $1 AND cimac_participant_id = $2)`, trialID, cimacParticipantID)
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.Record) error {
	keys, data, err := splitFields(rec)
	if err != nil {
		return err
	}

	var query string
	var args []any
	switch rec.Kind {
	case models.KindShipment:
		query = `INSERT INTO shipments (trial_id, manifest_id, data)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (manifest_id) DO UPDATE SET data = EXCLUDED.data`
		args = []any{keys["trial_id"], keys["manifest_id"], data}
	case models.KindParticipant:
		query = `INSERT INTO participants (trial_id, cimac_participant_id, data)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (trial_id, cimac_participant_id) DO UPDATE SET data = participants.data || EXCLUDED.data`
		args = []any{keys["trial_id"], keys["cimac_participant_id"], data}
	case models.KindSample:
		query = `INSERT INTO samples (trial_id, cimac_id, cimac_participant_id, manifest_id, collection_event_name, data)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (cimac_id) DO UPDATE SET
		   cimac_participant_id = EXCLUDED.cimac_participant_id,
		   collection_event_name = EXCLUDED.collection_event_name,
		   data = EXCLUDED.data`
		args = []any{keys["trial_id"], keys["cimac_id"], keys["cimac_participant_id"], keys["manifest_id"],
			keys["collection_event_name"], data}
	case models.KindUpload:
		query = `INSERT INTO uploads (trial_id, shipment_manifest_id, upload_type, status, multifile, assay_creator, uploader_email)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (shipment_manifest_id) DO UPDATE SET
		   upload_type = EXCLUDED.upload_type,
		   status = EXCLUDED.status,
		   assay_creator = EXCLUDED.assay_creator`
		multifile, _ := keys["multifile"].(bool)
		args = []any{keys["trial_id"], keys["shipment_manifest_id"], keys["upload_type"], keys["status"],
			multifile, keys["assay_creator"], keys["uploader_email"]}
	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", rec.Key(), dbx.MapError(err))
	}
	return nil
}
