package gcloud

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// DatasetAccess manages reader entries on the public BigQuery dataset.
type DatasetAccess struct {
	dataset *bigquery.Dataset
}

func NewDatasetAccess(client *bigquery.Client, datasetID string) *DatasetAccess {
	return &DatasetAccess{dataset: client.Dataset(datasetID)}
}

// GrantReaders appends a READER entry for each email not already listed.
func (d *DatasetAccess) GrantReaders(ctx context.Context, emails []string) error {
	meta, err := d.dataset.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("dataset metadata: %w", err)
	}
	access, changed := addReaders(meta.Access, emails)
	if !changed {
		return nil
	}
	if _, err := d.dataset.Update(ctx, bigquery.DatasetMetadataToUpdate{Access: access}, meta.ETag); err != nil {
		return fmt.Errorf("dataset update: %w", err)
	}
	return nil
}

// RevokeReader drops the READER entry of email.
func (d *DatasetAccess) RevokeReader(ctx context.Context, email string) error {
	meta, err := d.dataset.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("dataset metadata: %w", err)
	}
	access, changed := removeReader(meta.Access, email)
	if !changed {
		return nil
	}
	if _, err := d.dataset.Update(ctx, bigquery.DatasetMetadataToUpdate{Access: access}, meta.ETag); err != nil {
		return fmt.Errorf("dataset update: %w", err)
	}
	return nil
}

func isReader(e *bigquery.AccessEntry, email string) bool {
	return e.Role == bigquery.ReaderRole && e.EntityType == bigquery.UserEmailEntity && e.Entity == email
}

func addReaders(access []*bigquery.AccessEntry, emails []string) ([]*bigquery.AccessEntry, bool) {
	changed := false
	for _, email := range emails {
		found := false
		for _, e := range access {
			if isReader(e, email) {
				found = true
				break
			}
		}
		if !found {
			access = append(access, &bigquery.AccessEntry{
				Role:       bigquery.ReaderRole,
				EntityType: bigquery.UserEmailEntity,
				Entity:     email,
			})
			changed = true
		}
	}
	return access, changed
}

func removeReader(access []*bigquery.AccessEntry, email string) ([]*bigquery.AccessEntry, bool) {
	out := make([]*bigquery.AccessEntry, 0, len(access))
	for _, e := range access {
		if !isReader(e, email) {
			out = append(out, e)
		}
	}
	return out, len(out) != len(access)
}
