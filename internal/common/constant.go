// Package common contains shared constants and sentinel errors used across
// trialregistry components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound admin requests.
const AccessTokenHeaderName = "access_token"

// ClinicalDataUploadType is never covered by a cross-upload-type wildcard.
const ClinicalDataUploadType = "clinical_data"
