package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/trialregistry/internal/flagx"
	"github.com/dmitrijs2005/trialregistry/internal/timex"
	"github.com/tidwall/jsonc"
)

// JsonConfig is the on-disk shape of the config file. Durations use
// timex.Duration, which accepts both "1s" strings and integer nanoseconds.
// Only keys present in the file override the defaults.
type JsonConfig struct {
	EndpointAddrGRPC            *string         `json:"endpoint_addr_grpc"`
	MetricsAddr                 *string         `json:"metrics_addr"`
	DatabaseDSN                 *string         `json:"database_dsn"`
	SecretKey                   *string         `json:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	LogLevel                    *string         `json:"log_level"`

	GCPProject         *string `json:"gcp_project"`
	DataBucket         *string `json:"data_bucket"`
	UploadBucket       *string `json:"upload_bucket"`
	IntakeBucketPrefix *string `json:"intake_bucket_prefix"`
	ListerRole         *string `json:"lister_role"`
	UploadRole         *string `json:"upload_role"`
	IntakeRole         *string `json:"intake_role"`
	BigQueryRole       *string `json:"bigquery_role"`
	BigQueryDataset    *string `json:"bigquery_dataset"`

	DownloadPermissionsTopic   *string `json:"download_permissions_topic"`
	DownloadPermissionsSubName *string `json:"download_permissions_subscription"`
	UploadTopic                *string `json:"upload_topic"`
	EmailsTopic                *string `json:"emails_topic"`
	PatientSampleTopic         *string `json:"patient_sample_topic"`
	ArtifactUploadTopic        *string `json:"artifact_upload_topic"`

	InactiveUserDays  *int            `json:"inactive_user_days"`
	SignedURLTTL      *timex.Duration `json:"signed_url_ttl"`
	WorkerConcurrency *int            `json:"worker_concurrency"`

	ObjectStore    *string `json:"object_store"`
	S3RootUser     *string `json:"s3_root_user"`
	S3RootPassword *string `json:"s3_root_password"`
	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`

	ManifestSource *string `json:"manifest_source"`

	CSMSBaseURL      *string `json:"csms_base_url"`
	CSMSTokenURL     *string `json:"csms_token_url"`
	CSMSClientID     *string `json:"csms_client_id"`
	CSMSClientSecret *string `json:"csms_client_secret"`
}

// parseJson overlays config with the file named by -c/-config (or
// $TRIALREGISTRY_CONFIG). Comments and trailing commas are allowed. A
// missing or malformed file panics, since the binaries cannot start
// without the configuration they were pointed at.
func parseJson(config *Config) {
	path := flagx.ConfigFilePath()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	setString(&config.LogLevel, c.LogLevel)

	setString(&config.GCPProject, c.GCPProject)
	setString(&config.DataBucket, c.DataBucket)
	setString(&config.UploadBucket, c.UploadBucket)
	setString(&config.IntakeBucketPrefix, c.IntakeBucketPrefix)
	setString(&config.ListerRole, c.ListerRole)
	setString(&config.UploadRole, c.UploadRole)
	setString(&config.IntakeRole, c.IntakeRole)
	setString(&config.BigQueryRole, c.BigQueryRole)
	setString(&config.BigQueryDataset, c.BigQueryDataset)

	setString(&config.DownloadPermissionsTopic, c.DownloadPermissionsTopic)
	setString(&config.DownloadPermissionsSubName, c.DownloadPermissionsSubName)
	setString(&config.UploadTopic, c.UploadTopic)
	setString(&config.EmailsTopic, c.EmailsTopic)
	setString(&config.PatientSampleTopic, c.PatientSampleTopic)
	setString(&config.ArtifactUploadTopic, c.ArtifactUploadTopic)

	if c.InactiveUserDays != nil {
		config.InactiveUserDays = *c.InactiveUserDays
	}
	if c.SignedURLTTL != nil {
		config.SignedURLTTL = c.SignedURLTTL.Duration
	}
	if c.WorkerConcurrency != nil {
		config.WorkerConcurrency = *c.WorkerConcurrency
	}

	setString(&config.ObjectStore, c.ObjectStore)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	setString(&config.ManifestSource, c.ManifestSource)

	setString(&config.CSMSBaseURL, c.CSMSBaseURL)
	setString(&config.CSMSTokenURL, c.CSMSTokenURL)
	setString(&config.CSMSClientID, c.CSMSClientID)
	setString(&config.CSMSClientSecret, c.CSMSClientSecret)
}
