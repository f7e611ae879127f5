package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/trialregistry/internal/server/config"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// s3API is the part of *s3.Client the store calls.
type s3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObjectAcl(ctx context.Context, in *s3.GetObjectAclInput, optFns ...func(*s3.Options)) (*s3.GetObjectAclOutput, error)
	PutObjectAcl(ctx context.Context, in *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
}

// S3Store serves the data bucket from an S3-compatible backend. Reader
// grants are email grantees on the object ACL.
type S3Store struct {
	client  s3API
	presign *s3.PresignClient
	bucket  string
}

func NewS3Store(ctx context.Context, cfg *config.Config) (*S3Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return &S3Store{client: client, presign: newS3PresignClient(client), bucket: cfg.S3Bucket}, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", s.bucket, prefix, err)
		}
		for _, o := range page.Contents {
			keys = append(keys, aws.ToString(o.Key))
		}
	}
	return keys, nil
}

func isEmailReader(g types.Grant, email string) bool {
	return g.Permission == types.PermissionRead && g.Grantee != nil &&
		g.Grantee.Type == types.TypeAmazonCustomerByEmail && aws.ToString(g.Grantee.EmailAddress) == email
}

func (s *S3Store) GrantRead(ctx context.Context, object, email string) error {
	acl, err := s.client.GetObjectAcl(ctx, &s3.GetObjectAclInput{Bucket: aws.String(s.bucket), Key: aws.String(object)})
	if err != nil {
		return fmt.Errorf("get acl of %s: %w", object, err)
	}
	for _, g := range acl.Grants {
		if isEmailReader(g, email) {
			return nil
		}
	}

	grants := append(acl.Grants, types.Grant{
		Permission: types.PermissionRead,
		Grantee:    &types.Grantee{Type: types.TypeAmazonCustomerByEmail, EmailAddress: aws.String(email)},
	})
	return s.putACL(ctx, object, acl.Owner, grants)
}

func (s *S3Store) RevokeRead(ctx context.Context, object, email string) error {
	acl, err := s.client.GetObjectAcl(ctx, &s3.GetObjectAclInput{Bucket: aws.String(s.bucket), Key: aws.String(object)})
	if err != nil {
		return fmt.Errorf("get acl of %s: %w", object, err)
	}

	grants := make([]types.Grant, 0, len(acl.Grants))
	for _, g := range acl.Grants {
		if !isEmailReader(g, email) {
			grants = append(grants, g)
		}
	}
	if len(grants) == len(acl.Grants) {
		return nil
	}
	return s.putACL(ctx, object, acl.Owner, grants)
}

func (s *S3Store) putACL(ctx context.Context, object string, owner *types.Owner, grants []types.Grant) error {
	_, err := s.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket:              aws.String(s.bucket),
		Key:                 aws.String(object),
		AccessControlPolicy: &types.AccessControlPolicy{Owner: owner, Grants: grants},
	})
	if err != nil {
		return fmt.Errorf("put acl of %s: %w", object, err)
	}
	return nil
}

func (s *S3Store) SignedURL(ctx context.Context, object string, ttl time.Duration) (string, error) {
	req, err := presignGetObject(s.presign, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(object),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
