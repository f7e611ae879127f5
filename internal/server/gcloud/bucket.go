package gcloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/iam"
	"cloud.google.com/go/iam/apiv1/iampb"
	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/genproto/googleapis/type/expr"
	"google.golang.org/protobuf/proto"
)

// BucketPolicyStore is the IAM policy of one storage bucket.
type BucketPolicyStore struct {
	bucket *storage.BucketHandle
	name   string
}

func NewBucketPolicyStore(client *storage.Client, name string) *BucketPolicyStore {
	return &BucketPolicyStore{bucket: client.Bucket(name), name: name}
}

func (s *BucketPolicyStore) Resource() string { return s.name }

func (s *BucketPolicyStore) Kind() string { return "bucket" }

func (s *BucketPolicyStore) GetPolicy(ctx context.Context) (*Policy, error) {
	p3, err := s.bucket.IAM().V3().Policy(ctx)
	if err != nil {
		return nil, err
	}
	return &Policy{Bindings: fromIAMPB(p3.Bindings), native: p3}, nil
}

func (s *BucketPolicyStore) SetPolicy(ctx context.Context, p *Policy) error {
	p3, ok := p.native.(*iam.Policy3)
	if !ok || p3 == nil {
		p3 = &iam.Policy3{}
	}
	p3.Bindings = toIAMPB(p.Bindings)
	return s.bucket.IAM().V3().SetPolicy(ctx, p3)
}

func fromIAMPB(in []*iampb.Binding) []*Binding {
	out := make([]*Binding, 0, len(in))
	for _, b := range in {
		// Copy so edits never alias the cached policy.
		c := proto.Clone(b).(*iampb.Binding)
		nb := &Binding{Role: c.GetRole(), Members: c.GetMembers()}
		if cond := c.GetCondition(); cond != nil {
			nb.Condition = &Condition{Title: cond.GetTitle(), Description: cond.GetDescription(), Expression: cond.GetExpression()}
		}
		out = append(out, nb)
	}
	return out
}

func toIAMPB(in []*Binding) []*iampb.Binding {
	out := make([]*iampb.Binding, 0, len(in))
	for _, b := range in {
		pb := &iampb.Binding{Role: b.Role, Members: append([]string(nil), b.Members...)}
		if b.Condition != nil {
			pb.Condition = &expr.Expr{
				Title:       b.Condition.Title,
				Description: b.Condition.Description,
				Expression:  b.Condition.Expression,
			}
		}
		out = append(out, pb)
	}
	return out
}

// BlobStore lists objects and manages per-object reader ACLs on the data
// bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

func NewBlobStore(client *storage.Client, bucket string) *BlobStore {
	return &BlobStore{client: client, bucket: bucket}
}

func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", s.bucket, prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func aclEntity(email string) storage.ACLEntity {
	return storage.ACLEntity("user-" + email)
}

func (s *BlobStore) GrantRead(ctx context.Context, object, email string) error {
	return s.client.Bucket(s.bucket).Object(object).ACL().Set(ctx, aclEntity(email), storage.RoleReader)
}

func (s *BlobStore) RevokeRead(ctx context.Context, object, email string) error {
	return s.client.Bucket(s.bucket).Object(object).ACL().Delete(ctx, aclEntity(email))
}

// SignedURL returns a V4 signed GET URL valid for ttl.
func (s *BlobStore) SignedURL(_ context.Context, object string, ttl time.Duration) (string, error) {
	return s.client.Bucket(s.bucket).SignedURL(object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
}

// BucketExists reports whether name exists and is visible to the caller.
func BucketExists(ctx context.Context, client *storage.Client, name string) (bool, error) {
	_, err := client.Bucket(name).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
