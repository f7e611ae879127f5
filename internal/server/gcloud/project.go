package gcloud

import (
	"context"

	"google.golang.org/api/cloudresourcemanager/v1"
)

// ProjectPolicyStore is the IAM policy of the GCP project, used for the
// BigQuery job-runner role.
type ProjectPolicyStore struct {
	svc     *cloudresourcemanager.Service
	project string
}

func NewProjectPolicyStore(svc *cloudresourcemanager.Service, project string) *ProjectPolicyStore {
	return &ProjectPolicyStore{svc: svc, project: project}
}

func (s *ProjectPolicyStore) Resource() string { return s.project }

func (s *ProjectPolicyStore) Kind() string { return "project" }

func (s *ProjectPolicyStore) GetPolicy(ctx context.Context) (*Policy, error) {
	req := &cloudresourcemanager.GetIamPolicyRequest{
		Options: &cloudresourcemanager.GetPolicyOptions{RequestedPolicyVersion: 3},
	}
	pol, err := s.svc.Projects.GetIamPolicy(s.project, req).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	p := &Policy{native: pol}
	for _, b := range pol.Bindings {
		nb := &Binding{Role: b.Role, Members: append([]string(nil), b.Members...)}
		if b.Condition != nil {
			nb.Condition = &Condition{Title: b.Condition.Title, Description: b.Condition.Description, Expression: b.Condition.Expression}
		}
		p.Bindings = append(p.Bindings, nb)
	}
	return p, nil
}

func (s *ProjectPolicyStore) SetPolicy(ctx context.Context, p *Policy) error {
	pol, ok := p.native.(*cloudresourcemanager.Policy)
	if !ok || pol == nil {
		pol = &cloudresourcemanager.Policy{}
	}
	pol.Version = 3
	pol.Bindings = nil
	for _, b := range p.Bindings {
		nb := &cloudresourcemanager.Binding{Role: b.Role, Members: b.Members}
		if b.Condition != nil {
			nb.Condition = &cloudresourcemanager.Expr{
				Title:       b.Condition.Title,
				Description: b.Condition.Description,
				Expression:  b.Condition.Expression,
			}
		}
		pol.Bindings = append(pol.Bindings, nb)
	}

	_, err := s.svc.Projects.SetIamPolicy(s.project, &cloudresourcemanager.SetIamPolicyRequest{Policy: pol}).Context(ctx).Do()
	return err
}
