// Package gcloud manages time-scoped IAM bindings and object ACLs on Google
// Cloud resources: storage buckets, the project policy and the public
// BigQuery dataset.
package gcloud

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/metrics"
	"github.com/dmitrijs2005/trialregistry/internal/timex"
)

// NoExpiry builds a binding without an expiry condition.
const NoExpiry = -1

// maxRevokeIterations caps the stale-duplicate cleanup in Revoke.
const maxRevokeIterations = 250

// Condition is an IAM condition expression.
type Condition struct {
	Title       string
	Description string
	Expression  string
}

// Binding grants Role to Members, optionally only while Condition holds.
type Binding struct {
	Role      string
	Members   []string
	Condition *Condition
}

// Policy is the binding list of one resource plus the provider-specific
// policy it was read from (etag, version).
type Policy struct {
	Bindings []*Binding
	native   any
}

// PolicyStore reads and writes the IAM policy of a single resource. Reads
// request policy version 3 so conditional bindings are returned.
type PolicyStore interface {
	Resource() string
	Kind() string
	GetPolicy(ctx context.Context) (*Policy, error)
	SetPolicy(ctx context.Context, p *Policy) error
}

// Member renders an email as an IAM principal.
func Member(email string) string { return "user:" + email }

// BuildBinding returns a single-member binding for role on resource. A
// ttlDays >= 0 adds a condition expiring at midnight UTC ttlDays from now.
func BuildBinding(resource, role, member string, ttlDays int, now time.Time) *Binding {
	b := &Binding{Role: role, Members: []string{member}}
	if ttlDays >= 0 {
		expiry := now.UTC().AddDate(0, 0, ttlDays).Format("2006-01-02")
		b.Condition = &Condition{
			Title:       fmt.Sprintf("%s access on %s until %s", role, resource, expiry),
			Description: fmt.Sprintf("Auto-updated by trialregistry on %s", now.UTC().Format(time.RFC3339)),
			Expression:  fmt.Sprintf(`request.time < timestamp("%sT00:00:00Z")`, expiry),
		}
	}
	return b
}

func onlyMember(b *Binding, member string) bool {
	if len(b.Members) == 0 {
		return false
	}
	for _, m := range b.Members {
		if m != member {
			return false
		}
	}
	return true
}

// FindAndRemoveBinding removes and returns the binding for role whose only
// member is member. When several match, the last one is removed.
func FindAndRemoveBinding(ctx context.Context, logger logging.Logger, p *Policy, role, member string) *Binding {
	var matches []int
	for i, b := range p.Bindings {
		if b.Role == role && onlyMember(b, member) {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		logger.Warn(ctx, "found multiple bindings for role and member, removing the last",
			"role", role, "member", member, "count", len(matches))
	}
	last := matches[len(matches)-1]
	removed := p.Bindings[last]
	p.Bindings = append(p.Bindings[:last], p.Bindings[last+1:]...)
	return removed
}

// BindingManager applies per-member bindings through a PolicyStore.
type BindingManager struct {
	logger  logging.Logger
	clock   timex.Clock
	metrics *metrics.Metrics
}

func NewBindingManager(logger logging.Logger, clock timex.Clock, m *metrics.Metrics) *BindingManager {
	return &BindingManager{logger: logger.With("module", "iam"), clock: clock, metrics: m}
}

// Grant gives every member its own binding for role, replacing any previous
// binding of the same member so the expiry is refreshed. The policy is
// written once.
func (m *BindingManager) Grant(ctx context.Context, store PolicyStore, role string, members []string, ttlDays int) error {
	policy, err := store.GetPolicy(ctx)
	if err != nil {
		m.metrics.IAMOperation("grant", store.Kind(), err)
		return fmt.Errorf("get iam policy of %s: %w", store.Resource(), err)
	}

	now := m.clock.Now()
	for _, member := range members {
		FindAndRemoveBinding(ctx, m.logger, policy, role, member)
		policy.Bindings = append(policy.Bindings, BuildBinding(store.Resource(), role, member, ttlDays, now))
	}

	err = store.SetPolicy(ctx, policy)
	m.metrics.IAMOperation("grant", store.Kind(), err)
	if err != nil {
		m.logger.Error(ctx, "iam policy write failed", "resource", store.Resource(), "role", role, "error", err)
		return fmt.Errorf("set iam policy of %s: %w", store.Resource(), err)
	}
	return nil
}

// Revoke removes every binding for role held solely by member. A missing
// binding is logged and tolerated.
func (m *BindingManager) Revoke(ctx context.Context, store PolicyStore, role, member string) error {
	policy, err := store.GetPolicy(ctx)
	if err != nil {
		m.metrics.IAMOperation("revoke", store.Kind(), err)
		return fmt.Errorf("get iam policy of %s: %w", store.Resource(), err)
	}

	removed := 0
	for i := 0; i < maxRevokeIterations; i++ {
		if FindAndRemoveBinding(ctx, m.logger, policy, role, member) == nil {
			break
		}
		removed++
	}
	if removed == 0 {
		m.logger.Warn(ctx, "tried to revoke a non-existent binding", "resource", store.Resource(), "role", role, "member", member)
	}

	err = store.SetPolicy(ctx, policy)
	m.metrics.IAMOperation("revoke", store.Kind(), err)
	if err != nil {
		m.logger.Error(ctx, "iam policy write failed", "resource", store.Resource(), "role", role, "error", err)
		return fmt.Errorf("set iam policy of %s: %w", store.Resource(), err)
	}
	return nil
}
