// Package jobs holds the background work of the registry: the download
// permission worker fed from the queue and the maintenance tasks run by
// operators.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/metrics"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/permissions"
	"github.com/dmitrijs2005/trialregistry/internal/server/queue"
	"golang.org/x/sync/errgroup"
)

// RecipientResolver finds the enabled users holding permissions relevant
// to a trial and upload types.
type RecipientResolver interface {
	GetUserEmailsForTrialUpload(ctx context.Context, trial models.Scope, uploadTypes []string) (permissions.EmailsByScope, error)
}

type PrefixBuilder interface {
	BuildTrialUploadPrefixes(ctx context.Context, trial models.Scope, uploadTypes []string) ([]string, error)
}

// ObjectACL lists objects and edits their per-object reader grants.
type ObjectACL interface {
	List(ctx context.Context, prefix string) ([]string, error)
	GrantRead(ctx context.Context, object, email string) error
	RevokeRead(ctx context.Context, object, email string) error
}

// DownloadWorker applies download permission jobs to object ACLs.
type DownloadWorker struct {
	recipients  RecipientResolver
	prefixes    PrefixBuilder
	store       ObjectACL
	concurrency int
	metrics     *metrics.Metrics
	logger      logging.Logger
}

func NewDownloadWorker(recipients RecipientResolver, prefixes PrefixBuilder, store ObjectACL, concurrency int,
	m *metrics.Metrics, logger logging.Logger) *DownloadWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &DownloadWorker{
		recipients:  recipients,
		prefixes:    prefixes,
		store:       store,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.With("module", "download-worker"),
	}
}

// Run consumes jobs until ctx is done. A job is acked only when every
// object was updated.
func (w *DownloadWorker) Run(ctx context.Context, r queue.Receiver) error {
	w.logger.Info(ctx, "download worker started")
	err := r.Receive(ctx, w.Handle)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	w.logger.Info(ctx, "download worker stopped")
	return err
}

// target is one set of recipients and the (trial, types) they cover.
type target struct {
	emails      []string
	trial       models.Scope
	uploadTypes []string
}

func (w *DownloadWorker) Handle(ctx context.Context, data []byte) error {
	job, err := queue.DecodeDownloadJob(data)
	if err != nil {
		// redelivering a malformed message cannot help
		w.logger.Error(ctx, "dropping malformed download job", "error", err)
		return nil
	}

	targets, err := w.targets(ctx, job)
	if err != nil {
		return err
	}

	var errs []error
	for _, t := range targets {
		if err := w.apply(ctx, t, job.Revoke); err != nil {
			errs = append(errs, err)
		}
	}
	return common.AsMultiError(errs)
}

// targets resolves the job's recipients. An explicit email list covers the
// whole job; otherwise every permission scope found narrows the job to the
// part that scope covers.
func (w *DownloadWorker) targets(ctx context.Context, job *queue.DownloadJob) ([]target, error) {
	if len(job.UserEmails) > 0 {
		return []target{{emails: job.UserEmails, trial: job.Trial, uploadTypes: job.UploadTypes}}, nil
	}

	byScope, err := w.recipients.GetUserEmailsForTrialUpload(ctx, job.Trial, job.UploadTypes)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	var out []target
	for trialScope, byType := range byScope {
		trial := job.Trial
		if trial.IsEvery() {
			trial = trialScope
		}
		for typeScope, emails := range byType {
			types := job.UploadTypes
			if t, ok := typeScope.Value(); ok {
				types = []string{t}
			}
			out = append(out, target{emails: emails, trial: trial, uploadTypes: types})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].trial != out[j].trial {
			return out[i].trial.String() < out[j].trial.String()
		}
		return fmt.Sprint(out[i].uploadTypes) < fmt.Sprint(out[j].uploadTypes)
	})
	return out, nil
}

func (w *DownloadWorker) apply(ctx context.Context, t target, revoke bool) error {
	prefixes, err := w.prefixes.BuildTrialUploadPrefixes(ctx, t.trial, t.uploadTypes)
	if err != nil {
		return err
	}
	w.metrics.DownloadJobPrefixes(len(prefixes))

	op, verb := w.store.GrantRead, "grant"
	if revoke {
		op, verb = w.store.RevokeRead, "revoke"
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, prefix := range prefixes {
		g.Go(func() error {
			objects, err := w.store.List(ctx, prefix)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("list %s: %w", prefix, err))
				mu.Unlock()
				return nil
			}
			for _, obj := range objects {
				for _, email := range t.emails {
					if err := op(ctx, obj, email); err != nil {
						mu.Lock()
						errs = append(errs, fmt.Errorf("%s read on %s for %s: %w", verb, obj, email, err))
						mu.Unlock()
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info(ctx, "download permissions applied",
		"trial_id", t.trial.String(), "upload_types", t.uploadTypes, "users", len(t.emails),
		"prefixes", len(prefixes), "revoke", revoke, "failures", len(errs))
	return common.AsMultiError(errs)
}
