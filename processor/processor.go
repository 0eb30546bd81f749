/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainguard.dev/issuesmith/collaborator"
	"chainguard.dev/issuesmith/events"
	"chainguard.dev/issuesmith/notifier"
	"chainguard.dev/issuesmith/publisher"
	"chainguard.dev/issuesmith/statestore"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
)

// Publisher is the slice of the object-graph publisher the processor uses.
type Publisher interface {
	Publish(ctx context.Context, key statestore.IssueKey, baseBranch string, cs *collaborator.ChangeSet) (*publisher.PublishedChange, error)
}

// Discard sentinels returned by the admission mutate function. They abort
// the transition without persisting anything; none of them is an error
// from the caller's point of view.
var (
	errInFlight        = errors.New("another execution is in flight")
	errAlreadyDone     = errors.New("issue already done")
	errBudgetExhausted = errors.New("retry budget exhausted")
)

// Processor drives one issue's lifecycle per trigger event.
type Processor struct {
	store    statestore.Store
	proposer collaborator.Interface
	pub      Publisher
	notify   notifier.Interface

	baseBranch     string
	maxAttempts    int
	proposeTimeout time.Duration
	stuckAfter     time.Duration
	now            func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithBaseBranch overrides the branch pull requests target.
func WithBaseBranch(branch string) Option {
	return func(p *Processor) { p.baseBranch = branch }
}

// WithMaxAttempts bounds how often a FAILED issue is re-admitted.
func WithMaxAttempts(n int) Option {
	return func(p *Processor) { p.maxAttempts = n }
}

// WithProposeTimeout bounds the collaborator call. Exceeding it is a hard
// failure of the attempt, never an inline retry.
func WithProposeTimeout(d time.Duration) Option {
	return func(p *Processor) { p.proposeTimeout = d }
}

// WithStuckAfter sets how old an IN_PROGRESS record must be before it is
// presumed orphaned (crashed process) and force-failed so the retry budget
// can re-admit it. Zero disables reclamation.
func WithStuckAfter(d time.Duration) Option {
	return func(p *Processor) { p.stuckAfter = d }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New assembles a Processor.
func New(store statestore.Store, proposer collaborator.Interface, pub Publisher, notify notifier.Interface, opts ...Option) (*Processor, error) {
	switch {
	case store == nil:
		return nil, errors.New("store cannot be nil")
	case proposer == nil:
		return nil, errors.New("proposer cannot be nil")
	case pub == nil:
		return nil, errors.New("publisher cannot be nil")
	case notify == nil:
		return nil, errors.New("notifier cannot be nil")
	}
	p := &Processor{
		store:          store,
		proposer:       proposer,
		pub:            pub,
		notify:         notify,
		baseBranch:     "main",
		maxAttempts:    3,
		proposeTimeout: 5 * time.Minute,
		stuckAfter:     30 * time.Minute,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", p.maxAttempts)
	}
	return p, nil
}

// Process handles one trigger event end to end. A discarded event returns
// nil; only boundary validation problems and state-store failures are
// errors.
func (p *Processor) Process(ctx context.Context, ev *github.IssuesEvent) error {
	key, err := events.Key(ev)
	if err != nil {
		return err
	}
	log := clog.FromContext(ctx).With("issue", key.String())
	ctx = clog.WithLogger(ctx, log)

	rec, err := p.admit(ctx, key)
	switch {
	case errors.Is(err, errInFlight):
		triggerCounter.WithLabelValues("duplicate_in_flight").Inc()
		log.Info("Discarding trigger, another execution is in flight")
		return nil
	case errors.Is(err, errAlreadyDone):
		triggerCounter.WithLabelValues("already_done").Inc()
		log.Info("Discarding trigger, issue already has a pull request")
		return nil
	case errors.Is(err, errBudgetExhausted):
		triggerCounter.WithLabelValues("retry_budget_exhausted").Inc()
		log.With("max_attempts", p.maxAttempts).Info("Discarding trigger, retry budget exhausted")
		return nil
	case err != nil:
		return p.surfaceStoreError(ctx, err)
	}

	if rec.State == statestore.StateFailed {
		// A stale IN_PROGRESS record was parked as FAILED because its
		// budget was already spent. Terminal state, so notify.
		triggerCounter.WithLabelValues("reclaim_parked").Inc()
		outcomeCounter.WithLabelValues("failed").Inc()
		p.notifyFailed(ctx, key, rec.Attempts, rec.LastError)
		return nil
	}

	triggerCounter.WithLabelValues("admitted").Inc()
	log.With("attempt", rec.Attempts).Info("Admitted issue for processing")
	return p.run(ctx, key, rec, ev)
}

// admit executes all transition guards inside one atomic store transition.
func (p *Processor) admit(ctx context.Context, key statestore.IssueKey) (*statestore.IssueRecord, error) {
	now := p.now()
	return p.store.Transition(ctx, key, func(rec *statestore.IssueRecord) error {
		switch rec.State {
		case statestore.StateDone:
			return errAlreadyDone

		case statestore.StateInProgress:
			stale := p.stuckAfter > 0 && rec.StartedAt != nil && now.Sub(*rec.StartedAt) > p.stuckAfter
			if !stale {
				return errInFlight
			}
			if rec.Attempts >= p.maxAttempts {
				// Park the orphaned attempt as FAILED; the record is
				// persisted but the trigger is not admitted.
				rec.State = statestore.StateFailed
				rec.CompletedAt = &now
				rec.LastError = "attempt abandoned: exceeded processing deadline"
				return nil
			}
			// Budget left: fall through and re-admit in place.

		case statestore.StateFailed:
			if rec.Attempts >= p.maxAttempts {
				return errBudgetExhausted
			}
		}

		rec.State = statestore.StateInProgress
		rec.Attempts++
		rec.StartedAt = &now
		rec.CompletedAt = nil
		rec.LastError = ""
		rec.ResultRef = ""
		return nil
	})
}

// run executes the processing body for an admitted attempt.
func (p *Processor) run(ctx context.Context, key statestore.IssueKey, rec *statestore.IssueRecord, ev *github.IssuesEvent) error {
	log := clog.FromContext(ctx)

	if err := p.notify.Started(ctx, key, rec.Attempts); err != nil {
		log.With("error", err).Warn("Failed to post start notification")
	}

	cs, err := p.propose(ctx, ev)
	if err != nil {
		return p.fail(ctx, key, rec.Attempts, fmt.Sprintf("generating a solution: %v", err))
	}

	pc, err := p.pub.Publish(ctx, key, p.baseBranch, cs)
	if err != nil {
		return p.fail(ctx, key, rec.Attempts, fmt.Sprintf("publishing the change: %v", err))
	}

	now := p.now()
	if _, err := p.store.Transition(ctx, key, func(rec *statestore.IssueRecord) error {
		rec.State = statestore.StateDone
		rec.CompletedAt = &now
		rec.LastError = ""
		rec.ResultRef = pc.PRURL
		return nil
	}); err != nil {
		return p.surfaceStoreError(ctx, err)
	}
	outcomeCounter.WithLabelValues("done").Inc()

	var files []string
	for _, fw := range cs.FileWrites {
		files = append(files, fw.Path)
	}
	for _, tw := range cs.TestWrites {
		files = append(files, tw.Path)
	}
	if err := p.notify.Succeeded(ctx, key, pc, files); err != nil {
		log.With("error", err).Warn("Failed to post success notification")
	}

	log.With("pr", pc.PRURL).Info("Issue resolved")
	return nil
}

// propose calls the collaborator under the configured timeout.
func (p *Processor) propose(ctx context.Context, ev *github.IssuesEvent) (*collaborator.ChangeSet, error) {
	if p.proposeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.proposeTimeout)
		defer cancel()
	}

	issue := ev.GetIssue()
	ic := &collaborator.IssueContext{
		Owner:     ev.GetRepo().GetOwner().GetLogin(),
		Repo:      ev.GetRepo().GetName(),
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		Author:    issue.GetUser().GetLogin(),
		CreatedAt: issue.GetCreatedAt().Time,
	}
	for _, l := range issue.Labels {
		ic.Labels = append(ic.Labels, l.GetName())
	}
	return p.proposer.Propose(ctx, ic)
}

// fail records a terminal FAILED transition and notifies. A store failure
// here is not converted into another transition attempt; it propagates.
func (p *Processor) fail(ctx context.Context, key statestore.IssueKey, attempt int, reason string) error {
	log := clog.FromContext(ctx)
	now := p.now()
	if _, err := p.store.Transition(ctx, key, func(rec *statestore.IssueRecord) error {
		rec.State = statestore.StateFailed
		rec.CompletedAt = &now
		rec.LastError = reason
		rec.ResultRef = ""
		return nil
	}); err != nil {
		return p.surfaceStoreError(ctx, err)
	}
	outcomeCounter.WithLabelValues("failed").Inc()
	log.With("reason", reason).Warn("Attempt failed")

	p.notifyFailed(ctx, key, attempt, reason)
	return nil
}

func (p *Processor) notifyFailed(ctx context.Context, key statestore.IssueKey, attempt int, reason string) {
	if err := p.notify.Failed(ctx, key, attempt, reason); err != nil {
		clog.FromContext(ctx).With("error", err).Warn("Failed to post failure notification")
	}
}

// surfaceStoreError counts and returns a state-store failure without
// attempting any further store writes.
func (p *Processor) surfaceStoreError(ctx context.Context, err error) error {
	var se *statestore.StoreError
	if errors.As(err, &se) {
		storeFailureCounter.Inc()
		clog.FromContext(ctx).With("error", err).Error("State store failure, guard integrity is at risk")
	}
	return err
}
