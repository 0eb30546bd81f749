/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chainguard.dev/issuesmith/collaborator"
	"chainguard.dev/issuesmith/publisher"
	"chainguard.dev/issuesmith/statestore"
	"github.com/google/go-github/v75/github"
)

type fakeProposer struct {
	calls   atomic.Int32
	err     error
	block   chan struct{} // when set, Propose waits here
	entered chan struct{} // closed when Propose is first entered
}

func (f *fakeProposer) Propose(ctx context.Context, ic *collaborator.IssueContext) (*collaborator.ChangeSet, error) {
	f.calls.Add(1)
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &collaborator.ChangeSet{
		Summary: "Fix it.",
		FileWrites: []collaborator.FileWrite{{
			Path: "fix.go", Action: collaborator.ActionCreate, Content: "package fix\n",
		}},
		Title:       "Fix it",
		Description: "Fixed.",
	}, nil
}

type fakePublisher struct {
	calls atomic.Int32
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, key statestore.IssueKey, baseBranch string, cs *collaborator.ChangeSet) (*publisher.PublishedChange, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &publisher.PublishedChange{
		Branch:    "issuesmith/issue-7",
		CommitSHA: "new-commit",
		PRNumber:  12,
		PRURL:     "https://github.com/octo/widgets/pull/12",
	}, nil
}

type fakeNotifier struct {
	mu                         sync.Mutex
	started, succeeded, failed int
	err                        error
}

func (f *fakeNotifier) Started(context.Context, statestore.IssueKey, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.err
}

func (f *fakeNotifier) Succeeded(context.Context, statestore.IssueKey, *publisher.PublishedChange, []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded++
	return f.err
}

func (f *fakeNotifier) Failed(context.Context, statestore.IssueKey, int, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
	return f.err
}

func (f *fakeNotifier) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.succeeded, f.failed
}

// failingStore wraps a Store and fails every Transition.
type failingStore struct {
	statestore.Store
}

func (s *failingStore) Transition(_ context.Context, key statestore.IssueKey, _ statestore.MutateFunc) (*statestore.IssueRecord, error) {
	return nil, &statestore.StoreError{Op: "write", Key: key, Err: errors.New("disk full")}
}

func openedEvent() *github.IssuesEvent {
	return &github.IssuesEvent{
		Action: github.Ptr("opened"),
		Issue: &github.Issue{
			Number: github.Ptr(7),
			Title:  github.Ptr("widgets are broken"),
			Body:   github.Ptr("please fix"),
			User:   &github.User{Login: github.Ptr("alice")},
		},
		Repo: &github.Repository{
			Name:  github.Ptr("widgets"),
			Owner: &github.User{Login: github.Ptr("octo")},
		},
	}
}

var eventKey = statestore.IssueKey{Owner: "octo", Repo: "widgets", Number: 7}

type fixture struct {
	store    statestore.Store
	proposer *fakeProposer
	pub      *fakePublisher
	notify   *fakeNotifier
	proc     *Processor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    statestore.NewMemory(),
		proposer: &fakeProposer{},
		pub:      &fakePublisher{},
		notify:   &fakeNotifier{},
	}
	proc, err := New(f.store, f.proposer, f.pub, f.notify, opts...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	f.proc = proc
	return f
}

func TestProcessSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.proc.Process(ctx, openedEvent()); err != nil {
		t.Fatalf("Process() = %v", err)
	}

	rec, err := f.store.Get(ctx, eventKey)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if rec.State != statestore.StateDone {
		t.Errorf("State = %s, want DONE", rec.State)
	}
	if rec.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", rec.Attempts)
	}
	if rec.ResultRef != "https://github.com/octo/widgets/pull/12" {
		t.Errorf("ResultRef = %q, want the PR URL", rec.ResultRef)
	}
	if started, succeeded, failed := f.notify.counts(); started != 1 || succeeded != 1 || failed != 0 {
		t.Errorf("notifications = (%d, %d, %d), want (1, 1, 0)", started, succeeded, failed)
	}
}

func TestProcessDoneIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.proc.Process(ctx, openedEvent()); err != nil {
		t.Fatalf("first Process() = %v", err)
	}
	// Replays of the trigger are discarded without touching the
	// collaborator or publisher again.
	for i := 0; i < 3; i++ {
		if err := f.proc.Process(ctx, openedEvent()); err != nil {
			t.Fatalf("replay Process() = %v", err)
		}
	}
	if got := f.proposer.calls.Load(); got != 1 {
		t.Errorf("Propose called %d times, want 1", got)
	}
	if got := f.pub.calls.Load(); got != 1 {
		t.Errorf("Publish called %d times, want 1", got)
	}
}

func TestProcessConcurrentDuplicateDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.proposer.block = make(chan struct{})
	f.proposer.entered = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.proc.Process(ctx, openedEvent()) }()
	<-f.proposer.entered

	// The first execution is parked inside Propose; a duplicate trigger
	// must be discarded, not run a second execution.
	if err := f.proc.Process(ctx, openedEvent()); err != nil {
		t.Fatalf("duplicate Process() = %v", err)
	}
	if got := f.proposer.calls.Load(); got != 1 {
		t.Errorf("Propose called %d times while in flight, want 1", got)
	}

	close(f.proposer.block)
	if err := <-done; err != nil {
		t.Fatalf("first Process() = %v", err)
	}
	if got := f.pub.calls.Load(); got != 1 {
		t.Errorf("Publish called %d times, want 1", got)
	}
}

func TestProcessRetryBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithMaxAttempts(3))
	f.proposer.err = &collaborator.UnavailableError{Err: errors.New("model down")}

	// Each trigger spends one attempt; the budget caps total attempts.
	for i := 0; i < 5; i++ {
		if err := f.proc.Process(ctx, openedEvent()); err != nil {
			t.Fatalf("Process() #%d = %v", i, err)
		}
	}
	if got := f.proposer.calls.Load(); got != 3 {
		t.Errorf("Propose called %d times, want 3", got)
	}

	rec, err := f.store.Get(ctx, eventKey)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if rec.State != statestore.StateFailed {
		t.Errorf("State = %s, want FAILED", rec.State)
	}
	if rec.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", rec.Attempts)
	}
	if rec.LastError == "" {
		t.Error("LastError is empty after a failure")
	}
	if _, _, failed := f.notify.counts(); failed != 3 {
		t.Errorf("failure notifications = %d, want 3", failed)
	}
}

func TestProcessRetryAfterFailureSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pub.err = &publisher.Error{Step: "create tree", Err: errors.New("boom")}

	if err := f.proc.Process(ctx, openedEvent()); err != nil {
		t.Fatalf("failing Process() = %v", err)
	}
	f.pub.err = nil
	if err := f.proc.Process(ctx, openedEvent()); err != nil {
		t.Fatalf("retry Process() = %v", err)
	}

	rec, err := f.store.Get(ctx, eventKey)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if rec.State != statestore.StateDone {
		t.Errorf("State = %s, want DONE after retry", rec.State)
	}
	if rec.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (attempts carry over)", rec.Attempts)
	}
	if rec.LastError != "" {
		t.Errorf("LastError = %q, want cleared on success", rec.LastError)
	}
}

func TestProcessNotifierFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notify.err = errors.New("comment API down")

	if err := f.proc.Process(ctx, openedEvent()); err != nil {
		t.Fatalf("Process() = %v", err)
	}
	rec, err := f.store.Get(ctx, eventKey)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if rec.State != statestore.StateDone {
		t.Errorf("State = %s, want DONE despite notifier failures", rec.State)
	}
}

func TestProcessStoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	broken := &failingStore{Store: f.store}
	proc, err := New(broken, f.proposer, f.pub, f.notify)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	// A store failure is not a FAILED outcome; it surfaces as an error
	// and nothing downstream runs.
	err = proc.Process(ctx, openedEvent())
	var se *statestore.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("Process() = %v, want StoreError", err)
	}
	if got := f.proposer.calls.Load(); got != 0 {
		t.Errorf("Propose called %d times after store failure, want 0", got)
	}
}

func TestProcessInvalidEventRejected(t *testing.T) {
	f := newFixture(t)
	err := f.proc.Process(context.Background(), &github.IssuesEvent{})
	if err == nil {
		t.Fatal("Process(empty event) = nil, want error")
	}
	if got := f.proposer.calls.Load(); got != 0 {
		t.Errorf("Propose called %d times for an invalid event, want 0", got)
	}
}

func TestProcessReclaimsStuckExecution(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	current := base
	f := newFixture(t,
		WithStuckAfter(30*time.Minute),
		WithClock(func() time.Time { return current }),
	)

	// Seed an IN_PROGRESS record as if a previous process crashed
	// mid-attempt.
	if _, err := f.store.Transition(ctx, eventKey, func(rec *statestore.IssueRecord) error {
		rec.State = statestore.StateInProgress
		rec.Attempts = 1
		rec.StartedAt = &base
		return nil
	}); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	// Within the deadline the record still counts as in flight.
	current = base.Add(10 * time.Minute)
	if err := f.proc.Process(ctx, openedEvent()); err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if got := f.proposer.calls.Load(); got != 0 {
		t.Errorf("Propose called %d times before the deadline, want 0", got)
	}

	// Past the deadline the orphan is reclaimed and re-admitted.
	current = base.Add(31 * time.Minute)
	if err := f.proc.Process(ctx, openedEvent()); err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if got := f.proposer.calls.Load(); got != 1 {
		t.Errorf("Propose called %d times after reclaim, want 1", got)
	}

	rec, err := f.store.Get(ctx, eventKey)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if rec.State != statestore.StateDone {
		t.Errorf("State = %s, want DONE", rec.State)
	}
	if rec.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", rec.Attempts)
	}
}

func TestProcessParksStuckExecutionWithoutBudget(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	current := base
	f := newFixture(t,
		WithMaxAttempts(2),
		WithStuckAfter(30*time.Minute),
		WithClock(func() time.Time { return current }),
	)

	// A crashed attempt that already spent the whole budget.
	if _, err := f.store.Transition(ctx, eventKey, func(rec *statestore.IssueRecord) error {
		rec.State = statestore.StateInProgress
		rec.Attempts = 2
		rec.StartedAt = &base
		return nil
	}); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	current = base.Add(31 * time.Minute)
	if err := f.proc.Process(ctx, openedEvent()); err != nil {
		t.Fatalf("Process() = %v", err)
	}

	rec, err := f.store.Get(ctx, eventKey)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if rec.State != statestore.StateFailed {
		t.Errorf("State = %s, want FAILED (parked)", rec.State)
	}
	if got := f.proposer.calls.Load(); got != 0 {
		t.Errorf("Propose called %d times for a parked record, want 0", got)
	}
	if _, _, failed := f.notify.counts(); failed != 1 {
		t.Errorf("failure notifications = %d, want 1", failed)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	store := statestore.NewMemory()
	proposer := &fakeProposer{}
	pub := &fakePublisher{}
	notify := &fakeNotifier{}

	tests := []struct {
		name string
		ctor func() (*Processor, error)
	}{{
		name: "nil store",
		ctor: func() (*Processor, error) { return New(nil, proposer, pub, notify) },
	}, {
		name: "nil proposer",
		ctor: func() (*Processor, error) { return New(store, nil, pub, notify) },
	}, {
		name: "nil publisher",
		ctor: func() (*Processor, error) { return New(store, proposer, nil, notify) },
	}, {
		name: "nil notifier",
		ctor: func() (*Processor, error) { return New(store, proposer, pub, nil) },
	}, {
		name: "non-positive max attempts",
		ctor: func() (*Processor, error) { return New(store, proposer, pub, notify, WithMaxAttempts(0)) },
	}}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := test.ctor(); err == nil {
				t.Fatal("New() = nil, want error")
			}
		})
	}
}
