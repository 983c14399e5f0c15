package handler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/crosslist/internal/agent"
	"github.com/you/crosslist/internal/domain"
)

type fakeCancels struct{ flagged atomic.Bool }

func (f *fakeCancels) CancelRequested(context.Context, string) (bool, error) {
	return f.flagged.Load(), nil
}

type fakeMarket struct {
	ref  ListingRef
	err  error
	seen []string
}

func (f *fakeMarket) Publish(_ context.Context, resourceID string, _ json.RawMessage) (ListingRef, error) {
	f.seen = append(f.seen, "publish:"+resourceID)
	return f.ref, f.err
}
func (f *fakeMarket) Update(_ context.Context, resourceID, listingID string, _ json.RawMessage) (ListingRef, error) {
	f.seen = append(f.seen, "update:"+resourceID+":"+listingID)
	return f.ref, f.err
}
func (f *fakeMarket) Delete(_ context.Context, listingID string) error {
	f.seen = append(f.seen, "delete:"+listingID)
	return f.err
}
func (f *fakeMarket) Sync(_ context.Context, resourceID string) (ListingRef, error) {
	f.seen = append(f.seen, "sync:"+resourceID)
	return f.ref, f.err
}

func publishJob() *domain.Job {
	rid := "res-1"
	return &domain.Job{ID: "j1", TenantID: "acme", Marketplace: "ebay",
		Action: "publish", ResourceID: &rid, MaxRetries: 3}
}

func resolvePublish(t *testing.T, mp Marketplace, cancels CancelChecker) Handler {
	t.Helper()
	reg := NewRegistry()
	RegisterAPIMarketplace(reg, "ebay", mp, cancels)
	h, ok := reg.Resolve("ebay", "publish")
	if !ok {
		t.Fatal("publish handler not registered")
	}
	return h
}

func TestAPIHandlerSuccessCarriesListingRef(t *testing.T) {
	mp := &fakeMarket{ref: ListingRef{ListingID: "L9", URL: "https://x/L9"}}
	h := resolvePublish(t, mp, &fakeCancels{})

	res := h.Execute(context.Background(), publishJob())
	if !res.Success {
		t.Fatalf("want success, got error %q", res.Error)
	}
	if res.Fields["listing_id"] != "L9" || res.Fields["listing_url"] != "https://x/L9" {
		t.Fatalf("fields = %v", res.Fields)
	}
}

func TestAPIHandlerChecksCancelFirst(t *testing.T) {
	mp := &fakeMarket{}
	cancels := &fakeCancels{}
	cancels.flagged.Store(true)
	h := resolvePublish(t, mp, cancels)

	res := h.Execute(context.Background(), publishJob())
	if !res.Cancelled {
		t.Fatal("want cancelled result")
	}
	if len(mp.seen) != 0 {
		t.Fatal("cancelled job must not reach the marketplace")
	}
}

func TestAPIHandlerMissingParamIsPermanent(t *testing.T) {
	reg := NewRegistry()
	RegisterAPIMarketplace(reg, "ebay", &fakeMarket{}, &fakeCancels{})
	h, _ := reg.Resolve("ebay", "update")

	rid := "res-1"
	job := &domain.Job{ID: "j1", ResourceID: &rid, Params: []byte(`{}`)}
	res := h.Execute(context.Background(), job)
	if res.Success || !res.Permanent {
		t.Fatalf("missing listing_id must fail permanently, got %+v", res)
	}
}

func TestClassifyErrors(t *testing.T) {
	if res := classify(Permanentf("rejected")); !res.Permanent {
		t.Fatal("marketplace rejection must be permanent")
	}
	if res := classify(Transientf("503")); res.Permanent || res.Success {
		t.Fatal("5xx must stay retryable")
	}
	if res := classify(context.Canceled); !res.Cancelled {
		t.Fatal("context cancellation maps to cancelled")
	}
}

func TestSafeExecuteRecovers(t *testing.T) {
	h := panicky{}
	res := SafeExecute(context.Background(), h, publishJob())
	if res.Success {
		t.Fatal("panic must become a failed result")
	}
	if res.Error == "" {
		t.Fatal("panic message must be captured")
	}
}

type panicky struct{}

func (panicky) Execute(context.Context, *domain.Job) Result { panic("boom") }

type fakeTasks struct {
	mu        sync.Mutex
	inserted  []domain.Task
	abandoned map[string]string
}

func (f *fakeTasks) InsertTask(_ context.Context, t *domain.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, *t)
	return t.ID, nil
}

func (f *fakeTasks) AbandonTask(_ context.Context, id, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.abandoned == nil {
		f.abandoned = make(map[string]string)
	}
	f.abandoned[id] = msg
	return nil
}

func (f *fakeTasks) firstID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inserted) == 0 {
		return ""
	}
	return f.inserted[0].ID
}

func (f *fakeTasks) abandonedMsg(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.abandoned[id]
	return msg, ok
}

func TestAgentHandlerRoundTrip(t *testing.T) {
	tasks := &fakeTasks{}
	waiter := agent.NewWaiter()
	h := NewAgentHandler(tasks, &fakeCancels{}, waiter, "POST", "/listings", time.Second)

	done := make(chan Result, 1)
	go func() { done <- h.Execute(context.Background(), publishJob()) }()

	// play the remote agent: wait for the task, then report success
	var taskID string
	for i := 0; i < 100; i++ {
		if taskID = tasks.firstID(); taskID != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if taskID == "" {
		t.Fatal("handler never enqueued a task")
	}
	waiter.Resolve(taskID, agent.Outcome{Success: true, Result: []byte(`{"id":"P7"}`)})

	res := <-done
	if !res.Success {
		t.Fatalf("want success, got %+v", res)
	}
}

func TestAgentHandlerTimeoutIsRetryable(t *testing.T) {
	tasks := &fakeTasks{}
	h := NewAgentHandler(tasks, &fakeCancels{}, agent.NewWaiter(),
		"POST", "/listings", 30*time.Millisecond)

	res := h.Execute(context.Background(), publishJob())
	if res.Success || res.Permanent || res.Cancelled {
		t.Fatalf("agent silence must be a transient failure, got %+v", res)
	}
	// the orphaned task must not stay pending while the job moves on
	if _, ok := tasks.abandonedMsg(tasks.firstID()); !ok {
		t.Fatal("timed-out task was not failed")
	}
}

func TestAgentHandlerObservesCancelFlag(t *testing.T) {
	cancels := &fakeCancels{}
	h := NewAgentHandler(&fakeTasks{}, cancels, agent.NewWaiter(),
		"POST", "/listings", 5*time.Second)
	h.cancelPoll = 10 * time.Millisecond

	done := make(chan Result, 1)
	go func() { done <- h.Execute(context.Background(), publishJob()) }()

	time.Sleep(30 * time.Millisecond)
	cancels.flagged.Store(true)

	select {
	case res := <-done:
		if !res.Cancelled {
			t.Fatalf("want cancelled, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not resolve after cancel flag came up")
	}
}
