package taskqueue

import (
	"testing"
	"time"

	"github.com/petrijr/taskrun/pkg/api"
)

func TestItem_AttemptBookkeeping(t *testing.T) {
	it := Item{TaskID: "t", Settings: api.Settings{Countdown: 5, MaxRetries: 1}}

	if it.Attempt() != 1 || it.MaxAttempts() != 2 {
		t.Fatalf("expected attempt 1 of 2, got %d of %d", it.Attempt(), it.MaxAttempts())
	}
	if !it.CanRetry() {
		t.Fatalf("expected first attempt to allow a retry")
	}

	now := time.Unix(1000, 0)
	next := it.Next("item-2", now, 5*time.Second)
	if next.ID != "item-2" || next.TaskID != "t" {
		t.Fatalf("unexpected ids on next item: %+v", next)
	}
	if next.Attempt() != 2 {
		t.Fatalf("expected attempt 2, got %d", next.Attempt())
	}
	if next.CanRetry() {
		t.Fatalf("expected retries to be exhausted")
	}
	if !next.NotBefore.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("unexpected NotBefore %v", next.NotBefore)
	}
	if it.Retries != 0 {
		t.Fatalf("Next must not mutate the receiver")
	}
}

func TestItem_NoRetriesByDefault(t *testing.T) {
	it := Item{Settings: api.DefaultSettings()}
	if it.CanRetry() {
		t.Fatalf("expected no retry with default settings")
	}
	if it.MaxAttempts() != 1 {
		t.Fatalf("expected a single attempt, got %d", it.MaxAttempts())
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	in := Item{ID: "i", TaskID: "t", Params: api.Params{Param1: 2, Param2: "x"}, Retries: 3}
	data, err := EncodeItem(in)
	if err != nil {
		t.Fatalf("EncodeItem failed: %v", err)
	}
	out, err := DecodeItem(data)
	if err != nil {
		t.Fatalf("DecodeItem failed: %v", err)
	}
	if out.ID != in.ID || out.TaskID != in.TaskID || out.Params != in.Params || out.Retries != in.Retries {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestPrepare_FillsIDAndTime(t *testing.T) {
	now := time.Unix(42, 0)
	it := prepare(Item{TaskID: "t"}, now)
	if it.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !it.EnqueuedAt.Equal(now) {
		t.Fatalf("expected EnqueuedAt %v, got %v", now, it.EnqueuedAt)
	}

	kept := prepare(Item{ID: "mine", EnqueuedAt: time.Unix(1, 0)}, now)
	if kept.ID != "mine" || !kept.EnqueuedAt.Equal(time.Unix(1, 0)) {
		t.Fatalf("prepare overwrote caller fields: %+v", kept)
	}
}
