package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parleyproto/parley/sessions"
)

func TestLoadMissingSession(t *testing.T) {
	s := New()
	if _, err := s.Load(context.Background(), "nope"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	sess := sessions.New("s1")
	sess.EnqueueOutgoing([]byte(`{"hello":"world"}`))
	sess.AddPending("corr-1", time.Minute, "client/ask")
	sess.SetMeta("userId", "u1")

	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Queue) != 1 || string(got.Queue[0]) != `{"hello":"world"}` {
		t.Fatalf("queue did not round-trip: %v", got.Queue)
	}
	if _, ok := got.Pending["corr-1"]; !ok {
		t.Fatal("ledger entry did not round-trip")
	}
	if v, _ := got.GetMeta("userId"); v != "u1" {
		t.Fatalf("meta did not round-trip: %q", v)
	}
}

func TestLoadReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	s := New()

	sess := sessions.New("s1")
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	a, _ := s.Load(ctx, "s1")
	a.EnqueueOutgoing([]byte(`"dirty"`))

	b, _ := s.Load(ctx, "s1")
	if len(b.Queue) != 0 {
		t.Fatal("mutation of a loaded copy leaked into the store")
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Save(ctx, sessions.New("s1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Load(ctx, "s1"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
}
