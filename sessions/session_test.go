package sessions

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDrainOutgoingIsExhaustive(t *testing.T) {
	s := New("s1")
	s.EnqueueOutgoing([]byte(`{"a":1}`))
	s.EnqueueOutgoing([]byte(`{"b":2}`))

	first := s.DrainOutgoing()
	if len(first) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(first))
	}
	if string(first[0]) != `{"a":1}` || string(first[1]) != `{"b":2}` {
		t.Fatalf("drain order wrong: %q, %q", first[0], first[1])
	}

	if second := s.DrainOutgoing(); second != nil {
		t.Fatalf("second drain should be nil, got %d messages", len(second))
	}
}

func TestRequeueOutgoingPreservesOrder(t *testing.T) {
	s := New("s1")
	s.EnqueueOutgoing([]byte(`"c"`))
	s.RequeueOutgoing([]json.RawMessage{[]byte(`"a"`), []byte(`"b"`)})

	got := s.DrainOutgoing()
	want := []string{`"a"`, `"b"`, `"c"`}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("message %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolvePendingIsIdempotent(t *testing.T) {
	s := New("s1")
	s.AddPending("corr-1", 30*time.Second, "client/ask")

	if !s.ResolvePending("corr-1") {
		t.Fatal("first resolution should report true")
	}
	if s.ResolvePending("corr-1") {
		t.Fatal("second resolution should report false")
	}
	if s.ResolvePending("never-existed") {
		t.Fatal("unknown correlation ids must resolve to false")
	}
}

func TestListExpired(t *testing.T) {
	s := New("s1")
	s.AddPending("fast", 0, "client/ask")
	s.AddPending("slow", time.Hour, "client/ask")

	expired := s.ListExpired(time.Now().Add(time.Second))
	if len(expired) != 1 || expired[0] != "fast" {
		t.Fatalf("expected only the zero-timeout entry to expire, got %v", expired)
	}
}

func TestNextDeadline(t *testing.T) {
	s := New("s1")
	if _, ok := s.NextDeadline(); ok {
		t.Fatal("empty ledger should have no deadline")
	}

	s.AddPending("near", time.Minute, "client/ask")
	s.AddPending("far", time.Hour, "client/ask")

	d, ok := s.NextDeadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if until := time.Until(d); until > 2*time.Minute {
		t.Fatalf("expected the nearer deadline, got one %v away", until)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := New("s1")
	s.EnqueueOutgoing([]byte(`{"x":1}`))
	s.AddPending("corr-1", time.Minute, "client/ask")
	s.SetMeta("k", "v")

	c := s.Clone()
	c.EnqueueOutgoing([]byte(`{"y":2}`))
	c.ResolvePending("corr-1")
	c.SetMeta("k", "changed")

	if len(s.Queue) != 1 {
		t.Errorf("clone mutation leaked into original queue")
	}
	if _, ok := s.Pending["corr-1"]; !ok {
		t.Errorf("clone mutation leaked into original ledger")
	}
	if v, _ := s.GetMeta("k"); v != "v" {
		t.Errorf("clone mutation leaked into original meta: %q", v)
	}
}
