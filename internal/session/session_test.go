package session

import "testing"

func TestNextMessageID_AdvancesByTwoAndWraps(t *testing.T) {
	s := New()
	first := s.NextMessageID()
	if first != InitialMessageID {
		t.Fatalf("first id = %#x, want %#x", first, InitialMessageID)
	}
	second := s.NextMessageID()
	if second != InitialMessageID+2 {
		t.Fatalf("second id = %#x, want %#x", second, InitialMessageID+2)
	}
	if s.MostRecentMessageID() != second {
		t.Fatalf("most recent = %#x, want %#x", s.MostRecentMessageID(), second)
	}

	// Force the counter near the wrap boundary and confirm it wraps
	// through 0 rather than overflowing into a smaller/negative value.
	s2 := New()
	for s2.NextMessageID() != 0xFFFFFFFE {
	}
	wrapped := s2.NextMessageID()
	if wrapped != 0 {
		t.Fatalf("wrapped id = %#x, want 0", wrapped)
	}
}

func TestReleaseLockMessageID(t *testing.T) {
	s := New()
	if got := s.ReleaseLockMessageID(); got != 0 {
		t.Fatalf("release id before any write = %#x, want 0", got)
	}
	s.NextMessageID()
	if got := s.ReleaseLockMessageID(); got != InitialMessageID {
		t.Fatalf("release id after one write = %#x, want %#x", got, InitialMessageID)
	}
}

func TestResetForDeviceClear(t *testing.T) {
	s := New()
	s.NextMessageID()
	s.NextMessageID()
	s.SetRMT(true)
	s.ResetForDeviceClear()
	if s.MostRecentMessageID() != 0 {
		t.Fatalf("most recent after clear = %#x, want 0", s.MostRecentMessageID())
	}
	if id := s.NextMessageID(); id != InitialMessageID {
		t.Fatalf("next id after clear = %#x, want %#x", id, InitialMessageID)
	}
	if s.RMTDelivered() {
		t.Fatal("rmt delivered should be cleared by device clear")
	}
}

func TestSetRMTOverwritesRatherThanOrs(t *testing.T) {
	s := New()
	s.SetRMT(true)
	s.SetRMT(false)
	if s.RMTDelivered() {
		t.Fatal("SetRMT(false) should clear a previously true flag")
	}
}

func TestMaxMessageSizeDefault(t *testing.T) {
	s := New()
	if s.MaxMessageSize() != MinMaxMessageSize {
		t.Fatalf("default max message size = %d, want %d", s.MaxMessageSize(), MinMaxMessageSize)
	}
}
