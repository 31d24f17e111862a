package netmon_test

import (
	"testing"

	"github.com/leottami/mindull-sub001/internal/netmon"
)

func TestMonitor_EdgeFiresSubscribers(t *testing.T) {
	m := netmon.New(false)

	var transitions []bool
	m.OnChange(func(online bool) { transitions = append(transitions, online) })

	m.Set(true)
	m.Set(false)
	m.Set(true)

	want := []bool{true, false, true}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %d", len(want), len(transitions))
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
}

func TestMonitor_UnchangedValueIsSilent(t *testing.T) {
	m := netmon.New(true)

	fired := 0
	m.OnChange(func(bool) { fired++ })

	m.Set(true)
	m.Set(true)

	if fired != 0 {
		t.Fatalf("expected no notifications for unchanged state, got %d", fired)
	}
	if !m.Online() {
		t.Fatal("expected monitor to stay online")
	}
}

func TestMonitor_SubscriberMayReadState(t *testing.T) {
	m := netmon.New(false)

	var seen bool
	// Subscribers run outside the lock, so calling back into the monitor
	// must not deadlock.
	m.OnChange(func(bool) { seen = m.Online() })

	m.Set(true)
	if !seen {
		t.Fatal("expected subscriber to observe the new state")
	}
}
