package timer

import (
	"testing"
	"time"
)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	m := NewManual()
	var got []int
	m.AfterFunc(30*time.Millisecond, func() { got = append(got, 3) })
	m.AfterFunc(10*time.Millisecond, func() { got = append(got, 1) })
	m.AfterFunc(10*time.Millisecond, func() { got = append(got, 2) })
	m.Advance(20 * time.Millisecond)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("fired %v, want [1 2]", got)
	}
	m.Advance(10 * time.Millisecond)
	if len(got) != 3 {
		t.Fatalf("fired %v, want three callbacks", got)
	}
	if m.Now() != 30*time.Millisecond {
		t.Fatalf("now = %v", m.Now())
	}
}

func TestManualCallbackCanScheduleDueTimer(t *testing.T) {
	m := NewManual()
	fired := 0
	m.AfterFunc(time.Second, func() {
		m.AfterFunc(0, func() { fired++ })
	})
	m.Advance(2 * time.Second)
	if fired != 1 {
		t.Fatalf("nested timer fired %d times", fired)
	}
}

func TestManualCancel(t *testing.T) {
	m := NewManual()
	h := m.AfterFunc(time.Second, func() { t.Fatalf("canceled timer fired") })
	if !h.Cancel() {
		t.Fatalf("first cancel should report true")
	}
	if h.Cancel() {
		t.Fatalf("second cancel should report false")
	}
	m.Advance(2 * time.Second)
	if m.Pending() != 0 {
		t.Fatalf("pending = %d", m.Pending())
	}
}

func TestOneShotRearmCancelsPrevious(t *testing.T) {
	m := NewManual()
	o := NewOneShot(m)
	var got []string
	o.Arm(time.Second, func() { got = append(got, "stale") })
	o.Arm(2*time.Second, func() { got = append(got, "fresh") })
	m.Advance(3 * time.Second)
	if len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("fired %v, want [fresh]", got)
	}
	if o.Armed() {
		t.Fatalf("one-shot still armed after firing")
	}
}

func TestOneShotCancel(t *testing.T) {
	m := NewManual()
	o := NewOneShot(m)
	o.Arm(time.Second, func() { t.Fatalf("canceled one-shot fired") })
	o.Cancel()
	o.Cancel()
	m.Advance(time.Minute)
}

func TestGroupCancelAll(t *testing.T) {
	m := NewManual()
	g := NewGroup(m)
	fired := 0
	g.After(time.Second, func() { fired++ })
	g.After(2*time.Second, func() { fired++ })
	m.Advance(time.Second)
	if fired != 1 || g.Len() != 1 {
		t.Fatalf("fired=%d pending=%d", fired, g.Len())
	}
	g.CancelAll()
	m.Advance(time.Minute)
	if fired != 1 || g.Len() != 0 {
		t.Fatalf("fired=%d pending=%d after cancel", fired, g.Len())
	}
}

func TestWallOneShotFires(t *testing.T) {
	o := NewOneShot(Wall{})
	done := make(chan struct{})
	o.Arm(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("wall timer did not fire")
	}
}

func TestSeconds(t *testing.T) {
	if Seconds(-1) != 0 {
		t.Fatalf("negative seconds should clamp")
	}
	if Seconds(1.5) != 1500*time.Millisecond {
		t.Fatalf("Seconds(1.5) = %v", Seconds(1.5))
	}
}
