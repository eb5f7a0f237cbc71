package clock

import (
	"testing"
	"time"
)

func TestFakeAfter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	ch := fake.After(2 * time.Second)

	fake.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("Timer fired early")
	default:
	}

	fake.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(2 * time.Second)) {
			t.Errorf("Expected fire time %v, got %v", start.Add(2*time.Second), got)
		}
	default:
		t.Fatal("Timer did not fire")
	}

	if fake.Pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", fake.Pending())
	}
}

func TestFakeAfterZero(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))

	select {
	case <-fake.After(0):
	default:
		t.Fatal("Expected zero-duration timer to fire immediately")
	}
}

func TestFakeAdvanceFiresMultiple(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	a := fake.After(time.Second)
	b := fake.After(3 * time.Second)

	fake.Advance(5 * time.Second)

	for i, ch := range []<-chan time.Time{a, b} {
		select {
		case <-ch:
		default:
			t.Errorf("Timer %d did not fire", i)
		}
	}
}
