package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	if now := c.Now(); now.Before(before) {
		t.Fatalf("Now() = %v, before %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("Since() went negative")
	}

	tk := c.NewTicker(5 * time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
}

func TestMockClock_SetAndSince(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	c.Set(start.Add(90 * time.Second))
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}
}

func TestMockClock_TickerFiresOnDeadline(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(10 * time.Second)
	if c.TickerCount() != 1 {
		t.Fatalf("TickerCount() = %d, want 1", c.TickerCount())
	}

	c.Advance(9 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-tk.C():
		if !got.Equal(time.Unix(10, 0)) {
			t.Errorf("tick at %v, want 10s", got)
		}
	default:
		t.Fatal("ticker did not fire at its deadline")
	}
}

func TestMockClock_TickerDropsWhenBehind(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)

	c.Advance(5 * time.Second)
	c.Advance(time.Second)

	n := 0
	for {
		select {
		case <-tk.C():
			n++
			continue
		default:
		}
		break
	}
	if n != 1 {
		t.Errorf("buffered ticks = %d, want 1", n)
	}
}

func TestMockClock_StoppedTickerIsSilent(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(time.Minute)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_SetDoesNotFire(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	c.Set(time.Unix(100, 0))
	select {
	case <-tk.C():
		t.Fatal("Set fired a ticker")
	default:
	}
}
