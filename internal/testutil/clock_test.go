package testutil

import (
	"testing"
	"time"
)

func TestManualWallClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualWallClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	got := c.Advance(1500 * time.Millisecond)
	want := start.Add(1500 * time.Millisecond)
	if !got.Equal(want) {
		t.Fatalf("Advance = %v, want %v", got, want)
	}
	if !c.Now().Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", c.Now(), want)
	}
}

func TestManualWallClockFrozenBetweenAdvances(t *testing.T) {
	c := NewManualWallClock(time.Unix(0, 0))
	a := c.Now()
	b := c.Now()
	if !a.Equal(b) {
		t.Fatalf("clock moved without Advance: %v != %v", a, b)
	}
}

func TestManualWallClockRejectsNegativeAdvance(t *testing.T) {
	c := NewManualWallClock(time.Unix(0, 0))
	defer func() {
		if recover() == nil {
			t.Fatal("negative Advance did not panic")
		}
	}()
	c.Advance(-time.Second)
}
