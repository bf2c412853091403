package utils

import "testing"

func TestDrainToBound(t *testing.T) {
	results := make(chan int, 10)
	d := NewDrain(results)

	for i := 0; i < 5; i++ {
		results <- i
		d.Launched()
	}
	if d.InFlight() != 5 {
		t.Fatalf("in flight %d, want 5", d.InFlight())
	}

	var handled []int
	d.DrainTo(2, func(r int) { handled = append(handled, r) })
	if d.InFlight() != 2 {
		t.Fatalf("in flight %d, want 2", d.InFlight())
	}
	if len(handled) != 3 {
		t.Fatalf("handled %v, want 3 results", handled)
	}

	d.DrainTo(0, func(r int) { handled = append(handled, r) })
	if d.InFlight() != 0 {
		t.Fatalf("in flight %d, want 0", d.InFlight())
	}
	for i, r := range handled {
		if r != i {
			t.Fatalf("results out of order: %v", handled)
		}
	}
}

func TestDrainToNoopWhenUnderLimit(t *testing.T) {
	results := make(chan int)
	d := NewDrain(results)

	d.Launched()
	// No result available; must not block since in-flight <= limit.
	d.DrainTo(1, func(int) { t.Fatalf("unexpected handle") })
	if d.InFlight() != 1 {
		t.Fatalf("in flight %d, want 1", d.InFlight())
	}
}

func TestDrainToNegativeLimit(t *testing.T) {
	results := make(chan string, 1)
	d := NewDrain(results)
	results <- "done"
	d.Launched()

	var got string
	d.DrainTo(-1, func(r string) { got = r })
	if got != "done" || d.InFlight() != 0 {
		t.Fatalf("got %q, in flight %d", got, d.InFlight())
	}
}
