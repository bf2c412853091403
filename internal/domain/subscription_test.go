package domain

import (
	"testing"
	"time"
)

func TestBackfillWindow(t *testing.T) {
	if got := FreqDaily.BackfillWindow(); got != 4*24*time.Hour {
		t.Fatalf("daily window %v", got)
	}
	if got := FreqWeekly.BackfillWindow(); got != 14*24*time.Hour {
		t.Fatalf("weekly window %v", got)
	}
	if got := FreqNone.BackfillWindow(); got != 4*24*time.Hour {
		t.Fatalf("none window %v", got)
	}
}
