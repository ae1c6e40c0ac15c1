package main

import (
	"testing"
	"time"
)

func TestFreshnessIntervalHalvesThreshold(t *testing.T) {
	got, ok := freshnessInterval(10)
	if !ok {
		t.Fatal("expected freshness check enabled")
	}
	if got != 5*time.Second {
		t.Fatalf("interval = %v, want 5s", got)
	}
}

func TestFreshnessIntervalDisabledWhenUnset(t *testing.T) {
	for _, sec := range []int{0, -1} {
		if _, ok := freshnessInterval(sec); ok {
			t.Fatalf("staleDataSec=%d: freshness check must stay off", sec)
		}
	}
}
