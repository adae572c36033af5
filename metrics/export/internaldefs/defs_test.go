package internaldefs

import (
	"strings"
	"testing"
)

func TestDefinitionsAreUniqueAndPrefixed(t *testing.T) {
	seen := map[string]bool{}
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, "tradeauth_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("counter %q does not follow naming", def.Name)
		}
		if seen[def.Name] {
			t.Fatalf("duplicate metric name %q", def.Name)
		}
		seen[def.Name] = true
	}
	for _, def := range HistogramDefs {
		if !strings.HasSuffix(def.Name, "_seconds") {
			t.Fatalf("histogram %q must be in seconds", def.Name)
		}
	}
	if len(HistogramUpperBounds)+1 != len(HistogramBoundSuffix) {
		t.Fatal("bounds and suffixes disagree")
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}
