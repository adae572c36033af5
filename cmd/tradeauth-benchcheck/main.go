// Command tradeauth-benchcheck compares two `go test -bench` outputs and
// fails when a tracked hot-path benchmark regressed beyond the threshold.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const defaultThreshold = 0.30

// Login is dominated by argon2id, so only its allocations are tracked.
var trackedMetrics = map[string][]string{
	"BenchmarkValidateAccess": {"ns/op", "allocs/op"},
	"BenchmarkRefresh":        {"ns/op", "allocs/op"},
	"BenchmarkLogin":          {"allocs/op"},
}

type sampleSet map[string]map[string][]float64

type delta struct {
	benchmark string
	metric    string
	baseline  float64
	candidate float64
	ratio     float64
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tradeauth-benchcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baselinePath := fs.String("baseline", "", "path to baseline benchmark output")
	candidatePath := fs.String("candidate", "", "path to candidate benchmark output")
	threshold := fs.Float64("threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(stderr, "-baseline and -candidate are required")
		return 2
	}
	if *threshold < 0 {
		fmt.Fprintln(stderr, "-threshold must be >= 0")
		return 2
	}

	baseline, err := parseBenchmarkFile(*baselinePath)
	if err != nil {
		fmt.Fprintf(stderr, "parse baseline: %v\n", err)
		return 1
	}
	candidate, err := parseBenchmarkFile(*candidatePath)
	if err != nil {
		fmt.Fprintf(stderr, "parse candidate: %v\n", err)
		return 1
	}

	deltas, failures := compare(baseline, candidate, *threshold)

	fmt.Fprintln(stdout, "benchmark metric baseline candidate delta")
	for _, d := range deltas {
		fmt.Fprintf(stdout, "%s %s %.3f %.3f %+0.2f%%\n", d.benchmark, d.metric, d.baseline, d.candidate, d.ratio*100)
	}

	if len(failures) > 0 {
		fmt.Fprintln(stderr, "performance regression threshold exceeded:")
		for _, f := range failures {
			fmt.Fprintf(stderr, "  - %s\n", f)
		}
		return 1
	}
	return 0
}

// compare walks trackedMetrics in name order so output is stable.
func compare(baseline, candidate sampleSet, threshold float64) ([]delta, []string) {
	names := make([]string, 0, len(trackedMetrics))
	for name := range trackedMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		deltas   []delta
		failures []string
	)
	for _, name := range names {
		for _, metric := range trackedMetrics[name] {
			base := baseline[name][metric]
			cand := candidate[name][metric]
			if len(base) == 0 || len(cand) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", name, metric))
				continue
			}

			baseMedian := median(base)
			candMedian := median(cand)
			if baseMedian <= 0 {
				// allocs/op may legitimately be zero; only a rise is a regression.
				if metric == "allocs/op" && baseMedian == 0 {
					if candMedian > 0 {
						failures = append(failures, fmt.Sprintf("%s %s went from 0 to %.0f", name, metric, candMedian))
					}
					continue
				}
				failures = append(failures, fmt.Sprintf("invalid baseline median for %s %s", name, metric))
				continue
			}

			d := delta{
				benchmark: name,
				metric:    metric,
				baseline:  baseMedian,
				candidate: candMedian,
				ratio:     (candMedian - baseMedian) / baseMedian,
			}
			deltas = append(deltas, d)
			if d.ratio > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", name, metric, d.ratio*100, threshold*100))
			}
		}
	}
	return deltas, failures
}

func parseBenchmarkFile(path string) (sampleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseBenchmarks(f)
}

func parseBenchmarks(r io.Reader) (sampleSet, error) {
	samples := sampleSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := normalizeBenchmarkName(fields[0])
		if _, ok := trackedMetrics[name]; !ok {
			continue
		}
		if _, ok := samples[name]; !ok {
			samples[name] = map[string][]float64{}
		}

		// fields[1] is the iteration count; value/unit pairs follow.
		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			samples[name][fields[i+1]] = append(samples[name][fields[i+1]], value)
		}
	}
	return samples, scanner.Err()
}

// normalizeBenchmarkName strips the -GOMAXPROCS suffix.
func normalizeBenchmarkName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
