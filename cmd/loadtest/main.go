// Command loadtest drives the token lookup service with a mix of id, range
// and parent lookups and reports latency percentiles per lookup kind.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Docs        int
	DocPrefix   string
	Field       string
	MaxToken    int
}

// kindStats collects the results of one lookup kind.
type kindStats struct {
	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int
	failures  int
}

func (s *kindStats) record(d time.Duration, code int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures++
		return
	}
	s.latencies = append(s.latencies, d)
	s.codes[code]++
}

type Stats struct {
	kinds map[string]*kindStats
}

func NewStats(kinds ...string) *Stats {
	s := &Stats{kinds: make(map[string]*kindStats, len(kinds))}
	for _, k := range kinds {
		s.kinds[k] = &kindStats{codes: make(map[int]int)}
	}
	return s
}

var kinds = []string{"id", "range", "parent"}

// target returns the lookup URL of request n.
func target(cfg Config, n int) (string, string) {
	kind := kinds[n%len(kinds)]
	doc := url.PathEscape(fmt.Sprintf("%s%d", cfg.DocPrefix, (n/len(kinds))%cfg.Docs))
	base := fmt.Sprintf("%s/api/v1/tokens/%s/%s", cfg.BaseURL, doc, url.PathEscape(cfg.Field))
	tok := n % (cfg.MaxToken + 1)
	switch kind {
	case "id":
		return kind, fmt.Sprintf("%s/%d", base, tok)
	case "range":
		return kind, fmt.Sprintf("%s?from=%d&to=%d", base, tok, tok+3)
	default:
		return kind, fmt.Sprintf("%s?parent=%d", base, tok)
	}
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "base URL of the lookup service")
	flag.IntVar(&cfg.Concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.IntVar(&cfg.Docs, "docs", 1000, "number of document ids to spread lookups over")
	flag.StringVar(&cfg.DocPrefix, "doc-prefix", "doc-", "document id prefix, followed by 0..docs-1")
	flag.StringVar(&cfg.Field, "field", "body", "field to look up")
	flag.IntVar(&cfg.MaxToken, "max-token", 20, "highest token id and position to ask for")
	flag.Parse()
	if cfg.Docs <= 0 || cfg.Concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "docs and concurrency must be positive")
		os.Exit(2)
	}

	fmt.Println("=== Forward Index Lookup Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Documents:   %d (%s0..)\n", cfg.Docs, cfg.DocPrefix)
	fmt.Println()

	stats := runLoadTest(cfg)
	if !printReport(stats, cfg.Duration) {
		os.Exit(1)
	}
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats(kinds...)
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for n := w; ctx.Err() == nil; n += cfg.Concurrency {
				kind, u := target(cfg, n)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
				if err != nil {
					return fmt.Errorf("building request %s: %w", u, err)
				}
				start := time.Now()
				resp, err := client.Do(req)
				d := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.kinds[kind].record(d, 0, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.kinds[kind].record(d, resp.StatusCode, nil)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return stats
}

// printReport prints per-kind results and reports whether any request
// completed.
func printReport(stats *Stats, duration time.Duration) bool {
	var total int
	for _, kind := range kinds {
		s := stats.kinds[kind]
		s.mu.Lock()
		latencies := append([]time.Duration(nil), s.latencies...)
		codes := s.codes
		failures := s.failures
		s.mu.Unlock()

		n := len(latencies) + failures
		total += len(latencies)
		fmt.Printf("=== %s lookups ===\n", kind)
		fmt.Printf("Requests:     %d (%.1f/s)\n", n, float64(n)/duration.Seconds())
		fmt.Printf("Transport errors: %d\n", failures)
		if len(latencies) == 0 {
			fmt.Println()
			continue
		}
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Printf("Latency:      min %s avg %s p50 %s p95 %s p99 %s max %s\n",
			latencies[0],
			sum/time.Duration(len(latencies)),
			percentile(latencies, 50),
			percentile(latencies, 95),
			percentile(latencies, 99),
			latencies[len(latencies)-1],
		)
		statuses := make([]int, 0, len(codes))
		for code := range codes {
			statuses = append(statuses, code)
		}
		sort.Ints(statuses)
		for _, code := range statuses {
			fmt.Printf("  %d: %d\n", code, codes[code])
		}
		fmt.Println()
	}
	if total == 0 {
		fmt.Println("WARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
