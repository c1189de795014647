package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Send a mix of geocoding requests to a running server and report latencies",
	Args:  cobra.NoArgs,
	// Does not need the config file.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              runLoadtest,
}

func init() {
	loadtestCmd.Flags().String("url", "http://localhost:2322", "base URL of the geocoder")
	loadtestCmd.Flags().Int("concurrency", 10, "number of concurrent workers")
	loadtestCmd.Flags().Duration("duration", 30*time.Second, "test duration")
	rootCmd.AddCommand(loadtestCmd)
}

// loadRequests is the request mix. Prefixes exercise the search-as-you-type
// path, the reverse requests exercise the spatial path.
var loadRequests = []string{
	"/api?q=berlin",
	"/api?q=ber",
	"/api?q=hauptstra%C3%9Fe+5+berlin",
	"/api?q=paris&lang=fr",
	"/api?q=london&limit=5",
	"/api?q=m%C3%BCnchen+hbf&osm_tag=railway",
	"/api?q=pizza&lat=52.52&lon=13.40",
	"/api?q=rome&layer=city",
	"/structured?city=Berlin&street=Unter+den+Linden",
	"/structured?countrycode=fr&city=Lyon",
	"/reverse?lat=52.5170&lon=13.3888",
	"/reverse?lat=48.8566&lon=2.3522&limit=3",
	"/reverse?lat=51.5072&lon=-0.1276&radius=1",
}

type loadStats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64
	empty     atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, code int, body []byte, cache string, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if code >= 200 && code < 300 {
		s.success.Add(1)
		if gjson.GetBytes(body, "features.#").Int() == 0 {
			s.empty.Add(1)
		}
	} else {
		s.errors.Add(1)
	}
	if cache == "hit" {
		s.cacheHits.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[code]++
	s.mu.Unlock()
}

func runLoadtest(cmd *cobra.Command, args []string) error {
	baseURL, _ := cmd.Flags().GetString("url")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	duration, _ := cmd.Flags().GetDuration("duration")
	if concurrency < 1 {
		concurrency = 1
	}
	if _, err := url.Parse(baseURL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=== Geocoder Load Test ===")
	fmt.Fprintf(out, "Target:      %s\n", baseURL)
	fmt.Fprintf(out, "Concurrency: %d\n", concurrency)
	fmt.Fprintf(out, "Duration:    %s\n", duration)
	fmt.Fprintf(out, "Requests:    %d in mix\n\n", len(loadRequests))

	stats := generateLoad(cmd.Context(), baseURL, concurrency, duration)
	printLoadReport(out, stats, duration)
	if stats.total.Load() == 0 {
		return fmt.Errorf("no requests completed, is the server running at %s?", baseURL)
	}
	return nil
}

func generateLoad(ctx context.Context, baseURL string, concurrency int, duration time.Duration) *loadStats {
	stats := newLoadStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	p := pool.New().WithMaxGoroutines(concurrency)
	for w := 0; w < concurrency; w++ {
		p.Go(func() {
			for i := w; ctx.Err() == nil; i++ {
				target := baseURL + loadRequests[i%len(loadRequests)]
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					stats.record(0, 0, nil, "", err)
					return
				}
				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						stats.record(time.Since(start), 0, nil, "", err)
					}
					continue
				}
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				stats.record(time.Since(start), resp.StatusCode, body, resp.Header.Get("X-Cache"), nil)
			}
		})
	}
	p.Wait()
	return stats
}

func printLoadReport(out io.Writer, s *loadStats, duration time.Duration) {
	total := s.total.Load()
	fmt.Fprintln(out, "=== Results ===")
	fmt.Fprintf(out, "Total Requests:  %s\n", humanize.Comma(total))
	fmt.Fprintf(out, "Successful:      %s\n", humanize.Comma(s.success.Load()))
	fmt.Fprintf(out, "Errors:          %s\n", humanize.Comma(s.errors.Load()))
	fmt.Fprintf(out, "Empty Results:   %s\n", humanize.Comma(s.empty.Load()))
	fmt.Fprintf(out, "Cache Hits:      %s\n", humanize.Comma(s.cacheHits.Load()))
	if total > 0 {
		fmt.Fprintf(out, "Error Rate:      %.2f%%\n", float64(s.errors.Load())/float64(total)*100)
		fmt.Fprintf(out, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := append([]time.Duration(nil), s.latencies...)
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sq float64
		for _, l := range latencies {
			diff := float64(l - avg)
			sq += diff * diff
		}

		fmt.Fprintln(out, "\n=== Latency ===")
		fmt.Fprintf(out, "Min:    %s\n", latencies[0])
		fmt.Fprintf(out, "Avg:    %s\n", avg)
		fmt.Fprintf(out, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(out, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(out, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(out, "Max:    %s\n", latencies[len(latencies)-1])
		fmt.Fprintf(out, "StdDev: %s\n", time.Duration(math.Sqrt(sq/float64(len(latencies)))))
	}

	sort.Ints(codes)
	fmt.Fprintln(out, "\n=== Status Codes ===")
	s.mu.Lock()
	for _, code := range codes {
		fmt.Fprintf(out, "  %d: %d\n", code, s.codes[code])
	}
	s.mu.Unlock()
}

// percentile returns the p-th percentile of an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
