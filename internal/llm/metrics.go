package llm

import (
	"bufio"
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// cacheTracker reads prefix-cache counters from a vLLM-style Prometheus
// /metrics endpoint and turns consecutive samples into an incremental
// hit rate. vLLM exposes the counters under a few names across versions,
// so every known pair is probed.
type cacheTracker struct {
	url    string
	client *http.Client

	mu         sync.Mutex
	prevHits   float64
	prevTotal  float64
	hasBase    bool
}

var cacheCounterPairs = [][2]string{
	{"vllm:gpu_prefix_cache_hits_total", "vllm:gpu_prefix_cache_queries_total"},
	{"vllm:prefix_cache_hits_total", "vllm:prefix_cache_queries_total"},
	{"vllm:cache_query_hit_total", "vllm:cache_query_total"},
}

func newCacheTracker(url string) *cacheTracker {
	return &cacheTracker{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// sample scrapes the endpoint and returns the hit rate in percent since
// the previous sample. The first sample only establishes the baseline.
// Scrape failures return nil: cache metrics are best-effort and must
// never fail a chat call.
func (t *cacheTracker) sample(ctx context.Context) *float64 {
	hits, total, ok := t.scrape(ctx)
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasBase {
		t.prevHits, t.prevTotal, t.hasBase = hits, total, true
		return nil
	}
	dHits := hits - t.prevHits
	dTotal := total - t.prevTotal
	t.prevHits, t.prevTotal = hits, total
	if dTotal <= 0 {
		return nil
	}
	rate := dHits / dTotal * 100
	return &rate
}

func (t *cacheTracker) scrape(ctx context.Context) (hits, total float64, ok bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return 0, 0, false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, false
	}

	values := map[string]float64{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, parsed := parseMetricLine(line)
		if parsed {
			values[name] += value
		}
	}

	for _, pair := range cacheCounterPairs {
		h, hok := values[pair[0]]
		q, qok := values[pair[1]]
		if hok && qok {
			return h, q, true
		}
	}
	return 0, 0, false
}

// parseMetricLine handles the Prometheus text format's
// "name{labels} value" lines, summing over label sets via the caller.
func parseMetricLine(line string) (string, float64, bool) {
	sp := strings.LastIndexByte(line, ' ')
	if sp < 0 {
		return "", 0, false
	}
	head, valStr := line[:sp], line[sp+1:]
	if i := strings.IndexByte(head, '{'); i >= 0 {
		head = head[:i]
	}
	v, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return "", 0, false
	}
	return strings.TrimSpace(head), v, true
}
