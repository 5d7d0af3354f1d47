package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Operation names observed on the latency window.
const (
	OpBufferRead     = "buffer_read"
	OpBufferWrite    = "buffer_write"
	OpSummaryRead    = "summary_read"
	OpSummaryWrite   = "summary_write"
	OpSummarize      = "summarize"
	OpPackageContext = "package_context"
)

type OpLatencyStats struct {
	Op          string  `json:"op"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type OpIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type OpLatencySnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Ops         []OpLatencyStats `json:"ops"`
	Indicators  []OpIndicator    `json:"indicators,omitempty"`
}

type opLatencyWindow struct {
	mu         sync.RWMutex
	maxSamples int
	ops        map[string]*opLatencyBuffer
	indicators map[string]int
}

type opLatencyBuffer struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newOpLatencyWindow(maxSamples int) *opLatencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &opLatencyWindow{
		maxSamples: maxSamples,
		ops:        make(map[string]*opLatencyBuffer),
		indicators: make(map[string]int),
	}
}

func (w *opLatencyWindow) Observe(op string, ms float64) {
	if op == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.ops[op]
	if !ok {
		buf = &opLatencyBuffer{
			values: make([]float64, w.maxSamples),
		}
		w.ops[op] = buf
	}
	buf.values[buf.next] = ms
	buf.last = ms
	buf.next++
	if buf.next >= len(buf.values) {
		buf.next = 0
		buf.filled = true
	}
}

func (w *opLatencyWindow) Snapshot() OpLatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ops := make([]OpLatencyStats, 0, len(w.ops))
	keys := make([]string, 0, len(w.ops))
	for op := range w.ops {
		keys = append(keys, op)
	}
	sort.Strings(keys)

	for _, op := range keys {
		buf := w.ops[op]
		if buf == nil {
			continue
		}
		n := buf.next
		if buf.filled {
			n = len(buf.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, buf.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}

		ops = append(ops, OpLatencyStats{
			Op:          op,
			Samples:     n,
			LastMS:      round2(buf.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: opTargetP95MS(op),
		})
	}

	indicators := make([]OpIndicator, 0, len(w.indicators))
	indicatorKeys := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		indicatorKeys = append(indicatorKeys, name)
	}
	sort.Strings(indicatorKeys)
	for _, name := range indicatorKeys {
		count := w.indicators[name]
		if count <= 0 {
			continue
		}
		indicators = append(indicators, OpIndicator{
			Name:  name,
			Count: count,
		})
	}

	return OpLatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Ops:         ops,
		Indicators:  indicators,
	}
}

func (w *opLatencyWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *opLatencyWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ops = make(map[string]*opLatencyBuffer)
	w.indicators = make(map[string]int)
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func opTargetP95MS(op string) float64 {
	switch op {
	case OpBufferRead, OpSummaryRead:
		return 50
	case OpBufferWrite:
		return 80
	case OpSummaryWrite:
		return 150
	case OpPackageContext:
		return 120
	case OpSummarize:
		return 20000
	default:
		return 0
	}
}
