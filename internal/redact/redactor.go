// Package redact implements the layered PII detection and redaction
// pipeline: a deterministic pattern layer for structured formats, an
// entity-recognition layer for unstructured mentions, and an opt-in
// contextual fallback layer. Non-matched content is preserved verbatim.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Layer identifies which pipeline stage produced a detection.
type Layer string

const (
	LayerRegex    Layer = "regex"
	LayerNER      Layer = "ner"
	LayerFallback Layer = "fallback"
)

// Method selects how matched spans are replaced.
type Method string

const (
	// MethodPlaceholder replaces a span with a stable type-tagged token.
	MethodPlaceholder Method = "placeholder"
	// MethodHash replaces a span with a one-way hash-derived token so
	// repeated entities stay correlatable without exposing plaintext.
	MethodHash Method = "hash"
)

// Detection describes one redacted or suspected span. Spans refer to
// the text as the producing layer saw it; the matched value itself is
// never carried here, detections are metadata only.
type Detection struct {
	Type       string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
	Layer      Layer   `json:"layer"`
}

// Report is the ordered detection list produced alongside redacted text.
type Report struct {
	Detections []Detection `json:"detections"`
}

func (r Report) Count() int { return len(r.Detections) }

// CountByLayer tallies detections per pipeline layer.
func (r Report) CountByLayer(layer Layer) int {
	n := 0
	for _, d := range r.Detections {
		if d.Layer == layer {
			n++
		}
	}
	return n
}

// Config controls pipeline construction. Layer selection happens here,
// once, rather than branching at call sites.
type Config struct {
	Method Method
	// UseNER enables the entity-recognition layer. When the plugged
	// detector is nil the built-in heuristic recognizer is used.
	UseNER bool
	// NERDetector optionally replaces the built-in recognizer.
	NERDetector Detector
	// UseFallback enables the contextual fallback layer.
	UseFallback bool
	// MinConfidence is the lowest confidence that still gets redacted.
	// Lower-confidence detections are reported but left in place.
	MinConfidence float64
	// SafetyConfidence gates the fallback layer: it only runs when the
	// earlier layers produced nothing at or above this confidence.
	SafetyConfidence float64
}

// Redactor applies the configured layers left to right on one text
// buffer. Safe for concurrent use.
type Redactor struct {
	method           Method
	patterns         []pattern
	ner              Detector
	fallback         Detector
	minConfidence    float64
	safetyConfidence float64
}

func New(cfg Config) *Redactor {
	method := cfg.Method
	if method == "" {
		method = MethodPlaceholder
	}
	ner := Detector(noopDetector{})
	if cfg.UseNER {
		ner = cfg.NERDetector
		if ner == nil {
			ner = HeuristicDetector()
		}
	}
	fallback := Detector(noopDetector{})
	if cfg.UseFallback {
		fallback = ContextualDetector()
	}
	minConfidence := cfg.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.6
	}
	safetyConfidence := cfg.SafetyConfidence
	if safetyConfidence <= 0 {
		safetyConfidence = 0.6
	}
	return &Redactor{
		method:           method,
		patterns:         defaultPatterns(),
		ner:              ner,
		fallback:         fallback,
		minConfidence:    minConfidence,
		safetyConfidence: safetyConfidence,
	}
}

// Redact runs the pipeline and returns the redacted text plus the
// detection report. Everything outside matched spans is preserved
// byte for byte.
func (r *Redactor) Redact(text string) (string, Report) {
	var report Report

	// Layer 1: structured patterns.
	out := text
	for _, p := range r.patterns {
		var entities []Entity
		for _, loc := range p.re.FindAllStringIndex(out, -1) {
			entities = append(entities, Entity{Type: p.entityType, Start: loc[0], End: loc[1], Confidence: p.confidence})
		}
		out = r.apply(out, entities, LayerRegex, &report)
	}

	// Layer 2: entity recognition over the already-sanitized text so
	// placeholder tokens are never re-detected.
	nerEntities := r.ner.Detect(out)
	out = r.apply(out, nerEntities, LayerNER, &report)

	// Layer 3: contextual fallback, only when the earlier layers left
	// the text below the safety confidence.
	if r.needsFallback(report) {
		out = r.apply(out, r.fallback.Detect(out), LayerFallback, &report)
	}

	return out, report
}

func (r *Redactor) needsFallback(report Report) bool {
	if _, ok := r.fallback.(noopDetector); ok {
		return false
	}
	for _, d := range report.Detections {
		if d.Confidence >= r.safetyConfidence {
			return false
		}
	}
	return true
}

// apply replaces entities right to left so earlier spans keep their
// offsets; overlapping or sub-threshold entities are reported only.
func (r *Redactor) apply(text string, entities []Entity, layer Layer, report *Report) string {
	if len(entities) == 0 {
		return text
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Start != entities[j].Start {
			return entities[i].Start < entities[j].Start
		}
		// Longer span first so the filter keeps the whole mention.
		return entities[i].End > entities[j].End
	})

	kept := entities[:0]
	lastEnd := -1
	for _, e := range entities {
		if e.Start < lastEnd || e.End > len(text) || e.Start >= e.End {
			continue
		}
		kept = append(kept, e)
		lastEnd = e.End
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, e := range kept {
		report.Detections = append(report.Detections, Detection{
			Type:       e.Type,
			Start:      e.Start,
			End:        e.End,
			Confidence: e.Confidence,
			Layer:      layer,
		})
		if e.Confidence < r.minConfidence {
			continue
		}
		b.WriteString(text[prev:e.Start])
		b.WriteString(r.token(e.Type, text[e.Start:e.End]))
		prev = e.End
	}
	b.WriteString(text[prev:])
	return b.String()
}

func (r *Redactor) token(entityType, value string) string {
	if r.method == MethodHash {
		sum := sha256.Sum256([]byte(value))
		return fmt.Sprintf("[%s_%s]", entityType, hex.EncodeToString(sum[:4]))
	}
	return fmt.Sprintf("[REDACTED_%s]", entityType)
}

// IsTextSafeForStorage detects without redacting and reports whether
// the text can be persisted: false when any layer still finds an
// entity at or above the given confidence threshold.
func (r *Redactor) IsTextSafeForStorage(text string, confidenceThreshold float64) bool {
	if confidenceThreshold <= 0 {
		confidenceThreshold = r.minConfidence
	}
	for _, p := range r.patterns {
		if p.confidence >= confidenceThreshold && p.re.MatchString(text) {
			return false
		}
	}
	for _, e := range r.ner.Detect(text) {
		if e.Confidence >= confidenceThreshold {
			return false
		}
	}
	for _, e := range r.fallback.Detect(text) {
		if e.Confidence >= confidenceThreshold {
			return false
		}
	}
	return true
}
