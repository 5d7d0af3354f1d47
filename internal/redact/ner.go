package redact

import (
	"regexp"
	"strings"
)

// Entity type names produced by the entity-recognition and fallback layers.
const (
	TypePerson       = "PERSON"
	TypeOrganization = "ORG"
	TypeLocation     = "LOCATION"
	TypeDate         = "DATE"
	TypeContextual   = "CONTEXTUAL"
)

// Entity is a detected span in the text a detector was given.
type Entity struct {
	Type       string
	Start      int
	End        int
	Confidence float64
}

// Detector recognizes unstructured PII mentions. Implementations must
// be safe for concurrent use.
type Detector interface {
	Detect(text string) []Entity
}

// noopDetector substitutes for a disabled or unavailable model.
type noopDetector struct{}

func (noopDetector) Detect(string) []Entity { return nil }

// NoopDetector returns a pass-through detector.
func NoopDetector() Detector { return noopDetector{} }

// heuristicDetector is the model-free entity recognizer used when no
// statistical model is plugged in. It works on capitalized-word runs
// and a handful of contextual rules; precision over recall.
type heuristicDetector struct{}

// HeuristicDetector returns the built-in rule-based entity recognizer.
func HeuristicDetector() Detector { return heuristicDetector{} }

var (
	capitalRunPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:[ ][A-Z][a-z]+)+\b`)
	orgPattern        = regexp.MustCompile(`\b[A-Z][A-Za-z]*(?:[ ][A-Z][A-Za-z]*)*[ ](?:GmbH|AG|LLC|Ltd|Inc|SA|Corp|Co|Group)\b`)
	honorificPattern  = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?[ ][A-Z][a-z]+(?:[ ][A-Z][a-z]+)?\b`)
	numericDate       = regexp.MustCompile(`\b\d{1,2}[./]\d{1,2}[./]\d{2,4}\b`)
	monthDate         = regexp.MustCompile(`\b(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)[ ]\d{1,2}(?:,[ ]?\d{4})?\b`)
)

// leadingStopwords are common sentence openers that precede a name but
// are not part of it ("Contact John Smith", "Call Jane Doe").
var leadingStopwords = map[string]bool{
	"Contact": true, "Call": true, "Email": true, "Meet": true,
	"Dear": true, "Hello": true, "Hi": true, "Thanks": true,
	"Please": true, "Ask": true, "Tell": true, "The": true,
	"From": true, "With": true, "Regards": true,
}

var orgSuffixes = map[string]bool{
	"Inc": true, "Ltd": true, "LLC": true, "GmbH": true,
	"AG": true, "SA": true, "Corp": true, "Co": true, "Group": true,
}

var locationPrepositions = map[string]bool{
	"in": true, "at": true, "from": true, "near": true, "to": true,
}

func (heuristicDetector) Detect(text string) []Entity {
	var out []Entity

	for _, loc := range honorificPattern.FindAllStringIndex(text, -1) {
		out = append(out, Entity{Type: TypePerson, Start: loc[0], End: loc[1], Confidence: 0.85})
	}

	for _, loc := range orgPattern.FindAllStringIndex(text, -1) {
		out = append(out, Entity{Type: TypeOrganization, Start: loc[0], End: loc[1], Confidence: 0.75})
	}

	for _, loc := range capitalRunPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		run := text[start:end]

		// Trim sentence-opening words that just happen to be capitalized.
		words := strings.Split(run, " ")
		for len(words) > 1 && leadingStopwords[words[0]] {
			start += len(words[0]) + 1
			words = words[1:]
		}
		if len(words) < 2 {
			continue
		}

		switch {
		case orgSuffixes[words[len(words)-1]]:
			out = append(out, Entity{Type: TypeOrganization, Start: start, End: end, Confidence: 0.75})
		case precededByPreposition(text, start):
			out = append(out, Entity{Type: TypeLocation, Start: start, End: end, Confidence: 0.55})
		default:
			out = append(out, Entity{Type: TypePerson, Start: start, End: end, Confidence: 0.65})
		}
	}

	for _, re := range []*regexp.Regexp{numericDate, monthDate} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			// Dates are often business content; report at low confidence
			// so the default threshold leaves them in place.
			out = append(out, Entity{Type: TypeDate, Start: loc[0], End: loc[1], Confidence: 0.5})
		}
	}

	return out
}

func precededByPreposition(text string, start int) bool {
	head := strings.TrimRight(text[:start], " ")
	idx := strings.LastIndexAny(head, " \n\t")
	word := head
	if idx >= 0 {
		word = head[idx+1:]
	}
	return locationPrepositions[strings.ToLower(word)]
}

// contextualDetector is the opt-in fallback layer: it keys off cue
// phrases that introduce ambiguous PII the earlier layers miss.
type contextualDetector struct{}

// ContextualDetector returns the fallback-layer detector.
func ContextualDetector() Detector { return contextualDetector{} }

var cuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:my name is|this is|i am|i'm)[ ]+([A-Za-z]+(?:[ ][A-Za-z]+)?)`),
	regexp.MustCompile(`(?i)\b(?:i live (?:at|in|on)|my address is|deliver to)[ ]+([^.,;\n]{3,60})`),
	regexp.MustCompile(`(?i)\b(?:account holder|beneficiary|policyholder)(?:[ ]name)?(?:[ ]is|:)[ ]+([A-Za-z]+(?:[ ][A-Za-z]+)?)`),
}

func (contextualDetector) Detect(text string) []Entity {
	var out []Entity
	for _, re := range cuePatterns {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			// Group 1 holds the introduced value; the cue itself stays.
			if len(loc) < 4 || loc[2] < 0 {
				continue
			}
			out = append(out, Entity{Type: TypeContextual, Start: loc[2], End: loc[3], Confidence: 0.7})
		}
	}
	return out
}
