// Package normalizer implements deterministic cleanup and feature extraction
// for BOQ line text. Normalization is a pure function: no I/O, no randomness,
// and a stable fixed point (normalizing already-normalized text is a no-op).
//
// The extracted features and composite markers feed the downstream splitter
// prompt as weak signals. They never decide anything on their own.
package normalizer

import (
	"regexp"
	"strings"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// Features holds the regex-extracted attributes of a BOQ line. Empty string
// means the category did not match. First match wins per category.
type Features struct {
	// ConcreteClass is the strength class, e.g. "C 25/30".
	ConcreteClass string `json:"concrete_class,omitempty"`

	// Dimension is a linear dimension with its unit, e.g. "tl. 200 mm".
	Dimension string `json:"dimension,omitempty"`

	// CategoryCode is a catalog-style numeric code found in the text.
	CategoryCode string `json:"category_code,omitempty"`

	// AggregateFraction is a sieve fraction, e.g. "8/16".
	AggregateFraction string `json:"aggregate_fraction,omitempty"`

	// ReinforcementGrade is a steel grade, e.g. "B500B".
	ReinforcementGrade string `json:"reinforcement_grade,omitempty"`

	// TransportDistance is a haul distance, e.g. "do 10 km".
	TransportDistance string `json:"transport_distance,omitempty"`

	// Operation is the first matching construction operation.
	Operation domain.Operation `json:"operation"`

	// Material is the first matching material keyword class.
	Material string `json:"material,omitempty"`

	// StructuralObject is the first matching structural element class.
	StructuralObject string `json:"structural_object,omitempty"`
}

// Markers records the linguistic composite-work signals found in a line.
// They are accumulated into a list for the splitter prompt; none of them is
// a decision by itself.
type Markers struct {
	// Inclusion is set by inclusion phrases such as "vč." or "včetně".
	Inclusion bool `json:"inclusion,omitempty"`

	// PlusConcatenation is set by "+" joining two work descriptions.
	PlusConcatenation bool `json:"plus_concatenation,omitempty"`

	// SupplyInstall is set by supply-and-install phrasing ("dodávka a montáž").
	SupplyInstall bool `json:"supply_install,omitempty"`

	// Complete is set by complete/turnkey phrasing ("komplet", "na klíč").
	Complete bool `json:"complete,omitempty"`

	// TransportDisposal is set when transport or disposal is folded into the line.
	TransportDisposal bool `json:"transport_disposal,omitempty"`

	// ChainedOperations is set when two or more distinct operations appear.
	ChainedOperations bool `json:"chained_operations,omitempty"`
}

// List returns the names of all detected markers in a fixed order.
func (m Markers) List() []string {
	var out []string
	if m.Inclusion {
		out = append(out, "inclusion_phrase")
	}
	if m.PlusConcatenation {
		out = append(out, "plus_concatenation")
	}
	if m.SupplyInstall {
		out = append(out, "supply_install")
	}
	if m.Complete {
		out = append(out, "complete_work")
	}
	if m.TransportDisposal {
		out = append(out, "transport_disposal")
	}
	if m.ChainedOperations {
		out = append(out, "chained_operations")
	}
	return out
}

// Any reports whether at least one marker was detected.
func (m Markers) Any() bool {
	return m.Inclusion || m.PlusConcatenation || m.SupplyInstall ||
		m.Complete || m.TransportDisposal || m.ChainedOperations
}

// Result is the output of Normalize.
type Result struct {
	// NormalizedText is the cleaned line text.
	NormalizedText string `json:"normalized_text"`

	// Features are the extracted attributes.
	Features Features `json:"features"`

	// Markers are the detected composite-work signals.
	Markers Markers `json:"markers"`

	// Context is the structured context passed through unchanged.
	Context *domain.ItemContext `json:"context,omitempty"`
}

// Keywords returns the salient search terms derived from the extracted
// features, in a stable order. Used by the splitter fallback when the
// classification service is unavailable.
func (r Result) Keywords() []string {
	var out []string
	if r.Features.Material != "" {
		out = append(out, r.Features.Material)
	}
	if r.Features.StructuralObject != "" {
		out = append(out, r.Features.StructuralObject)
	}
	if r.Features.ConcreteClass != "" {
		out = append(out, r.Features.ConcreteClass)
	}
	if r.Features.ReinforcementGrade != "" {
		out = append(out, r.Features.ReinforcementGrade)
	}
	if r.Features.Dimension != "" {
		out = append(out, r.Features.Dimension)
	}
	return out
}

var (
	// Drawing and documentation references carry no catalog signal.
	drawingRefRe = regexp.MustCompile(`(?i)(?:viz\.?\s*)?(?:výkres\w*|výkr\.|schéma|detail)\s*(?:č\.?\s*)?[A-Za-z0-9][A-Za-z0-9.\-/]*`)
	docRefRe     = regexp.MustCompile(`(?i)\bdle\s+(?:PD|projektové dokumentace|projektu)\b`)

	multiSpaceRe = regexp.MustCompile(`\s+`)
	dupPunctRe   = regexp.MustCompile(`([,;:])\s*[,;:]+`)
	spacePunctRe = regexp.MustCompile(`\s+([,;:.])`)

	concreteClassRe = regexp.MustCompile(`(?i)\bC\s?\d{2}/\d{2,3}(?:\s?X[A-Z]\d)?`)
	dimensionRe     = regexp.MustCompile(`(?i)(?:tl\.?|tloušťk\w*|ø|Ø|DN|šíř\w*|výšk\w*)\s?\d+(?:[.,]\d+)?\s?(?:mm|cm|m)\b`)
	categoryCodeRe  = regexp.MustCompile(`\b\d{3}[\s-]?\d{2}[\s-]?\d{4}\b`)
	aggregateRe     = regexp.MustCompile(`(?i)\bfrakce?\s*\d{1,2}\s*[/-]\s*\d{1,3}\b`)
	reinforcementRe = regexp.MustCompile(`(?i)\bB\s?500\s?[ABC]?\b|\b10\s?505\b|\bKARI\b`)
	transportDistRe = regexp.MustCompile(`(?i)\bdo\s+\d+(?:[.,]\d+)?\s*km\b`)
	plusConcatRe    = regexp.MustCompile(`\S\s*\+\s*\S`)
	supplyInstallRe = regexp.MustCompile(`(?i)dodávk\w*\s*(?:a|vč\.?|včetně|,)\s*montáž\w*|\bD\s*\+\s*M\b`)
	// \b is ASCII-only in Go regexps, so markers ending in diacritics
	// anchor on whitespace instead of word boundaries.
	completeWorkRe  = regexp.MustCompile(`(?i)komplet|na klíč|úplné provedení`)
	inclusionRe     = regexp.MustCompile(`(?i)(?:^|\s)(?:vč\.?|včetně)(?:\s|$)`)
	transportInclRe = regexp.MustCompile(`(?i)\bdoprav\w*\b|\bodvoz\w*\b|\bpřesun hmot\b|\blikvidac\w*\b|\bskládk\w*\b`)
	boundaryTrimSet = " \t-–—()[]{},;:"
)

// Normalize cleans up a raw BOQ line and extracts features and composite
// markers. It is deterministic and idempotent: normalizing the returned
// NormalizedText again yields the same text.
//
// The context, when present, is passed through unchanged so downstream
// prompts can reference parent and sibling lines.
func Normalize(originalText string, context *domain.ItemContext) Result {
	text := cleanText(originalText)

	return Result{
		NormalizedText: text,
		Features:       extractFeatures(text),
		Markers:        detectMarkers(text),
		Context:        context,
	}
}

// cleanText strips noise tokens and collapses whitespace and punctuation.
// Every individual step is idempotent, so the composition is too.
func cleanText(s string) string {
	s = drawingRefRe.ReplaceAllString(s, " ")
	s = docRefRe.ReplaceAllString(s, " ")
	s = dupPunctRe.ReplaceAllString(s, "$1")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = spacePunctRe.ReplaceAllString(s, "$1")
	s = strings.Trim(s, boundaryTrimSet)
	return s
}

// extractFeatures runs the per-category regexes and keyword classifiers.
// First match wins per category.
func extractFeatures(text string) Features {
	lower := strings.ToLower(text)

	f := Features{
		ConcreteClass:      concreteClassRe.FindString(text),
		Dimension:          dimensionRe.FindString(text),
		CategoryCode:       categoryCodeRe.FindString(text),
		AggregateFraction:  aggregateRe.FindString(text),
		ReinforcementGrade: reinforcementRe.FindString(text),
		TransportDistance:  transportDistRe.FindString(text),
		Operation:          classifyOperation(lower),
		Material:           classifyMaterial(lower),
		StructuralObject:   classifyStructuralObject(lower),
	}
	return f
}

// classifyOperation returns the first operation whose keyword list matches,
// scanning in the fixed dictionary order. Defaults to OperationOther.
func classifyOperation(lower string) domain.Operation {
	for _, op := range operationScanOrder {
		for _, kw := range operationKeywords[op] {
			if strings.Contains(lower, kw) {
				return op
			}
		}
	}
	return domain.OperationOther
}

func classifyMaterial(lower string) string {
	for _, entry := range materialKeywords {
		for _, term := range entry.Terms {
			if strings.Contains(lower, term) {
				return entry.Material
			}
		}
	}
	return ""
}

func classifyStructuralObject(lower string) string {
	for _, entry := range structuralObjectKeywords {
		for _, term := range entry.Terms {
			if strings.Contains(lower, term) {
				return entry.Object
			}
		}
	}
	return ""
}

// detectMarkers flags the composite-work signals present in the text.
func detectMarkers(text string) Markers {
	m := Markers{
		Inclusion:         inclusionRe.MatchString(text),
		PlusConcatenation: plusConcatRe.MatchString(text),
		SupplyInstall:     supplyInstallRe.MatchString(text),
		Complete:          completeWorkRe.MatchString(text),
		TransportDisposal: transportInclRe.MatchString(text),
	}
	m.ChainedOperations = countDistinctOperations(strings.ToLower(text)) >= 2
	return m
}

// countDistinctOperations counts how many distinct operations have at least
// one keyword present in the text.
func countDistinctOperations(lower string) int {
	count := 0
	for _, op := range operationScanOrder {
		for _, kw := range operationKeywords[op] {
			if strings.Contains(lower, kw) {
				count++
				break
			}
		}
	}
	return count
}
