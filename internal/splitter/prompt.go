package splitter

import (
	"fmt"
	"strings"

	"github.com/stavmatch/boq-matching-service/internal/normalizer"
)

// systemPrompt fixes the decision framework for the classification service.
// The response contract is strict JSON; anything outside it is repaired or
// discarded by the caller.
const systemPrompt = `You classify Czech construction bill-of-quantities (BOQ) line items for catalog matching.

Decide whether a line describes ONE atomic work item (SINGLE) or SEVERAL distinct works bundled together (COMPOSITE), and decompose composites into separately searchable subworks.

Decision framework:
1. Signal words imply COMPOSITE: "vč." / "včetně" (including), "+" joining two works, "dodávka a montáž" (supply and install), "komplet" / "na klíč" (turnkey), transport or disposal folded into another work, chains of distinct operations.
2. Hidden works: concreting lines often hide formwork and reinforcement; demolition lines often hide debris removal and disposal. Split these out ONLY when the line text itself mentions them.
3. Do NOT over-split: material specifications (concrete class, brick format, dimensions, steel grade) are attributes of one work, never separate subworks. A single work with a detailed description is still SINGLE.
4. If the text is too vague or contradictory to decide, use UNKNOWN with a single subwork covering the whole line.

Each subwork needs: a search-ready Czech text (self-contained, no references to the other subworks), an operation from this exact list: concreting, masonry, reinforcing, formwork, excavation, demolition, transport, disposal, insulation, plastering, paving, installation, other, and 2-5 search keywords.

Examples:
Input: "Beton C 25/30 vč. doprava do 10km"
Output: {"detected_type":"COMPOSITE","sub_works":[{"index":1,"text":"betonáž z betonu C 25/30","operation":"concreting","keywords":["beton","C 25/30"]},{"index":2,"text":"doprava betonu do 10 km","operation":"transport","keywords":["doprava","beton","10 km"]}],"reasoning":"inclusion phrase bundles transport with concreting","confidence":"high"}

Input: "Zdivo nosné Porotherm 30 P+D na maltu"
Output: {"detected_type":"SINGLE","sub_works":[{"index":1,"text":"zdivo nosné Porotherm 30","operation":"masonry","keywords":["zdivo","porotherm","nosné"]}],"reasoning":"one masonry work; format and mortar are attributes","confidence":"high"}

Respond with ONLY a JSON object:
{"detected_type":"SINGLE|COMPOSITE|UNKNOWN","sub_works":[{"index":1,"text":"...","operation":"...","keywords":["..."]}],"reasoning":"...","confidence":"high|medium|low"}`

// buildUserPrompt embeds the normalized text, its extracted features and
// detected markers, and any structural context from the source spreadsheet.
func buildUserPrompt(norm normalizer.Result, maxSubWorks int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Line text: %s\n", norm.NormalizedText)
	fmt.Fprintf(&b, "Maximum subworks: %d\n", maxSubWorks)

	if features := formatFeatures(norm); features != "" {
		fmt.Fprintf(&b, "Extracted features: %s\n", features)
	}

	if markers := norm.Markers.List(); len(markers) > 0 {
		fmt.Fprintf(&b, "Composite markers detected (weak signals only): %s\n", strings.Join(markers, ", "))
	}

	if norm.Context != nil {
		if norm.Context.ParentText != "" {
			fmt.Fprintf(&b, "Section heading: %s\n", norm.Context.ParentText)
		}
		if len(norm.Context.SiblingText) > 0 {
			fmt.Fprintf(&b, "Neighbouring lines: %s\n", strings.Join(norm.Context.SiblingText, " | "))
		}
	}

	return b.String()
}

func formatFeatures(norm normalizer.Result) string {
	var parts []string
	f := norm.Features

	if f.Operation != "" {
		parts = append(parts, "operation="+string(f.Operation))
	}
	if f.Material != "" {
		parts = append(parts, "material="+f.Material)
	}
	if f.StructuralObject != "" {
		parts = append(parts, "object="+f.StructuralObject)
	}
	if f.ConcreteClass != "" {
		parts = append(parts, "concrete_class="+f.ConcreteClass)
	}
	if f.Dimension != "" {
		parts = append(parts, "dimension="+f.Dimension)
	}
	if f.ReinforcementGrade != "" {
		parts = append(parts, "reinforcement="+f.ReinforcementGrade)
	}
	if f.AggregateFraction != "" {
		parts = append(parts, "aggregate="+f.AggregateFraction)
	}
	if f.TransportDistance != "" {
		parts = append(parts, "transport_distance="+f.TransportDistance)
	}
	if f.CategoryCode != "" {
		parts = append(parts, "category_code="+f.CategoryCode)
	}

	return strings.Join(parts, ", ")
}
