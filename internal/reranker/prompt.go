package reranker

import (
	"fmt"
	"strings"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// systemPrompt fixes the scoring rubric. The weights and confidence bands
// are part of the contract the validator assumes when coercing responses.
const systemPrompt = `You rank construction pricing-catalog candidates against a work description.

Score each candidate 0-100 using this rubric:
- Operation match (40 pts): the candidate describes the same construction operation (concreting, masonry, demolition, ...).
- Material/object match (30 pts): the same material and structural element (concrete class, brick system, element type).
- Unit fit (20 pts): the measurement unit is appropriate for the work (m3 for volume work, m2 for area work, t for mass, kus for pieces).
- Keyword overlap (10 pts): remaining descriptive terms align.

Confidence bands: high for scores 90 and above, medium for 70-89, low below 70.

Hard rule: if NO candidate scores 50 or more, do not force a pick. Return a single entry with code "UNKNOWN", score 0, confidence "low" and needs_review true instead.

Only use candidate codes from the provided list. Never invent codes.

Respond with ONLY a JSON object:
{"top_candidates":[{"rank":1,"code":"...","score":85,"confidence":"medium","reason":"...","evidence":"...","needs_review":false}],"reasoning":"..."}`

// buildUserPrompt enumerates the candidate set with its catalog fields and
// states how many picks to return.
func buildUserPrompt(subWork domain.SubWork, candidates []domain.Candidate, topN int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Work description: %s\n", subWork.Text)
	fmt.Fprintf(&b, "Operation: %s\n", subWork.Operation)
	if len(subWork.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(subWork.Keywords, ", "))
	}
	fmt.Fprintf(&b, "Return the best %d candidates in rank order.\n\n", topN)

	b.WriteString("Candidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. code=%s name=%s unit=%s", i+1, c.Code, c.Name, c.Unit)
		if c.Snippet != "" {
			fmt.Fprintf(&b, " detail=%s", c.Snippet)
		}
		b.WriteByte('\n')
	}

	return b.String()
}
