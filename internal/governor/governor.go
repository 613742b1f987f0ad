// Package governor classifies free-text queries into a retrieval
// strategy before any source is consulted.
package governor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xiy/memgraph-mcp/pkg/types"
)

type indicator struct {
	phrase string
	weight int
}

// Weighted indicator lists per intent. Multi-word phrases match as
// substrings of the folded query; strong causal markers carry weight 2
// so a single "why" is enough to pick the multi-hop path.
var (
	multiHopIndicators = []indicator{
		{"why", 2}, {"because", 2}, {"led to", 2}, {"caused", 2},
		{"root cause", 2}, {"resulted in", 2}, {"due to", 1},
		{"history of", 1}, {"chain of", 1}, {"reason for", 2},
		{"originally", 1}, {"came from", 1}, {"evolved", 1}, {"trace", 1},
	}
	temporalIndicators = []indicator{
		{"when", 1}, {"yesterday", 1}, {"today", 1}, {"last week", 1},
		{"last month", 1}, {"recently", 1}, {"before", 1}, {"after", 1},
		{"during", 1}, {"timeline", 2}, {"ago", 1}, {"since", 1}, {"changed", 1},
	}
	relationalIndicators = []indicator{
		{"related", 1}, {"connected", 1}, {"linked", 1}, {"depends on", 1},
		{"similar to", 1}, {"associated", 1}, {"relationship", 1}, {"between", 1},
	}
)

const maxConfidence = 0.95

// Classify maps a query onto an action, a traversal depth and a
// confidence. Multi-hop is checked first on purpose: an ambiguous query
// leans toward the richer traversal rather than missing a chain.
func Classify(query string) types.QueryPlan {
	folded := " " + strings.ToLower(strings.Join(strings.Fields(query), " ")) + " "

	multiHop, multiHits := score(folded, multiHopIndicators)
	temporal, temporalHits := score(folded, temporalIndicators)
	relational, relationalHits := score(folded, relationalIndicators)

	switch {
	case multiHop >= 2 || (multiHop >= 1 && relational >= 1):
		maxHops := 2 + multiHop
		if maxHops > 5 {
			maxHops = 5
		}
		return types.QueryPlan{
			Action:     types.ActionMultiHop,
			MaxHops:    maxHops,
			Confidence: confidence(multiHop),
			Reasoning:  reasoning("multi-hop", multiHits, relationalHits),
		}
	case temporal >= 2:
		return types.QueryPlan{
			Action:     types.ActionTemporal,
			MaxHops:    2,
			Confidence: confidence(temporal),
			Reasoning:  reasoning("temporal", temporalHits),
		}
	case relational >= 2:
		return types.QueryPlan{
			Action:     types.ActionRelational,
			MaxHops:    2,
			Confidence: confidence(relational),
			Reasoning:  reasoning("relational", relationalHits),
		}
	default:
		return types.QueryPlan{
			Action:     types.ActionSingleHop,
			MaxHops:    1,
			Confidence: 0.5,
			Reasoning:  "no intent indicators scored; defaulting to single-hop lookup",
		}
	}
}

func score(folded string, indicators []indicator) (int, []string) {
	total := 0
	var hits []string
	for _, ind := range indicators {
		if strings.Contains(folded, " "+ind.phrase+" ") {
			total += ind.weight
			hits = append(hits, ind.phrase)
		}
	}
	return total, hits
}

func confidence(winning int) float64 {
	c := 0.5 + 0.15*float64(winning)
	if c > maxConfidence {
		return maxConfidence
	}
	return c
}

func reasoning(intent string, hitLists ...[]string) string {
	var all []string
	for _, hits := range hitLists {
		all = append(all, hits...)
	}
	sort.Strings(all)
	if len(all) == 0 {
		return fmt.Sprintf("classified as %s", intent)
	}
	return fmt.Sprintf("classified as %s on indicators: %s", intent, strings.Join(all, ", "))
}
