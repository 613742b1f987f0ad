package types

import "time"

// NodeKind classifies a stored memory node.
type NodeKind string

const (
	KindFact        NodeKind = "fact"
	KindEpisode     NodeKind = "episode"
	KindImprovement NodeKind = "improvement"
	KindGoal        NodeKind = "goal"
)

// WriteType classifies an incoming write and drives destination routing.
type WriteType string

const (
	WriteFact        WriteType = "fact"
	WriteEpisode     WriteType = "episode"
	WriteLearning    WriteType = "learning"
	WriteWin         WriteType = "win"
	WriteDecision    WriteType = "decision"
	WriteGoal        WriteType = "goal"
	WriteImprovement WriteType = "improvement"
)

// ValidWriteType reports whether t is one of the routable write types.
func ValidWriteType(t WriteType) bool {
	switch t {
	case WriteFact, WriteEpisode, WriteLearning, WriteWin, WriteDecision, WriteGoal, WriteImprovement:
		return true
	}
	return false
}

// NodeKindForWrite maps a write type onto the node kind stored in the graph.
func NodeKindForWrite(t WriteType) NodeKind {
	switch t {
	case WriteEpisode:
		return KindEpisode
	case WriteGoal:
		return KindGoal
	case WriteImprovement:
		return KindImprovement
	default:
		return KindFact
	}
}

// MemoryNode is one fact or episode in the temporal graph.
type MemoryNode struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"`
	Kind      NodeKind       `json:"kind"`
	Value     string         `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MemoryEdge is a directed relationship between two nodes. Edges are
// append-only history; a changed relationship gets a new edge.
type MemoryEdge struct {
	ID        string    `json:"id"`
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Relation  string    `json:"relation"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// UnifiedResult is the wire shape every memory source returns to the bus.
// Score is comparable only within one federation query.
type UnifiedResult struct {
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WritePayload describes one write routed through the federation bus.
type WritePayload struct {
	Content      string         `json:"content"`
	Type         WriteType      `json:"type"`
	Key          string         `json:"key,omitempty"`
	Destinations []string       `json:"destinations,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// WriteOutcome records one destination's result for a federated write.
type WriteOutcome struct {
	Destination string `json:"destination"`
	OK          bool   `json:"ok"`
	ID          string `json:"id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// WriteResult aggregates per-destination outcomes. There is no
// cross-destination atomicity.
type WriteResult struct {
	Outcomes []WriteOutcome `json:"outcomes"`
}

// Succeeded reports whether at least one destination accepted the write.
func (r WriteResult) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.OK {
			return true
		}
	}
	return false
}

// QueryAction is the strategy the governor selects for a query.
type QueryAction string

const (
	ActionSingleHop  QueryAction = "single-hop"
	ActionMultiHop   QueryAction = "multi-hop"
	ActionTemporal   QueryAction = "temporal"
	ActionRelational QueryAction = "relational"
)

// QueryPlan is the governor's classification of a free-text query.
type QueryPlan struct {
	Action     QueryAction `json:"action"`
	MaxHops    int         `json:"max_hops"`
	Confidence float64     `json:"confidence"`
	Reasoning  string      `json:"reasoning"`
}

// SourceStats summarizes one adapter for telemetry and dashboards.
type SourceStats struct {
	Name      string     `json:"name"`
	Available bool       `json:"available"`
	Breaker   string     `json:"breaker,omitempty"`
	Count     int64      `json:"count"`
	Newest    *time.Time `json:"newest,omitempty"`
	Oldest    *time.Time `json:"oldest,omitempty"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}

// ContextBundle is a token-bounded context block for prompt injection.
type ContextBundle struct {
	Text            string          `json:"text"`
	EstimatedTokens int             `json:"estimated_tokens"`
	NodeIDs         []string        `json:"node_ids"`
	Results         []UnifiedResult `json:"results,omitempty"`
}
