package mcp

// ToolDefinition models MCP tool metadata.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func toolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "memory_query",
			Description: "Query federated memory. The query is classified and routed to the best sources automatically.",
			InputSchema: jsonSchema(map[string]any{
				"query": propString("Free-text query."),
				"type":  propStringEnum("Optional override for the query plan.", []string{"single-hop", "multi-hop", "temporal", "relational"}),
				"limit": propNumber("Maximum results."),
			}, []string{"query"}),
		},
		{
			Name:        "memory_multi_hop",
			Description: "Traverse the knowledge graph from query seeds, following relationships across multiple hops with score decay.",
			InputSchema: jsonSchema(map[string]any{
				"query":    propString("Free-text query used to pick traversal seeds."),
				"max_hops": propNumber("Hop cap, 1-5. Defaults to 3."),
				"limit":    propNumber("Maximum results."),
			}, []string{"query"}),
		},
		{
			Name:        "memory_write",
			Description: "Store a memory. Routed to destinations by type unless destinations are given explicitly.",
			InputSchema: jsonSchema(map[string]any{
				"content": propString("Memory content."),
				"type":    propStringEnum("Memory type.", []string{"fact", "episode", "learning", "win", "decision", "goal", "improvement"}),
				"key":     propString("Optional stable key. Derived from content when omitted."),
				"destinations": map[string]any{
					"type":        "array",
					"description": "Optional explicit destination sources.",
					"items":       map[string]any{"type": "string"},
				},
				"metadata": map[string]any{
					"type": "object",
				},
			}, []string{"content", "type"}),
		},
		{
			Name:        "memory_link",
			Description: "Create a typed, weighted relationship between two existing graph nodes.",
			InputSchema: jsonSchema(map[string]any{
				"from_id":  propString("Source node id."),
				"to_id":    propString("Target node id."),
				"relation": propString("Relationship label (e.g. caused, requires, relates_to)."),
				"weight":   propNumber("Edge weight 0-1. Defaults to 0.5."),
			}, []string{"from_id", "to_id", "relation"}),
		},
		{
			Name:        "memory_get_context",
			Description: "Return a prompt-ready context bundle for a topic under a token budget.",
			InputSchema: jsonSchema(map[string]any{
				"topic":      propString("Topic to gather context for."),
				"max_tokens": propNumber("Estimated token budget. Defaults to 2000."),
			}, []string{"topic"}),
		},
		{
			Name:        "memory_stats",
			Description: "Report per-source counts, availability and orchestrator counters.",
			InputSchema: jsonSchema(map[string]any{}, []string{}),
		},
	}
}

func jsonSchema(properties map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func propString(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func propStringEnum(description string, values []string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

func propNumber(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}
