// Package tools implements the MCP tool and resource surface over the
// capture store: session statistics, timelines, emergence detection, and
// coherence queries. Every tool degrades to an isError result when the
// store has not finished initializing; tool failures never become
// protocol errors.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/cogwire/internal/capture"
	"github.com/scrypster/cogwire/internal/embeddings"
	"github.com/scrypster/cogwire/internal/protocol"
	"github.com/scrypster/cogwire/internal/storage"
)

// StoreProvider returns the event store once background init has finished,
// or nil while it is unavailable.
type StoreProvider func() storage.EventStore

// Module bundles the tool handlers with their dependencies.
type Module struct {
	store    StoreProvider
	engine   *capture.Engine
	pipeline *embeddings.Pipeline
}

// New creates the tools module. pipeline may be nil; coherence_search then
// reports embeddings as unavailable.
func New(store StoreProvider, engine *capture.Engine, pipeline *embeddings.Pipeline) *Module {
	return &Module{store: store, engine: engine, pipeline: pipeline}
}

// Definitions lists every tool this module serves.
func (m *Module) Definitions() []protocol.Tool {
	return []protocol.Tool{
		{
			Name:        "capture_stats",
			Description: "Get current capture session statistics: events, turns, topics, gut signals, and total capture metrics",
			InputSchema: objectSchema(nil, nil),
		},
		{
			Name:        "capture_timeline",
			Description: "Get a unified cross-platform capture event timeline sorted by time",
			InputSchema: objectSchema(map[string]any{
				"platform": map[string]any{
					"type":        "string",
					"description": "Filter by platform (e.g., 'claude-desktop'). Omit for all platforms.",
				},
				"since_ns": map[string]any{
					"type":        "number",
					"description": "Only return events after this nanosecond timestamp. Omit for all events.",
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "Maximum events to return (default: 50)",
					"default":     50,
				},
			}, nil),
		},
		{
			Name:        "detect_emergence",
			Description: "Scan recent capture events for emergence signals: high coherence potential, concept clusters, and meta-cognitive patterns",
			InputSchema: objectSchema(map[string]any{
				"limit": map[string]any{
					"type":        "number",
					"description": "Number of recent events to scan (default: 100)",
					"default":     100,
				},
			}, nil),
		},
		{
			Name:        "coherence_status",
			Description: "Get coherence engine status: total events, session count, topic distribution, and gut signal breakdown.",
			InputSchema: objectSchema(nil, nil),
		},
		{
			Name:        "coherence_moments",
			Description: "List high-coherence events with emergence indicators. Shows breakthrough potential, meta-cognitive events, and concept clusters.",
			InputSchema: objectSchema(map[string]any{
				"min_coherence": map[string]any{
					"type":        "number",
					"description": "Minimum coherence potential threshold 0-1 (default: 0.5)",
					"default":     0.5,
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "Maximum events to return (default: 20)",
					"default":     20,
				},
			}, nil),
		},
		{
			Name:        "coherence_search",
			Description: "Semantic similarity search across captured events using embeddings. Finds events similar to a natural language query.",
			InputSchema: objectSchema(map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Natural language search query",
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "Maximum results to return (default: 10)",
					"default":     10,
				},
			}, []string{"query"}),
		},
		{
			Name:        "coherence_scan",
			Description: "Scan recent events for coherence patterns and emergence signals. Returns a summary of detected patterns.",
			InputSchema: objectSchema(map[string]any{
				"limit": map[string]any{
					"type":        "number",
					"description": "Number of recent events to scan (default: 200)",
					"default":     200,
				},
			}, nil),
		},
	}
}

// Handle dispatches a tool call. Unknown names and handler panics are
// already filtered upstream; a nil store turns into an isError result.
func (m *Module) Handle(ctx context.Context, name string, args map[string]any) (protocol.ToolResult, error) {
	switch name {
	case "capture_stats":
		return m.captureStats(ctx)
	case "capture_timeline":
		return m.captureTimeline(ctx, args)
	case "detect_emergence":
		return m.detectEmergence(ctx, args)
	case "coherence_status":
		return m.coherenceStatus(ctx)
	case "coherence_moments":
		return m.coherenceMoments(ctx, args)
	case "coherence_search":
		return m.coherenceSearch(ctx, args)
	case "coherence_scan":
		return m.coherenceScan(ctx, args)
	default:
		return protocol.ToolErrorf("Unknown tool: %s", name), nil
	}
}

func (m *Module) captureStats(ctx context.Context) (protocol.ToolResult, error) {
	store := m.store()
	if store == nil {
		return storeUnavailable(), nil
	}

	session, err := store.SessionStats(ctx)
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("session stats: %w", err)
	}
	total, err := store.TotalStats(ctx)
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("total stats: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Capture Statistics\n\n")
	b.WriteString("## Current Session\n\n")
	fmt.Fprintf(&b, "**Session ID:** %s\n", session.SessionID)
	fmt.Fprintf(&b, "**Events Captured:** %d\n", session.EventCount)
	fmt.Fprintf(&b, "**Turns:** %d\n\n", session.TurnCount)

	writeCountSection(&b, "### Topics", session.Topics)
	writeCountSection(&b, "### Gut Signals", session.GutSignals)

	b.WriteString("## All-Time\n\n")
	fmt.Fprintf(&b, "**Total Events:** %d\n", total.TotalEvents)
	fmt.Fprintf(&b, "**Total Sessions:** %d\n", total.TotalSessions)
	fmt.Fprintf(&b, "**Bytes Captured:** %d\n\n", total.TotalBytes)
	writeCountSection(&b, "### Gut Signal Distribution", total.GutSignals)

	return textResult(b.String()), nil
}

func (m *Module) captureTimeline(ctx context.Context, args map[string]any) (protocol.ToolResult, error) {
	store := m.store()
	if store == nil {
		return storeUnavailable(), nil
	}

	filter := storage.TimelineFilter{
		Platform: stringArg(args, "platform", ""),
		SinceNS:  int64(floatArg(args, "since_ns", 0)),
		Limit:    intArg(args, "limit", 50),
	}
	events, err := store.Timeline(ctx, filter)
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("timeline: %w", err)
	}
	if len(events) == 0 {
		return textResult("No events found matching criteria."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Capture Event Timeline (%d events)\n\n", len(events))
	// Oldest first reads naturally even though the query is newest-first.
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		arrow := "<-"
		if ev.Direction == string(capture.DirectionOut) {
			arrow = "->"
		}
		method := ev.Method
		if method == "" {
			method = "response"
		}
		coherence := ""
		if ev.Coherence > 0 {
			coherence = fmt.Sprintf(" [coherence=%.2f]", ev.Coherence)
		}
		fmt.Fprintf(&b, "**%s %s** (%s)\n", arrow, method, ev.Platform)
		fmt.Fprintf(&b, "  Topic: %s | Intent: %s | Gut: %s%s\n", ev.Topic, ev.Intent, ev.GutSignal, coherence)
		fmt.Fprintf(&b, "  %s\n\n", clip(ev.Summary, 150))
	}
	return textResult(b.String()), nil
}

func (m *Module) detectEmergence(ctx context.Context, args map[string]any) (protocol.ToolResult, error) {
	store := m.store()
	if store == nil {
		return storeUnavailable(), nil
	}

	events, err := store.Recent(ctx, intArg(args, "limit", 100))
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("recent events: %w", err)
	}
	if len(events) == 0 {
		return textResult("No events to analyze."), nil
	}

	var highCoherence, clusters, meta, breakthroughs []storage.StoredEvent
	for _, ev := range events {
		if ev.Coherence > 0.7 {
			highCoherence = append(highCoherence, ev)
		}
		if len(ev.Concepts) >= 3 {
			clusters = append(clusters, ev)
		}
		if contains(ev.Indicators, "meta_cognitive") {
			meta = append(meta, ev)
		}
		if ev.GutSignal == "breakthrough_potential" {
			breakthroughs = append(breakthroughs, ev)
		}
	}

	score := float64(len(highCoherence))*0.15 +
		float64(len(clusters))*0.1 +
		float64(len(meta))*0.25 +
		float64(len(breakthroughs))*0.3
	if score > 1.0 {
		score = 1.0
	}

	var b strings.Builder
	b.WriteString("# Emergence Detection Report\n\n")
	fmt.Fprintf(&b, "**Events Scanned:** %d\n", len(events))
	fmt.Fprintf(&b, "**Emergence Score:** %.3f\n\n", score)

	if len(breakthroughs) > 0 {
		fmt.Fprintf(&b, "## Breakthrough Signals (%d)\n", len(breakthroughs))
		for _, ev := range head(breakthroughs, 5) {
			fmt.Fprintf(&b, "- Event %s: topic=%s coherence=%.2f\n", ev.EventID, ev.Topic, ev.Coherence)
		}
		b.WriteString("\n")
	}
	if len(meta) > 0 {
		fmt.Fprintf(&b, "## Meta-Cognitive Events (%d)\n", len(meta))
		for _, ev := range head(meta, 5) {
			fmt.Fprintf(&b, "- Event %s: topic=%s indicators=%v\n", ev.EventID, ev.Topic, ev.Indicators)
		}
		b.WriteString("\n")
	}
	if len(highCoherence) > 0 {
		fmt.Fprintf(&b, "## High Coherence Events (%d)\n", len(highCoherence))
		for _, ev := range head(highCoherence, 5) {
			fmt.Fprintf(&b, "- Event %s: coherence=%.3f topic=%s\n", ev.EventID, ev.Coherence, ev.Topic)
		}
		b.WriteString("\n")
	}
	if len(clusters) > 0 {
		fmt.Fprintf(&b, "## Concept Clusters (%d)\n", len(clusters))
		for _, ev := range head(clusters, 5) {
			fmt.Fprintf(&b, "- Event %s: %v\n", ev.EventID, ev.Concepts)
		}
		b.WriteString("\n")
	}

	switch {
	case score < 0.1:
		b.WriteString("\n*No significant emergence signals detected. Continue working, patterns emerge over time.*\n")
	case score > 0.5:
		b.WriteString("\n*Strong emergence signals detected. Consider capturing this moment as a coherence event.*\n")
	}
	return textResult(b.String()), nil
}

func storeUnavailable() protocol.ToolResult {
	return protocol.ToolErrorf("Capture database not initialized.")
}

func textResult(text string) protocol.ToolResult {
	return protocol.ToolResultContent([]protocol.ContentBlock{protocol.TextContent(text)}, false)
}

func objectSchema(props map[string]any, required []string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// writeCountSection appends a sorted bullet list, highest count first.
func writeCountSection(b *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	b.WriteString(title + "\n")
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %d\n", k, counts[k])
	}
	b.WriteString("\n")
}

func stringArg(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return def
}

func floatArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	return int(floatArg(args, key, float64(def)))
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func head(events []storage.StoredEvent, n int) []storage.StoredEvent {
	if len(events) > n {
		return events[:n]
	}
	return events
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
