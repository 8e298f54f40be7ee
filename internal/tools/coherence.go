package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/cogwire/internal/protocol"
)

func (m *Module) coherenceStatus(ctx context.Context) (protocol.ToolResult, error) {
	store := m.store()
	if store == nil {
		return storeUnavailable(), nil
	}

	total, err := store.TotalStats(ctx)
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("total stats: %w", err)
	}
	session, err := store.SessionStats(ctx)
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("session stats: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Coherence Status\n\n")
	b.WriteString("| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Total Events | %d |\n", total.TotalEvents)
	fmt.Fprintf(&b, "| Total Sessions | %d |\n", total.TotalSessions)
	fmt.Fprintf(&b, "| Bytes Captured | %d |\n", total.TotalBytes)
	fmt.Fprintf(&b, "| Current Session | %s |\n\n", total.CurrentSession)

	writeCountSection(&b, "## Gut Signal Distribution\n", total.GutSignals)
	writeCountSection(&b, "## Current Session Topics\n", session.Topics)

	return textResult(b.String()), nil
}

func (m *Module) coherenceMoments(ctx context.Context, args map[string]any) (protocol.ToolResult, error) {
	store := m.store()
	if store == nil {
		return storeUnavailable(), nil
	}

	minCoherence := floatArg(args, "min_coherence", 0.5)
	limit := intArg(args, "limit", 20)

	events, err := store.HighCoherence(ctx, minCoherence, limit)
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("high coherence query: %w", err)
	}
	if len(events) == 0 {
		return textResult(fmt.Sprintf("No events found above %.0f%% coherence.", minCoherence*100)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# High Coherence Events (%d shown)\n\n", len(events))
	for _, ev := range events {
		method := ev.Method
		if method == "" {
			method = "response"
		}
		fmt.Fprintf(&b, "**%.3f** [%s] %s\n", ev.Coherence, ev.Platform, method)
		fmt.Fprintf(&b, "  Topic: %s | Intent: %s | Gut: %s\n", ev.Topic, ev.Intent, ev.GutSignal)
		if len(ev.Indicators) > 0 {
			fmt.Fprintf(&b, "  Emergence: %v\n", ev.Indicators)
		}
		fmt.Fprintf(&b, "  > %s\n\n", clip(ev.Summary, 200))
	}
	return textResult(b.String()), nil
}

func (m *Module) coherenceSearch(ctx context.Context, args map[string]any) (protocol.ToolResult, error) {
	store := m.store()
	if store == nil {
		return storeUnavailable(), nil
	}

	query := stringArg(args, "query", "")
	if query == "" {
		return protocol.ToolErrorf("Query is required."), nil
	}
	if m.pipeline == nil {
		return protocol.ToolErrorf("Embeddings not available."), nil
	}
	limit := intArg(args, "limit", 10)

	vec, _, err := m.pipeline.EmbedText(ctx, query)
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("embed query: %w", err)
	}
	if vec == nil {
		return protocol.ToolErrorf("Query too short to embed."), nil
	}

	hits, err := store.SearchSimilar(ctx, vec, limit, 0.3)
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("similarity search: %w", err)
	}
	if len(hits) == 0 {
		return textResult(fmt.Sprintf("No similar events found for: '%s'", query)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Semantic Search: '%s'\n\n", query)
	fmt.Fprintf(&b, "**Results:** %d\n\n", len(hits))
	for _, hit := range hits {
		ev := hit.Event
		fmt.Fprintf(&b, "**%.0f%%** [%s] topic=`%s` intent=`%s` gut=%s\n",
			hit.Similarity*100, ev.Platform, ev.Topic, ev.Intent, ev.GutSignal)
		fmt.Fprintf(&b, "> %s\n\n", clip(ev.Summary, 200))
	}
	return textResult(b.String()), nil
}

func (m *Module) coherenceScan(ctx context.Context, args map[string]any) (protocol.ToolResult, error) {
	store := m.store()
	if store == nil {
		return storeUnavailable(), nil
	}

	events, err := store.Recent(ctx, intArg(args, "limit", 200))
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("recent events: %w", err)
	}
	if len(events) == 0 {
		return textResult("No events to scan."), nil
	}

	topics := map[string]int{}
	intents := map[string]int{}
	signals := map[string]int{}
	var highCoherence, breakthroughs, metaEvents int

	for _, ev := range events {
		if ev.Topic != "" {
			topics[ev.Topic]++
		}
		if ev.Intent != "" {
			intents[ev.Intent]++
		}
		if ev.GutSignal != "" {
			signals[ev.GutSignal]++
		}
		if ev.Coherence > 0.7 {
			highCoherence++
		}
		if ev.GutSignal == "breakthrough_potential" {
			breakthroughs++
		}
		if contains(ev.Indicators, "meta_cognitive") {
			metaEvents++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Coherence Scan (%d events)\n\n", len(events))
	b.WriteString("| Metric | Count |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| High coherence (>0.7) | %d |\n", highCoherence)
	fmt.Fprintf(&b, "| Breakthrough potential | %d |\n", breakthroughs)
	fmt.Fprintf(&b, "| Meta-cognitive events | %d |\n\n", metaEvents)

	writeCountSection(&b, "## Topic Distribution\n", topics)
	writeCountSection(&b, "## Intent Distribution\n", intents)
	writeCountSection(&b, "## Gut Signals\n", signals)

	return textResult(b.String()), nil
}
