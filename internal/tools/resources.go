package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scrypster/cogwire/internal/protocol"
)

const (
	// URIStats exposes live session counters as JSON.
	URIStats = "cogwire://session/stats"
	// URIRecent exposes the newest in-memory events as JSON.
	URIRecent = "cogwire://session/recent"
)

const recentResourceLimit = 50

// Resources lists the resource descriptors this module serves.
func (m *Module) Resources() []protocol.Resource {
	return []protocol.Resource{
		{
			URI:         URIStats,
			Name:        "Session statistics",
			Description: "Live counters for the current capture session",
			MimeType:    "application/json",
		},
		{
			URI:         URIRecent,
			Name:        "Recent events",
			Description: "The newest captured events with enrichment layers",
			MimeType:    "application/json",
		},
	}
}

// ReadResource resolves the module's resource URIs. Both read from the
// in-memory engine, so they work even before persistence is up.
func (m *Module) ReadResource(ctx context.Context, uri string) (string, bool, error) {
	switch uri {
	case URIStats:
		payload := map[string]any{
			"event_count":   m.engine.EventCount(),
			"turn_count":    m.engine.TurnCount(),
			"dropped_count": m.engine.DroppedCount(),
			"method_counts": m.engine.Stats(),
		}
		if store := m.store(); store != nil {
			payload["session_id"] = store.SessionID()
		}
		raw, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return "", true, fmt.Errorf("marshal stats: %w", err)
		}
		return string(raw), true, nil

	case URIRecent:
		events := m.engine.RecentEvents(recentResourceLimit)
		raw, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return "", true, fmt.Errorf("marshal recent events: %w", err)
		}
		return string(raw), true, nil

	default:
		return "", false, nil
	}
}
