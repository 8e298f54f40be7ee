// Package bridge derives semantic layers from captured frames.
//
// Every event gets three layers attached during capture:
//
//	data:     what was said (raw content, token estimate)
//	light:    what it means (intent, topic, concepts, summary)
//	instinct: what it signals (coherence potential, emergence indicators)
package bridge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/scrypster/cogwire/internal/capture"
)

// Keyword tables for topic and intent classification. Scoring is a plain
// substring-hit count; the highest-scoring label wins, and a tie keeps
// the first label in sorted order.
var domainKeywords = map[string][]string{
	"mcp_protocol": {"mcp", "protocol", "stdio", "json-rpc", "transport"},
	"database":     {"database", "sql", "schema", "query", "postgres", "sqlite"},
	"cognition":    {"cognitive wallet", "coherence", "sovereignty", "cogwire"},
	"ai_agents":    {"agent", "multi-agent", "orchestrat", "coordinat"},
	"research":     {"research", "paper", "arxiv", "finding", "hypothesis"},
	"coding":       {"function", "class", "import", "variable", "refactor", "debug"},
}

var intentSignals = map[string][]string{
	"search":   {"search", "find", "look", "where"},
	"create":   {"create", "build", "write", "make", "generate"},
	"analyze":  {"analyze", "review", "check", "explain", "why"},
	"retrieve": {"get", "read", "list", "show", "fetch"},
	"execute":  {"call", "run", "execute", "invoke"},
}

var conceptTargets = []string{
	"mcp", "cogwire", "database", "schema", "coherence", "protocol",
	"cognitive", "semantic", "embedding", "sovereign", "platform",
	"research", "session", "capture", "agent", "orchestrat",
}

var metaTerms = map[string]bool{
	"coherence": true, "cognitive": true, "emergence": true,
	"unify": true, "sovereign": true,
}

// signatureBucketNS groups signatures into 5-minute windows so that
// related activity on different platforms can hash to the same value.
const signatureBucketNS = 5 * 60 * 1_000_000_000

// Bridge implements the capture enrichment hook. It is stateless; a single
// value is safe to share.
type Bridge struct{}

// New returns a Bridge.
func New() *Bridge { return &Bridge{} }

// Enrich fills in the event's data, light, and instinct layers plus the
// coherence signature. It only reads the event's frame and never touches
// identity, lineage, or turn fields.
func (b *Bridge) Enrich(ev *capture.Event) {
	data := dataLayer(ev)
	light := lightLayer(data)
	instinct := instinctLayer(light)

	ev.DataLayer = data
	ev.LightLayer = light
	ev.InstinctLayer = instinct
	ev.CoherenceSignature = Signature(
		light["intent"].(string),
		light["topic"].(string),
		ev.TimestampNS,
		data["content"].(string),
	)
}

// Signature is a SHA-256 hash over intent, topic, the 5-minute time bucket,
// and the first 1024 bytes of content. Identical activity within a bucket
// produces identical signatures regardless of where it was captured.
func Signature(intent, topic string, timestampNS int64, content string) string {
	bucket := timestampNS / signatureBucketNS
	if len(content) > 1024 {
		content = content[:1024]
	}
	blob := fmt.Sprintf("%s::%s::%d::%s", intent, topic, bucket, content)
	sum := sha256.Sum256([]byte(blob))
	return hex.EncodeToString(sum[:])
}

func dataLayer(ev *capture.Event) map[string]any {
	var (
		method  string
		params  map[string]any
		content string
	)
	if ev.Frame != nil {
		method = ev.Frame.Method
		params = decodeObject(ev.Frame.Params)
	}

	if ev.Direction == capture.DirectionIn {
		switch {
		case method == "tools/call":
			content = fmt.Sprintf("Tool call: %v | args=%v", params["name"], params["arguments"])
		case strings.HasSuffix(method, "/list"):
			content = "List " + strings.SplitN(method, "/", 2)[0]
		case strings.HasSuffix(method, "/read"):
			content = fmt.Sprintf("Read resource: %v", params["uri"])
		default:
			content = "Method: " + method
		}
	} else {
		content = outboundContent(ev)
	}

	return map[string]any{
		"method":     method,
		"content":    content,
		"tokens_est": maxInt(1, len(content)/4),
	}
}

// outboundContent summarizes a response: the error message for error
// frames, joined text blocks for tool results, raw JSON otherwise.
func outboundContent(ev *capture.Event) string {
	if ev.Frame == nil {
		return ""
	}
	if ev.Frame.Error != nil {
		return "Error: " + ev.Frame.Error.Message
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(ev.Frame.Result, &result); err == nil && len(result.Content) > 0 {
		parts := make([]string, 0, len(result.Content))
		for _, p := range result.Content {
			parts = append(parts, truncate(p.Text, 500))
		}
		return truncate(strings.Join(parts, " "), 2000)
	}
	return truncate(string(ev.Frame.Result), 2000)
}

func lightLayer(data map[string]any) map[string]any {
	content, _ := data["content"].(string)
	lower := strings.ToLower(content)

	return map[string]any{
		"intent":   classify(lower, intentSignals, "explore"),
		"topic":    classify(lower, domainKeywords, "general"),
		"concepts": extractConcepts(lower),
		"summary":  truncate(content, 200),
	}
}

func instinctLayer(light map[string]any) map[string]any {
	concepts, _ := light["concepts"].([]string)
	topic, _ := light["topic"].(string)
	intent, _ := light["intent"].(string)

	cp := 0.0
	if topic != "general" {
		cp += 0.35
	}
	if intent == "create" || intent == "analyze" || intent == "search" {
		cp += 0.25
	}
	cp += math.Min(float64(len(concepts))*0.1, 0.4)
	cp = math.Min(cp, 1.0)
	cp = math.Round(cp*1000) / 1000

	var indicators []string
	if cp > 0.7 {
		indicators = append(indicators, "high_coherence_potential")
	}
	if len(concepts) >= 3 {
		indicators = append(indicators, "concept_cluster")
	}
	for _, c := range concepts {
		if metaTerms[c] {
			indicators = append(indicators, "meta_cognitive")
			break
		}
	}

	gut := "routine"
	switch {
	case len(indicators) >= 2:
		gut = "breakthrough_potential"
	case len(indicators) > 0:
		gut = "interesting"
	}

	return map[string]any{
		"coherence_potential":  cp,
		"emergence_indicators": indicators,
		"gut_signal":           gut,
	}
}

// classify picks the label whose keyword list has the most substring hits
// in text, falling back to def when nothing matches. Labels are scanned
// in sorted order so a tie always resolves to the same winner.
func classify(text string, mapping map[string][]string, def string) string {
	labels := make([]string, 0, len(mapping))
	for label := range mapping {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best, bestScore := def, 0
	for _, label := range labels {
		score := 0
		for _, kw := range mapping[label] {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = label, score
		}
	}
	return best
}

func extractConcepts(text string) []string {
	found := make([]string, 0, 4)
	for _, t := range conceptTargets {
		if strings.Contains(text, t) {
			found = append(found, t)
		}
	}
	return found
}

func decodeObject(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
