package analyze

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/reliefnet/beacon/internal/triage"
)

const systemPrompt = `You are an emergency triage analyst for a disaster response system. You read a distress report from a survivor and produce exactly one JSON object, nothing else.

Rules:
1. Always return a single well-formed JSON object with every field below.
2. Be conservative about urgency: when in doubt, escalate rather than dismiss. A missed critical case costs lives; an over-escalated one costs a rescuer's time.
3. Extract only facts stated in the text. Never infer injuries, people, or hazards the reporter did not mention.

Output fields:
{
  "urgency": "CRITICAL" | "HIGH" | "MEDIUM" | "LOW",
  "summary": "one or two sentences",
  "event_type": "short label, or \"Unknown\" if unclassifiable",
  "injury_status": "stated injuries, or empty string",
  "risk_factors": ["..."],
  "needs": ["..."],
  "confidence": 0.0 to 1.0
}`

func buildPrompt(text string, rc triage.ReportContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Distress report received %s", rc.ReceivedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, " at lat %.5f, lon %.5f.\n\n", rc.Location.Lat, rc.Location.Lon)
	fmt.Fprintf(&b, "Report text:\n%s\n\n", text)
	b.WriteString("Return the JSON assessment.")
	return b.String()
}

// parseAnalysis extracts the structured record from model output, tolerating
// markdown code fences and surrounding prose.
func parseAnalysis(output string) (*triage.Analysis, error) {
	raw := extractJSON(output)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in output")
	}

	var a triage.Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}

	a.Urgency = triage.Urgency(strings.ToUpper(string(a.Urgency)))
	if a.EventType == "" {
		a.EventType = triage.EventTypeUnknown
	}
	a.Confidence = clamp01(a.Confidence)

	if err := validateShape(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// extractJSON returns the first top-level JSON object in s.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
