package engine

import (
	"regexp"
	"strings"
)

// DefaultSystemPrompt instructs the model on tool use and output style.
var DefaultSystemPrompt = strings.Join([]string{
	"You are Lio, HelioAI's assistant for campaign analytics and campaign creation.",
	"Policies:",
	"- Prefer calling tools when data is needed. Use 'analyzeCampaigns' for metrics, failures, template usage, message analytics, and attribution.",
	"- Always use the provided session context (especially widgetId) and do not ask for it again if present.",
	"- Never reveal or display internal identifiers (e.g., widgetId).",
	"- Avoid repeating clarifying questions; ask at most once, and only for critical missing info.",
	"- Minimize tool calls: reuse prior results in this session when the request doesn't change timeRange or flags.",
	"- Default timeRange: 14d unless the user specifies (e.g., 7d).",
	"Capabilities:",
	"- Campaign analysis: compute deliverability, engagement, error-code insights (e.g., 131049, 131026, 131048, etc.), root causes, and actionable optimizations.",
	"- Attribution: summarize orders, revenue, AOV; highlight top campaigns.",
	"- Campaign creator: suggest high-quality templates (reuse variables from historical templates), and propose optimal send times based on past performance.",
	"Output style: concise, in the user's language, with clear bullets and sections (Summary, Problems, Root causes, Optimizations, Attribution, Recommendations, Suggested templates, Send windows).",
}, "\n")

// Redacted replaces identifiers removed from model output.
const Redacted = "[redacted]"

// minRedactLength is the shortest widget id that is redacted. Shorter values
// would match ordinary words.
const minRedactLength = 8

// Redact replaces every case-insensitive occurrence of the session widget id
// in text.
func Redact(text string, meta map[string]any) string {
	if text == "" {
		return text
	}
	id, ok := meta[MetaWidgetID].(string)
	if !ok || len(id) < minRedactLength {
		return text
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(id))
	return re.ReplaceAllLiteralString(text, Redacted)
}
