package tools

// Kind enumerates the tools the agent knows how to run. Model supplied tool
// names are mapped to a Kind through ParseKind; unknown names are rejected.
type Kind string

const (
	// KindCampaignAnalyzer analyzes messaging campaigns for one widget.
	KindCampaignAnalyzer Kind = "campaign_analyzer"
	// KindBookSearch searches the Google Books catalog.
	KindBookSearch Kind = "book_search"
)

var kindsByName = map[string]Kind{
	"analyzeCampaigns": KindCampaignAnalyzer,
	"searchBooks":      KindBookSearch,
}

// ParseKind returns the kind registered under the tool name.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindsByName[name]
	return k, ok
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCampaignAnalyzer, KindBookSearch:
		return true
	default:
		return false
	}
}

// ScopeAware reports whether the tool operates on the caller's widget and
// must therefore receive the widget id from the session rather than from
// model arguments.
func (k Kind) ScopeAware() bool {
	return k == KindCampaignAnalyzer
}
