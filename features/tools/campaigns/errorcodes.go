package campaigns

import (
	"fmt"
	"sort"
)

// Severity ranks how urgently an error code needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorCode interprets a WhatsApp Business API error code.
type ErrorCode struct {
	Meaning         string   `json:"meaning"`
	Cause           string   `json:"cause"`
	RetryStrategy   string   `json:"retryStrategy"`
	ImmediateAction string   `json:"immediateAction"`
	LongTermFix     string   `json:"longTermFix"`
	Severity        Severity `json:"severity"`
}

var whatsAppErrors = map[string]ErrorCode{
	"131049": {
		Meaning:         "Not delivered to maintain a healthy ecosystem",
		Cause:           "Meta caps marketing template messages per user. Hit per-user cap.",
		RetryStrategy:   "Don't retry immediately. Use exponential backoff and retry later.",
		ImmediateAction: "Back off for 24-48 hours before retrying to the same user.",
		LongTermFix:     "Implement user-level throttling and use utility templates when possible.",
		Severity:        SeverityHigh,
	},
	"131026": {
		Meaning:         "Message Undeliverable (receiver incapable)",
		Cause:           "User not on WhatsApp, hasn't accepted ToS, or using old client version.",
		RetryStrategy:   "Don't retry. User needs to update WhatsApp or confirm they can message your business.",
		ImmediateAction: "Contact user via alternate channel (SMS/email) to update WhatsApp.",
		LongTermFix:     "Validate phone numbers before sending and maintain updated contact lists.",
		Severity:        SeverityMedium,
	},
	"130472": {
		Meaning:         "User's number is part of an experiment",
		Cause:           "Recipient is in a Meta experiment; delivery blocked.",
		RetryStrategy:   "Skip this user. Cannot force delivery.",
		ImmediateAction: "Remove user from current campaign and retry later.",
		LongTermFix:     "Implement experiment detection and user exclusion logic.",
		Severity:        SeverityLow,
	},
	"131048": {
		Meaning:         "Spam/quality rate limit hit for your number",
		Cause:           "Your WhatsApp number hit quality/spam rate limits.",
		RetryStrategy:   "Slow down sending rate and improve content quality.",
		ImmediateAction: "Check WhatsApp Manager for quality issues and reduce send frequency.",
		LongTermFix:     "Improve targeting, content quality, and implement better rate limiting.",
		Severity:        SeverityCritical,
	},
	"131056": {
		Meaning:         "BA/CA pair rate limit (too many messages to same user quickly)",
		Cause:           "Sending too many messages to the same user in short time.",
		RetryStrategy:   "Add throttling/backoff per user with exponential delays.",
		ImmediateAction: "Implement per-user rate limiting (max 1 message per 24 hours).",
		LongTermFix:     "Build user-level throttling system with proper backoff strategies.",
		Severity:        SeverityHigh,
	},
	"131047": {
		Meaning:         "Re-engagement needed (outside reply window)",
		Cause:           "User outside the 24-hour reply window for free-form messages.",
		RetryStrategy:   "Use a template message to re-open conversation.",
		ImmediateAction: "Send a template message to re-engage the user.",
		LongTermFix:     "Implement proper conversation flow management and template usage.",
		Severity:        SeverityMedium,
	},
	"131050": {
		Meaning:         "User opted out of marketing",
		Cause:           "User has opted out of marketing messages.",
		RetryStrategy:   "Stop marketing to this user immediately.",
		ImmediateAction: "Remove user from all marketing campaigns and respect opt-out.",
		LongTermFix:     "Implement proper opt-out management and respect user preferences.",
		Severity:        SeverityMedium,
	},
	"131000": {
		Meaning:         "Unknown internal error",
		Cause:           "Meta's internal system error.",
		RetryStrategy:   "Retry with jitter and exponential backoff.",
		ImmediateAction: "Wait 5-10 minutes and retry with exponential backoff.",
		LongTermFix:     "Implement robust retry logic with proper error handling.",
		Severity:        SeverityMedium,
	},
	"131008": {
		Meaning:         "Required parameter missing",
		Cause:           "Missing required parameters in the API request.",
		RetryStrategy:   "Fix the request body and retry.",
		ImmediateAction: "Check and fix template parameters, components, and phone format.",
		LongTermFix:     "Implement request validation before sending.",
		Severity:        SeverityLow,
	},
	"100": {
		Meaning:         "Invalid parameter",
		Cause:           "Invalid template name, language, or phone format.",
		RetryStrategy:   "Validate and fix parameters before retrying.",
		ImmediateAction: "Check template name, language code, and phone number format.",
		LongTermFix:     "Implement parameter validation and template management system.",
		Severity:        SeverityLow,
	},
	"132000": {
		Meaning:         "Template parameter count mismatch",
		Cause:           "Wrong number of variables passed to template.",
		RetryStrategy:   "Pass exactly the required number of variables.",
		ImmediateAction: "Count and match template variables exactly.",
		LongTermFix:     "Build template validation system with parameter counting.",
		Severity:        SeverityLow,
	},
	"132012": {
		Meaning:         "Template parameter format mismatch",
		Cause:           "Wrong format for template variables (currency, date, etc.).",
		RetryStrategy:   "Match placeholder format requirements.",
		ImmediateAction: "Check variable formats (currency, date, number) and fix.",
		LongTermFix:     "Implement format validation for template variables.",
		Severity:        SeverityLow,
	},
	"132001": {
		Meaning:         "Template doesn't exist or not approved",
		Cause:           "Template name/language doesn't exist or is not approved.",
		RetryStrategy:   "Verify template name and language, wait for approval.",
		ImmediateAction: "Check template approval status and language codes.",
		LongTermFix:     "Implement template management system with approval tracking.",
		Severity:        SeverityMedium,
	},
	"132015": {
		Meaning:         "Template paused for quality",
		Cause:           "Template paused due to quality issues.",
		RetryStrategy:   "Edit template or create new higher-quality template.",
		ImmediateAction: "Review and improve template content quality.",
		LongTermFix:     "Implement template quality monitoring and improvement process.",
		Severity:        SeverityMedium,
	},
	"132016": {
		Meaning:         "Template disabled for quality",
		Cause:           "Template disabled due to quality issues.",
		RetryStrategy:   "Create new higher-quality template.",
		ImmediateAction: "Create new template with better content quality.",
		LongTermFix:     "Implement template quality standards and review process.",
		Severity:        SeverityMedium,
	},
	"133010": {
		Meaning:         "Sender number not registered",
		Cause:           "Your WhatsApp number is not registered or verified.",
		RetryStrategy:   "Register and verify the WhatsApp number first.",
		ImmediateAction: "Complete WhatsApp Business API registration and verification.",
		LongTermFix:     "Ensure proper WhatsApp Business API setup and verification.",
		Severity:        SeverityCritical,
	},
}

var unknownErrorCode = ErrorCode{
	Meaning:         "Unknown error code",
	Cause:           "Unrecognized WhatsApp error code",
	RetryStrategy:   "Retry with exponential backoff and monitor for patterns.",
	ImmediateAction: "Log the error and implement general retry logic.",
	LongTermFix:     "Monitor error patterns and implement specific handling as needed.",
	Severity:        SeverityMedium,
}

// LookupErrorCode returns the interpretation of a WhatsApp error code.
// Unknown codes get a generic medium-severity entry.
func LookupErrorCode(code string) ErrorCode {
	if e, ok := whatsAppErrors[code]; ok {
		return e
	}
	return unknownErrorCode
}

// errorInsights interprets the error codes found across campaign messages.
// The five most frequent codes drive the immediate actions, long-term
// recommendations and retry strategies.
func errorInsights(groups []*messageGroup) *ErrorInsights {
	codes := make(map[string]int)
	var total, successful int
	for _, g := range groups {
		for code, n := range g.errorCodes {
			codes[code] += n
		}
		total += g.total
		successful += g.successful
	}

	out := &ErrorInsights{
		CriticalIssues:     []ErrorIssue{},
		Recommendations:    []string{},
		RetryStrategies:    []string{},
		ImmediateActions:   []string{},
		ErrorCodeBreakdown: make(map[string]ErrorCodeCount, len(codes)),
	}
	for _, cc := range topCodes(codes, 5) {
		analysis := LookupErrorCode(cc.Code)
		out.CriticalIssues = append(out.CriticalIssues, ErrorIssue{Code: cc.Code, Count: cc.Count, Analysis: analysis})
		switch analysis.Severity {
		case SeverityCritical:
			out.ImmediateActions = append(out.ImmediateActions,
				fmt.Sprintf("🚨 CRITICAL: %s (Error %s: %s)", analysis.ImmediateAction, cc.Code, analysis.Meaning))
		case SeverityHigh:
			out.ImmediateActions = append(out.ImmediateActions,
				fmt.Sprintf("⚠️ HIGH PRIORITY: %s (Error %s)", analysis.ImmediateAction, cc.Code))
		}
		out.Recommendations = append(out.Recommendations, fmt.Sprintf("📋 %s (Error %s)", analysis.LongTermFix, cc.Code))
		out.RetryStrategies = append(out.RetryStrategies, fmt.Sprintf("🔄 %s (Error %s)", analysis.RetryStrategy, cc.Code))
	}

	totalErrors := 0
	for _, n := range codes {
		totalErrors += n
	}
	if totalErrors > 0 {
		if total > 0 && float64(successful)/float64(total) < 0.8 {
			out.Recommendations = append(out.Recommendations,
				"📊 Overall success rate is low. Consider implementing comprehensive error handling and retry logic.")
		}
		if codes["131049"] > 0 {
			out.Recommendations = append(out.Recommendations,
				"🎯 Implement user-level throttling to avoid hitting per-user marketing caps.")
		}
		if codes["131048"] > 0 {
			out.Recommendations = append(out.Recommendations,
				"📈 Improve content quality and reduce send frequency to avoid spam rate limits.")
		}
	}

	for code, n := range codes {
		analysis := LookupErrorCode(code)
		out.ErrorCodeBreakdown[code] = ErrorCodeCount{Count: n, Meaning: analysis.Meaning, Severity: analysis.Severity}
	}
	return out
}

// topCodes returns the n most frequent codes. Ties are broken by code so the
// output is deterministic.
func topCodes(counts map[string]int, n int) []CodeCount {
	out := make([]CodeCount, 0, len(counts))
	for code, c := range counts {
		out = append(out, CodeCount{Code: code, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topReasons(counts map[string]int, n int) []ReasonCount {
	out := make([]ReasonCount, 0, len(counts))
	for reason, c := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
