package campaigns

import "time"

type (
	// Analysis is the analyzer output handed to the model.
	Analysis struct {
		WidgetID            string              `json:"widgetId"`
		TimeRange           string              `json:"timeRange"`
		AnalysisDate        time.Time           `json:"analysisDate"`
		Overview            Overview            `json:"overview"`
		Failures            []Failure           `json:"failures"`
		TemplateUsage       []TemplateUsage     `json:"templateUsage"`
		MessageAnalysis     MessageAnalysis     `json:"messageAnalysis"`
		AttributionData     *AttributionSummary `json:"attributionData,omitempty"`
		Recommendations     []string            `json:"recommendations"`
		PerformanceInsights PerformanceInsights `json:"performanceInsights"`
		ErrorInsights       *ErrorInsights      `json:"errorInsights,omitempty"`
	}

	// Overview aggregates delivery counters across campaigns.
	Overview struct {
		TotalCampaigns        int     `json:"totalCampaigns"`
		SuccessfulCampaigns   int     `json:"successfulCampaigns"`
		FailedCampaigns       int     `json:"failedCampaigns"`
		ProcessingCampaigns   int     `json:"processingCampaigns"`
		TotalRecipients       int     `json:"totalRecipients"`
		TotalSent             int     `json:"totalSent"`
		TotalDelivered        int     `json:"totalDelivered"`
		TotalRead             int     `json:"totalRead"`
		TotalClicked          int     `json:"totalClicked"`
		TotalFailed           int     `json:"totalFailed"`
		AverageEngagementRate float64 `json:"averageEngagementRate"`
		AverageDeliveryRate   float64 `json:"averageDeliveryRate"`
		AverageReadRate       float64 `json:"averageReadRate"`
		AverageClickRate      float64 `json:"averageClickRate"`
	}

	// Failure describes a failed campaign.
	Failure struct {
		CampaignID      string       `json:"campaignId"`
		CampaignName    string       `json:"campaignName"`
		Status          string       `json:"status"`
		FailureReason   string       `json:"failureReason,omitempty"`
		TotalRecipients int          `json:"totalRecipients"`
		FailedCount     int          `json:"failedCount"`
		ErrorHistory    []ErrorEntry `json:"errorHistory,omitempty"`
		CreatedAt       time.Time    `json:"createdAt"`
	}

	// TemplateUsage aggregates campaigns by template.
	TemplateUsage struct {
		TemplateID        string  `json:"templateId"`
		TemplateName      string  `json:"templateName"`
		UsageCount        int     `json:"usageCount"`
		TotalRecipients   int     `json:"totalRecipients"`
		TotalSent         int     `json:"totalSent"`
		TotalDelivered    int     `json:"totalDelivered"`
		TotalRead         int     `json:"totalRead"`
		TotalClicked      int     `json:"totalClicked"`
		TotalFailed       int     `json:"totalFailed"`
		SuccessRate       float64 `json:"successRate"`
		AverageEngagement float64 `json:"averageEngagement"`
	}

	// MessageAnalysis aggregates per-message outcomes.
	MessageAnalysis struct {
		TotalMessages          int                `json:"totalMessages"`
		MessageStatusBreakdown map[string]int     `json:"messageStatusBreakdown"`
		AverageSendAttempts    float64            `json:"averageSendAttempts"`
		FailureReasons         map[string]int     `json:"failureReasons"`
		CostAnalysis           CostAnalysis       `json:"costAnalysis"`
		CampaignAnalytics      []CampaignMessages `json:"campaignAnalytics"`
		TopFailureReasons      []ReasonCount      `json:"topFailureReasons"`
		TopErrorCodes          []CodeCount        `json:"topErrorCodes"`
	}

	// CostAnalysis is reported for completeness; costs are not tracked.
	CostAnalysis struct {
		TotalCost             float64 `json:"totalCost"`
		AverageCostPerMessage float64 `json:"averageCostPerMessage"`
		Currency              string  `json:"currency"`
	}

	// CampaignMessages summarizes the messages of one campaign.
	CampaignMessages struct {
		CampaignID string         `json:"campaignId"`
		Summary    MessageSummary `json:"summary"`
		TopIssues  []string       `json:"topIssues"`
		ErrorCodes []string       `json:"errorCodes"`
	}

	// MessageSummary counts the messages of one campaign.
	MessageSummary struct {
		Total       int    `json:"total"`
		Successful  int    `json:"successful"`
		Failed      int    `json:"failed"`
		SuccessRate string `json:"successRate"`
	}

	// ReasonCount pairs a failure reason with its frequency.
	ReasonCount struct {
		Reason string `json:"reason"`
		Count  int    `json:"count"`
	}

	// CodeCount pairs a provider error code with its frequency.
	CodeCount struct {
		Code  string `json:"code"`
		Count int    `json:"count"`
	}

	// AttributionSummary aggregates attributed orders.
	AttributionSummary struct {
		TotalOrders            int               `json:"totalOrders"`
		TotalRevenue           float64           `json:"totalRevenue"`
		AverageOrderValue      float64           `json:"averageOrderValue"`
		ConversionRate         float64           `json:"conversionRate"`
		TopPerformingCampaigns []CampaignRevenue `json:"topPerformingCampaigns"`
	}

	// CampaignRevenue is the revenue attributed to one campaign.
	CampaignRevenue struct {
		CampaignID     string  `json:"campaignId"`
		CampaignName   string  `json:"campaignName"`
		Revenue        float64 `json:"revenue"`
		Orders         int     `json:"orders"`
		ConversionRate float64 `json:"conversionRate"`
	}

	// PerformanceInsights highlights outliers.
	PerformanceInsights struct {
		BestPerformingCampaign  *BestCampaign   `json:"bestPerformingCampaign,omitempty"`
		WorstPerformingCampaign *WorstCampaign  `json:"worstPerformingCampaign,omitempty"`
		TopTemplates            []TemplateUsage `json:"topTemplates"`
		CriticalIssues          []string        `json:"criticalIssues"`
	}

	// BestCampaign is the campaign with the highest engagement.
	BestCampaign struct {
		ID             string  `json:"id"`
		Name           string  `json:"name"`
		EngagementRate float64 `json:"engagementRate"`
		DeliveryRate   float64 `json:"deliveryRate"`
	}

	// WorstCampaign is the failed campaign with the most failed sends.
	WorstCampaign struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		FailureRate float64  `json:"failureRate"`
		Issues      []string `json:"issues"`
	}

	// ErrorInsights interprets provider error codes.
	ErrorInsights struct {
		CriticalIssues     []ErrorIssue              `json:"criticalIssues"`
		Recommendations    []string                  `json:"recommendations"`
		RetryStrategies    []string                  `json:"retryStrategies"`
		ImmediateActions   []string                  `json:"immediateActions"`
		ErrorCodeBreakdown map[string]ErrorCodeCount `json:"errorCodeBreakdown"`
	}

	// ErrorIssue is one frequent error code and its interpretation.
	ErrorIssue struct {
		Code     string    `json:"code"`
		Count    int       `json:"count"`
		Analysis ErrorCode `json:"analysis"`
	}

	// ErrorCodeCount is the breakdown entry of one error code.
	ErrorCodeCount struct {
		Count    int      `json:"count"`
		Meaning  string   `json:"meaning"`
		Severity Severity `json:"severity"`
	}
)
