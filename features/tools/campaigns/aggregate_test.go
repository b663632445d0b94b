package campaigns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

func sampleCampaigns() []Campaign {
	return []Campaign{
		{
			ID: "c1", Name: "Welcome", Status: StatusCompleted,
			Template:  &TemplateRef{ID: "t1", Name: "Welcome"},
			Metrics:   DeliveryCounts{TotalRecipients: 100, Sent: 100, Delivered: 90, Read: 50, Failed: 10, Click: 10},
			CreatedAt: day0,
		},
		{
			ID: "c2", Name: "Flash sale", Status: StatusFailed, FailureReason: "quota",
			Template:  &TemplateRef{ID: "t1", Name: "Welcome"},
			Metrics:   DeliveryCounts{TotalRecipients: 50, Sent: 40, Delivered: 20, Read: 5, Failed: 20},
			CreatedAt: day0.Add(24 * time.Hour),
		},
		{
			ID: "c3", Name: "Restock", Status: StatusProcessing,
			Template:  &TemplateRef{ID: "t2"},
			Metrics:   DeliveryCounts{TotalRecipients: 20, Sent: 20, Delivered: 20, Read: 2},
			CreatedAt: day0.Add(48 * time.Hour),
		},
	}
}

func sampleMessages() []Message {
	return []Message{
		{CampaignID: "c1", Status: "delivered"},
		{CampaignID: "c1", Status: "read"},
		{CampaignID: "c1", Status: StatusFailed, FailureReason: "Undeliverable", ErrorCodes: []string{"131026"}},
		{CampaignID: "c3", Status: StatusFailed, FailureReason: "Spam", ErrorCodes: []string{"131048"}},
	}
}

func sampleDataset() dataset {
	return dataset{
		campaigns:   sampleCampaigns(),
		messages:    sampleMessages(),
		hasMessages: true,
		templates:   []Template{{ID: "t2", Name: "Promo"}},
		attributions: []Attribution{
			{OrderID: "o1", Campaign: "c1", TotalAmount: 100},
			{OrderID: "o2", TotalAmount: 50},
			{OrderID: "o3", Campaign: "c1", TotalAmount: 25},
		},
	}
}

func sampleQuery() query {
	return query{widgetID: testWidget, timeRange: "14d", includeFailed: true, includeMessages: true, includeAttribution: true}
}

func TestAggregateOverview(t *testing.T) {
	a := aggregate(sampleQuery(), sampleDataset(), day0)

	o := a.Overview
	require.Equal(t, 3, o.TotalCampaigns)
	require.Equal(t, 1, o.SuccessfulCampaigns)
	require.Equal(t, 1, o.FailedCampaigns)
	require.Equal(t, 1, o.ProcessingCampaigns)
	require.Equal(t, 170, o.TotalRecipients)
	require.Equal(t, 160, o.TotalSent)
	require.Equal(t, 130, o.TotalDelivered)
	require.Equal(t, 57, o.TotalRead)
	require.Equal(t, 10, o.TotalClicked)
	require.Equal(t, 30, o.TotalFailed)
	require.InDelta(t, 67.0/170, o.AverageEngagementRate, 1e-9)
	require.InDelta(t, 130.0/160, o.AverageDeliveryRate, 1e-9)
	require.InDelta(t, 57.0/130, o.AverageReadRate, 1e-9)
	require.InDelta(t, 10.0/57, o.AverageClickRate, 1e-9)
}

func TestAggregateFailuresAndTemplates(t *testing.T) {
	a := aggregate(sampleQuery(), sampleDataset(), day0)

	require.Len(t, a.Failures, 1)
	require.Equal(t, "c2", a.Failures[0].CampaignID)
	require.Equal(t, 20, a.Failures[0].FailedCount)

	require.Len(t, a.TemplateUsage, 2)
	t1, t2 := a.TemplateUsage[0], a.TemplateUsage[1]
	require.Equal(t, "t1", t1.TemplateID)
	require.Equal(t, 2, t1.UsageCount)
	require.InDelta(t, 110.0/140, t1.SuccessRate, 1e-9)
	require.InDelta(t, 65.0/150, t1.AverageEngagement, 1e-9)
	require.Equal(t, "Promo", t2.TemplateName)
	require.InDelta(t, 0.1, t2.AverageEngagement, 1e-9)
}

func TestAggregateMessages(t *testing.T) {
	a := aggregate(sampleQuery(), sampleDataset(), day0)

	ma := a.MessageAnalysis
	require.Equal(t, 4, ma.TotalMessages)
	require.Equal(t, map[string]int{"delivered": 1, "read": 1, "failed": 2}, ma.MessageStatusBreakdown)
	require.Equal(t, "INR", ma.CostAnalysis.Currency)
	require.Equal(t, []ReasonCount{{"Spam", 1}, {"Undeliverable", 1}}, ma.TopFailureReasons)
	require.Equal(t, []CodeCount{{"131026", 1}, {"131048", 1}}, ma.TopErrorCodes)

	require.Len(t, ma.CampaignAnalytics, 2)
	c1 := ma.CampaignAnalytics[0]
	require.Equal(t, "c1", c1.CampaignID)
	require.Equal(t, MessageSummary{Total: 3, Successful: 2, Failed: 1, SuccessRate: "66.67%"}, c1.Summary)
	require.Equal(t, []string{"Undeliverable"}, c1.TopIssues)
	require.Equal(t, "0.00%", ma.CampaignAnalytics[1].Summary.SuccessRate)
}

func TestAggregateInsightsAndRecommendations(t *testing.T) {
	a := aggregate(sampleQuery(), sampleDataset(), day0)

	pi := a.PerformanceInsights
	require.Equal(t, &BestCampaign{ID: "c1", Name: "Welcome", EngagementRate: 0.6, DeliveryRate: 0.9}, pi.BestPerformingCampaign)
	require.Equal(t, &WorstCampaign{ID: "c2", Name: "Flash sale", FailureRate: 0.4, Issues: []string{"quota"}}, pi.WorstPerformingCampaign)
	require.Equal(t, []string{"1 campaigns have failed recently"}, pi.CriticalIssues)
	require.Len(t, pi.TopTemplates, 2)

	require.Equal(t, []string{
		"Review 1 failed campaigns to identify common failure patterns",
		"Investigate delivery issues - check phone number validity and WhatsApp Business API configuration",
		"Review 1 templates with low success rates",
		"Address common failure reasons in message content and delivery configuration",
		"Consider running more campaigns to gather better performance data",
		"📋 Validate phone numbers before sending and maintain updated contact lists. (Error 131026)",
		"📋 Improve targeting, content quality, and implement better rate limiting. (Error 131048)",
		"📊 Overall success rate is low. Consider implementing comprehensive error handling and retry logic.",
	}, a.Recommendations)

	ei := a.ErrorInsights
	require.NotNil(t, ei)
	require.Equal(t, []string{
		"🚨 CRITICAL: Check WhatsApp Manager for quality issues and reduce send frequency. (Error 131048: Spam/quality rate limit hit for your number)",
	}, ei.ImmediateActions)
	require.Contains(t, ei.Recommendations, "📈 Improve content quality and reduce send frequency to avoid spam rate limits.")
	require.Equal(t, ErrorCodeCount{Count: 1, Meaning: "Message Undeliverable (receiver incapable)", Severity: SeverityMedium}, ei.ErrorCodeBreakdown["131026"])
}

func TestAggregateAttribution(t *testing.T) {
	a := aggregate(sampleQuery(), sampleDataset(), day0)

	at := a.AttributionData
	require.NotNil(t, at)
	require.Equal(t, 3, at.TotalOrders)
	require.InDelta(t, 175.0, at.TotalRevenue, 1e-9)
	require.InDelta(t, 175.0/3, at.AverageOrderValue, 1e-9)
	require.Equal(t, []CampaignRevenue{
		{CampaignID: "c1", CampaignName: "c1", Revenue: 125, Orders: 2},
		{CampaignID: "unknown", CampaignName: "unknown", Revenue: 50, Orders: 1},
	}, at.TopPerformingCampaigns)

	require.Nil(t, computeAttribution(nil))
}

func TestAggregateEmpty(t *testing.T) {
	a := aggregate(sampleQuery(), dataset{hasMessages: true}, day0)

	require.Zero(t, a.Overview.TotalCampaigns)
	require.Empty(t, a.Failures)
	require.Nil(t, a.ErrorInsights)
	require.Nil(t, a.PerformanceInsights.BestPerformingCampaign)
	require.Equal(t, []string{
		"Consider improving message content and targeting to increase engagement rates",
		"Investigate delivery issues - check phone number validity and WhatsApp Business API configuration",
		"Consider running more campaigns to gather better performance data",
		"Increase campaign reach to improve statistical significance of results",
	}, a.Recommendations)
}

func TestLookupErrorCode(t *testing.T) {
	require.Equal(t, SeverityCritical, LookupErrorCode("133010").Severity)
	unknown := LookupErrorCode("999")
	require.Equal(t, "Unknown error code", unknown.Meaning)
	require.Equal(t, SeverityMedium, unknown.Severity)
}
