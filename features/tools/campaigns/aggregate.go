package campaigns

import (
	"fmt"
	"sort"
	"time"
)

type (
	// dataset holds everything fetched for one analysis.
	dataset struct {
		campaigns    []Campaign
		messages     []Message
		hasMessages  bool
		templates    []Template
		attributions []Attribution
	}

	// messageGroup accumulates the messages of one campaign.
	messageGroup struct {
		campaignID string
		total      int
		successful int
		failed     int
		statuses   map[string]int
		reasons    map[string]int
		errorCodes map[string]int
	}
)

// aggregate joins the fetched records into the analysis report.
func aggregate(q query, d dataset, now time.Time) *Analysis {
	resolveTemplateNames(d.campaigns, d.templates)

	overview := computeOverview(d.campaigns)
	failures := computeFailures(d.campaigns)
	usage := computeTemplateUsage(d.campaigns)
	groups := groupMessages(d.messages)
	messages := computeMessageAnalysis(groups)

	a := &Analysis{
		WidgetID:            q.widgetID,
		TimeRange:           q.timeRange,
		AnalysisDate:        now,
		Overview:            overview,
		Failures:            failures,
		TemplateUsage:       usage,
		MessageAnalysis:     messages,
		PerformanceInsights: computePerformanceInsights(d.campaigns, usage, failures),
		Recommendations:     recommend(overview, usage, messages),
	}
	if q.includeAttribution {
		a.AttributionData = computeAttribution(d.attributions)
	}
	if d.hasMessages && len(groups) > 0 {
		a.ErrorInsights = errorInsights(groups)
		n := min(len(a.ErrorInsights.Recommendations), 3)
		a.Recommendations = append(a.Recommendations, a.ErrorInsights.Recommendations[:n]...)
	}
	return a
}

// resolveTemplateNames fills template names missing from campaign references
// using the fetched templates.
func resolveTemplateNames(cs []Campaign, ts []Template) {
	if len(ts) == 0 {
		return
	}
	names := make(map[string]string, len(ts))
	for _, t := range ts {
		names[t.ID] = t.Name
	}
	for i := range cs {
		if ref := cs[i].Template; ref != nil && ref.Name == "" {
			ref.Name = names[ref.ID]
		}
	}
}

func computeOverview(cs []Campaign) Overview {
	var o Overview
	o.TotalCampaigns = len(cs)
	for _, c := range cs {
		switch c.Status {
		case StatusCompleted:
			o.SuccessfulCampaigns++
		case StatusFailed:
			o.FailedCampaigns++
		case StatusProcessing:
			o.ProcessingCampaigns++
		}
		o.TotalRecipients += c.Metrics.TotalRecipients
		o.TotalSent += c.Metrics.Sent
		o.TotalDelivered += c.Metrics.Delivered
		o.TotalRead += c.Metrics.Read
		o.TotalClicked += c.Metrics.Click
		o.TotalFailed += c.Metrics.Failed
	}
	o.AverageEngagementRate = ratio(o.TotalRead+o.TotalClicked, o.TotalRecipients)
	o.AverageDeliveryRate = ratio(o.TotalDelivered, o.TotalSent)
	o.AverageReadRate = ratio(o.TotalRead, o.TotalDelivered)
	o.AverageClickRate = ratio(o.TotalClicked, o.TotalRead)
	return o
}

// computeFailures lists failed campaigns, newest first.
func computeFailures(cs []Campaign) []Failure {
	out := []Failure{}
	for _, c := range cs {
		if c.Status != StatusFailed {
			continue
		}
		out = append(out, Failure{
			CampaignID:      c.ID,
			CampaignName:    c.Name,
			Status:          c.Status,
			FailureReason:   c.FailureReason,
			TotalRecipients: c.Metrics.TotalRecipients,
			FailedCount:     c.Metrics.Failed,
			ErrorHistory:    c.ErrorHistory,
			CreatedAt:       c.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// computeTemplateUsage groups campaigns by template, most used first.
// Campaigns without a template are skipped.
func computeTemplateUsage(cs []Campaign) []TemplateUsage {
	byID := make(map[string]*TemplateUsage)
	var order []string
	for _, c := range cs {
		if c.Template == nil || c.Template.ID == "" {
			continue
		}
		u, ok := byID[c.Template.ID]
		if !ok {
			name := c.Template.Name
			if name == "" {
				name = "Unknown Template"
			}
			u = &TemplateUsage{TemplateID: c.Template.ID, TemplateName: name}
			byID[c.Template.ID] = u
			order = append(order, c.Template.ID)
		}
		u.UsageCount++
		u.TotalRecipients += c.Metrics.TotalRecipients
		u.TotalSent += c.Metrics.Sent
		u.TotalDelivered += c.Metrics.Delivered
		u.TotalRead += c.Metrics.Read
		u.TotalClicked += c.Metrics.Click
		u.TotalFailed += c.Metrics.Failed
	}
	out := make([]TemplateUsage, 0, len(order))
	for _, id := range order {
		u := byID[id]
		u.SuccessRate = ratio(u.TotalSent-u.TotalFailed, u.TotalSent)
		u.AverageEngagement = ratio(u.TotalRead+u.TotalClicked, u.TotalRecipients)
		out = append(out, *u)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UsageCount > out[j].UsageCount })
	return out
}

// groupMessages buckets messages per campaign in first-seen order.
func groupMessages(ms []Message) []*messageGroup {
	byID := make(map[string]*messageGroup)
	var groups []*messageGroup
	for _, m := range ms {
		g, ok := byID[m.CampaignID]
		if !ok {
			g = &messageGroup{
				campaignID: m.CampaignID,
				statuses:   make(map[string]int),
				reasons:    make(map[string]int),
				errorCodes: make(map[string]int),
			}
			byID[m.CampaignID] = g
			groups = append(groups, g)
		}
		g.total++
		g.statuses[m.Status]++
		if m.Status == StatusFailed {
			g.failed++
		} else {
			g.successful++
		}
		if m.FailureReason != "" {
			g.reasons[m.FailureReason]++
		}
		for _, code := range m.ErrorCodes {
			if code != "" {
				g.errorCodes[code]++
			}
		}
	}
	return groups
}

func computeMessageAnalysis(groups []*messageGroup) MessageAnalysis {
	ma := MessageAnalysis{
		MessageStatusBreakdown: map[string]int{},
		FailureReasons:         map[string]int{},
		CostAnalysis:           CostAnalysis{Currency: "INR"},
		CampaignAnalytics:      []CampaignMessages{},
		TopFailureReasons:      []ReasonCount{},
		TopErrorCodes:          []CodeCount{},
	}
	if len(groups) == 0 {
		return ma
	}
	codes := make(map[string]int)
	for _, g := range groups {
		ma.TotalMessages += g.total
		for s, n := range g.statuses {
			ma.MessageStatusBreakdown[s] += n
		}
		for r, n := range g.reasons {
			ma.FailureReasons[r] += n
		}
		for c, n := range g.errorCodes {
			codes[c] += n
		}
		topIssues := []string{}
		if top := topReasons(g.reasons, 1); len(top) > 0 {
			topIssues = append(topIssues, top[0].Reason)
		}
		ma.CampaignAnalytics = append(ma.CampaignAnalytics, CampaignMessages{
			CampaignID: g.campaignID,
			Summary:    g.summary(),
			TopIssues:  topIssues,
			ErrorCodes: sortedKeys(g.errorCodes),
		})
	}
	ma.TopFailureReasons = topReasons(ma.FailureReasons, 5)
	ma.TopErrorCodes = topCodes(codes, 5)
	return ma
}

func (g *messageGroup) summary() MessageSummary {
	s := MessageSummary{Total: g.total, Successful: g.successful, Failed: g.failed, SuccessRate: "0%"}
	if g.total > 0 {
		s.SuccessRate = fmt.Sprintf("%.2f%%", float64(g.successful)/float64(g.total)*100)
	}
	return s
}

// computeAttribution returns nil when no orders were attributed.
func computeAttribution(as []Attribution) *AttributionSummary {
	if len(as) == 0 {
		return nil
	}
	type perf struct {
		revenue float64
		orders  int
	}
	byCampaign := make(map[string]*perf)
	var revenue float64
	for _, a := range as {
		revenue += a.TotalAmount
		id := a.Campaign
		if id == "" {
			id = "unknown"
		}
		p, ok := byCampaign[id]
		if !ok {
			p = &perf{}
			byCampaign[id] = p
		}
		p.revenue += a.TotalAmount
		p.orders++
	}
	top := make([]CampaignRevenue, 0, len(byCampaign))
	for id, p := range byCampaign {
		top = append(top, CampaignRevenue{CampaignID: id, CampaignName: id, Revenue: p.revenue, Orders: p.orders})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Revenue != top[j].Revenue {
			return top[i].Revenue > top[j].Revenue
		}
		return top[i].CampaignID < top[j].CampaignID
	})
	if len(top) > 5 {
		top = top[:5]
	}
	return &AttributionSummary{
		TotalOrders:            len(as),
		TotalRevenue:           revenue,
		AverageOrderValue:      revenue / float64(len(as)),
		TopPerformingCampaigns: top,
	}
}

func computePerformanceInsights(cs []Campaign, usage []TemplateUsage, failures []Failure) PerformanceInsights {
	pi := PerformanceInsights{TopTemplates: usage[:min(len(usage), 5)], CriticalIssues: []string{}}

	for _, c := range cs {
		m := c.Metrics
		if m.TotalRecipients <= 0 {
			continue
		}
		engagement := ratio(m.Read+m.Click, m.TotalRecipients)
		if pi.BestPerformingCampaign == nil || engagement > pi.BestPerformingCampaign.EngagementRate {
			pi.BestPerformingCampaign = &BestCampaign{
				ID:             c.ID,
				Name:           c.Name,
				EngagementRate: engagement,
				DeliveryRate:   ratio(m.Delivered, m.Sent),
			}
		}
	}

	var worst *Campaign
	for i := range cs {
		c := &cs[i]
		if c.Status != StatusFailed {
			continue
		}
		if worst == nil || c.Metrics.Failed > worst.Metrics.Failed {
			worst = c
		}
	}
	if worst != nil {
		issue := worst.FailureReason
		if issue == "" {
			issue = "Unknown failure"
		}
		pi.WorstPerformingCampaign = &WorstCampaign{
			ID:          worst.ID,
			Name:        worst.Name,
			FailureRate: ratio(worst.Metrics.Failed, worst.Metrics.TotalRecipients),
			Issues:      []string{issue},
		}
	}

	if len(failures) > 0 {
		pi.CriticalIssues = append(pi.CriticalIssues, fmt.Sprintf("%d campaigns have failed recently", len(failures)))
	}
	lowEngagement := 0
	for _, u := range usage {
		if u.AverageEngagement < 0.1 {
			lowEngagement++
		}
	}
	if lowEngagement > 0 {
		pi.CriticalIssues = append(pi.CriticalIssues, fmt.Sprintf("%d templates have low engagement rates", lowEngagement))
	}
	return pi
}

// recommend derives at most five recommendations from the aggregates.
func recommend(o Overview, usage []TemplateUsage, ma MessageAnalysis) []string {
	out := []string{}
	if o.FailedCampaigns > 0 {
		out = append(out, fmt.Sprintf("Review %d failed campaigns to identify common failure patterns", o.FailedCampaigns))
	}
	if o.AverageEngagementRate < 0.1 {
		out = append(out, "Consider improving message content and targeting to increase engagement rates")
	}
	if o.AverageDeliveryRate < 0.9 {
		out = append(out, "Investigate delivery issues - check phone number validity and WhatsApp Business API configuration")
	}
	lowSuccess := 0
	for _, u := range usage {
		if u.SuccessRate < 0.8 {
			lowSuccess++
		}
	}
	if lowSuccess > 0 {
		out = append(out, fmt.Sprintf("Review %d templates with low success rates", lowSuccess))
	}
	if ma.AverageSendAttempts > 2 {
		out = append(out, "High retry attempts detected - review message content and recipient validation")
	}
	if len(ma.FailureReasons) > 0 {
		out = append(out, "Address common failure reasons in message content and delivery configuration")
	}
	if o.TotalCampaigns < 5 {
		out = append(out, "Consider running more campaigns to gather better performance data")
	}
	if o.TotalRecipients < 100 {
		out = append(out, "Increase campaign reach to improve statistical significance of results")
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func ratio(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
