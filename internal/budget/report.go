package budget

import (
	"github.com/clipforge/governor/internal/service"
)

// PeriodUsage is one period's slice of a service usage report.
type PeriodUsage struct {
	UsedUSD    float64 `json:"used_usd"`
	LimitUSD   float64 `json:"limit_usd"`
	Percentage float64 `json:"percentage"`
	Requests   int     `json:"requests"`
}

// ServiceUsage is the dashboard view of one service.
type ServiceUsage struct {
	Daily   PeriodUsage `json:"daily"`
	Monthly PeriodUsage `json:"monthly"`
	Status  Level       `json:"status"`
}

// TotalCost sums spend across all services.
type TotalCost struct {
	Daily   float64 `json:"daily"`
	Monthly float64 `json:"monthly"`
}

// UsageReport is the full per-service usage breakdown for dashboards.
type UsageReport struct {
	Services  map[service.Identity]ServiceUsage `json:"services"`
	TotalCost TotalCost                         `json:"total_cost"`
}

// Report builds the usage report from current counters. Limits shown
// are the emergency ceilings, the levels at which calls actually stop.
func (g *Governor) Report() UsageReport {
	report := UsageReport{Services: make(map[service.Identity]ServiceUsage, len(service.All()))}
	for _, id := range service.All() {
		th := g.table[id]
		counters := g.book.Peek(id)

		report.Services[id] = ServiceUsage{
			Daily: PeriodUsage{
				UsedUSD:    counters.DailyCost,
				LimitUSD:   th.Daily.Emergency,
				Percentage: percentage(counters.DailyCost, th.Daily.Emergency),
				Requests:   counters.DailyRequests,
			},
			Monthly: PeriodUsage{
				UsedUSD:    counters.MonthlyCost,
				LimitUSD:   th.Monthly.Emergency,
				Percentage: percentage(counters.MonthlyCost, th.Monthly.Emergency),
				Requests:   counters.MonthlyRequests,
			},
			Status: g.Status(id).Level,
		}
		report.TotalCost.Daily += counters.DailyCost
		report.TotalCost.Monthly += counters.MonthlyCost
	}
	return report
}

func percentage(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return used / limit * 100
}
