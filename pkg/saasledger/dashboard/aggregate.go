// Package dashboard derives spend and utilization figures for one
// organization. The aggregate functions are pure; handlers load the rows.
package dashboard

import (
	"math"
	"sort"
	"time"

	"github.com/mikepea/saasledger/pkg/saasledger/models"
)

const (
	// HeadlineRenewalDays is the renewal window counted on the metrics card
	HeadlineRenewalDays = 30
	// TrendMonths is how many months the spend trend covers, current month included
	TrendMonths = 6
)

// Metrics is the dashboard headline
type Metrics struct {
	TotalSaasSpend    float64 `json:"totalSaasSpend"`
	MonthlySpendTrend float64 `json:"monthlySpendTrend"`
	TotalApps         int     `json:"totalApps"`
	ActiveUsers       int     `json:"activeUsers"`
	UnusedLicenses    int     `json:"unusedLicenses"`
	PotentialSavings  float64 `json:"potentialSavings"`
	UpcomingRenewals  int     `json:"upcomingRenewals"`
	OptimizationScore int     `json:"optimizationScore"`
}

// CategorySpend is the monthly spend of one category
type CategorySpend struct {
	Category  string  `json:"category"`
	Spend     float64 `json:"spend"`
	AppsCount int     `json:"appsCount"`
}

// TrendPoint is one month of the spend trend
type TrendPoint struct {
	Month   string  `json:"month"` // YYYY-MM
	Label   string  `json:"label"` // Jan, Feb, ...
	Spend   float64 `json:"spend"`
	Savings float64 `json:"savings"`
}

// Input is everything the headline is derived from
type Input struct {
	Apps            []models.SaaSApplication
	Recommendations []models.Recommendation
	UsageMetrics    []models.UsageMetric
}

// TotalSpend is the monthly-normalized spend summed over apps
func TotalSpend(apps []models.SaaSApplication) float64 {
	var total float64
	for _, app := range apps {
		total += app.MonthlySpend()
	}
	return total
}

// ActiveUsers counts assigned seats
func ActiveUsers(apps []models.SaaSApplication) int {
	var n int
	for _, app := range apps {
		n += app.LicensesUsed
	}
	return n
}

// UnusedLicenses counts purchased seats nobody holds. Over-assigned apps
// count as zero.
func UnusedLicenses(apps []models.SaaSApplication) int {
	var n int
	for _, app := range apps {
		if spare := app.LicensesPurchased - app.LicensesUsed; spare > 0 {
			n += spare
		}
	}
	return n
}

// PotentialSavings sums the annual savings of pending recommendations
func PotentialSavings(recs []models.Recommendation) float64 {
	var total float64
	for _, rec := range recs {
		if rec.Status == models.StatusPending {
			total += rec.EstimatedAnnualSavings
		}
	}
	return total
}

// UpcomingRenewals returns the apps renewing within [now, now+days], both
// bounds inclusive, soonest first.
func UpcomingRenewals(apps []models.SaaSApplication, now time.Time, days int) []models.SaaSApplication {
	end := now.AddDate(0, 0, days)
	var due []models.SaaSApplication
	for _, app := range apps {
		if !app.RenewalDate.Before(now) && !app.RenewalDate.After(end) {
			due = append(due, app)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].RenewalDate.Before(due[j].RenewalDate)
	})
	return due
}

// OptimizationScore is the rounded percentage of seats in use; 0 when
// there are no seats at all.
func OptimizationScore(activeUsers, unusedLicenses int) int {
	total := activeUsers + unusedLicenses
	if total <= 0 {
		return 0
	}
	score := int(math.Round(100 * float64(activeUsers) / float64(total)))
	return max(0, min(100, score))
}

// SpendByCategory groups monthly spend and app count by category, ordered
// by category name.
func SpendByCategory(apps []models.SaaSApplication) []CategorySpend {
	byCategory := map[string]*CategorySpend{}
	for _, app := range apps {
		cs, ok := byCategory[app.Category]
		if !ok {
			cs = &CategorySpend{Category: app.Category}
			byCategory[app.Category] = cs
		}
		cs.Spend += app.MonthlySpend()
		cs.AppsCount++
	}

	result := make([]CategorySpend, 0, len(byCategory))
	for _, cs := range byCategory {
		result = append(result, *cs)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Category < result[j].Category })
	return result
}

// SpendTrend returns one point per month for the months ending with now's
// month, oldest first.
//
// A month's spend bills each app for the seats its usage snapshot reports,
// or for every purchased seat when there is no snapshot and the contract
// had started by the end of that month. A month's savings is the monthly
// savings of every recommendation implemented by the end of it.
func SpendTrend(in Input, now time.Time, months int) []TrendPoint {
	seats := make(map[uint]map[string]int)
	for _, m := range in.UsageMetrics {
		if seats[m.SaaSAppID] == nil {
			seats[m.SaaSAppID] = map[string]int{}
		}
		seats[m.SaaSAppID][m.Month] = m.TotalLicenses
	}

	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	points := make([]TrendPoint, 0, months)
	for i := months - 1; i >= 0; i-- {
		start := first.AddDate(0, -i, 0)
		end := start.AddDate(0, 1, 0)
		key := models.MonthKey(start)

		var spend float64
		for _, app := range in.Apps {
			billed, ok := seats[app.ID][key]
			if !ok {
				if !app.ContractStartDate.Before(end) {
					continue
				}
				billed = app.LicensesPurchased
			}
			priced := app
			priced.LicensesPurchased = billed
			spend += priced.MonthlySpend()
		}

		var savings float64
		for _, rec := range in.Recommendations {
			if rec.Status == models.StatusImplemented && rec.UpdatedAt.Before(end) {
				savings += rec.EstimatedMonthlySavings
			}
		}

		points = append(points, TrendPoint{
			Month:   key,
			Label:   start.Format("Jan"),
			Spend:   roundCents(spend),
			Savings: roundCents(savings),
		})
	}
	return points
}

// PercentChange is the change from prev to cur in percent, one decimal;
// 0 when prev is 0.
func PercentChange(prev, cur float64) float64 {
	if prev == 0 {
		return 0
	}
	return math.Round((cur-prev)/prev*1000) / 10
}

// Summarize computes the dashboard headline
func Summarize(in Input, now time.Time) Metrics {
	active := ActiveUsers(in.Apps)
	unused := UnusedLicenses(in.Apps)

	var trend float64
	if points := SpendTrend(in, now, 2); len(points) == 2 {
		trend = PercentChange(points[0].Spend, points[1].Spend)
	}

	return Metrics{
		TotalSaasSpend:    TotalSpend(in.Apps),
		MonthlySpendTrend: trend,
		TotalApps:         len(in.Apps),
		ActiveUsers:       active,
		UnusedLicenses:    unused,
		PotentialSavings:  PotentialSavings(in.Recommendations),
		UpcomingRenewals:  len(UpcomingRenewals(in.Apps, now, HeadlineRenewalDays)),
		OptimizationScore: OptimizationScore(active, unused),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
