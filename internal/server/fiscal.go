package server

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/realhrms/payroll/internal/payroll"
)

// fiscalConstantsFromEnv seeds the calculator's fiscal constants.
// PERIODS_PER_YEAR overrides the monthly default for organizations
// paying weekly or fortnightly.
func fiscalConstantsFromEnv() payroll.MetricSet {
	values := map[string]decimal.Decimal{}
	if raw := strings.TrimSpace(os.Getenv("PERIODS_PER_YEAR")); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil && v.IsPositive() {
			values[payroll.VarPeriodsPerYear] = v
		}
	}
	return payroll.NewMetricSet(values)
}
