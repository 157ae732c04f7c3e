package billing

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// cycleLength returns the number of days in the billing cycle ending at
// nextBilling. The cycle start is one calendar month before nextBilling, so
// variable month lengths (28–31 days) are handled without a fixed 30-day
// assumption.
func cycleLength(nextBilling time.Time) int {
	cycleStart := nextBilling.AddDate(0, -1, 0)
	return int(math.Round(nextBilling.Sub(cycleStart).Hours() / 24))
}

// RemainingRefund computes the pro-rated refund for the unused remainder of
// the current paid period: round(price × remainingDays / cycleDays).
// Remaining days are counted with ceil so a partially elapsed day still
// counts toward the refund. Returns 0 once now is at or past nextBilling,
// and never exceeds price.
func RemainingRefund(price int, now, nextBilling time.Time) int {
	if !now.Before(nextBilling) {
		return 0
	}

	remainingDays := int(math.Ceil(nextBilling.Sub(now).Hours() / 24))
	cycleDays := cycleLength(nextBilling)
	if cycleDays <= 0 {
		return 0
	}
	if remainingDays > cycleDays {
		remainingDays = cycleDays
	}

	return int(math.Round(float64(price) * float64(remainingDays) / float64(cycleDays)))
}

// DaysRemaining counts the days left until boundary, rounding partial days
// up. Used for the cancel response's grace-period count.
func DaysRemaining(now, boundary time.Time) int {
	if !now.Before(boundary) {
		return 0
	}
	return int(math.Ceil(boundary.Sub(now).Hours() / 24))
}

// DaysSince counts whole elapsed days from start to now, rounding partial
// days down. Used for the refund settlement-window rule.
func DaysSince(start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / day)
}
