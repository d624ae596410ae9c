package credits

import (
	"github.com/fastprodman/studentportal/internal/models"
)

// Fold derives a balance from ledger rows. Breakdown entries are magnitudes
// and contribute with the sign of their row's delta.
func Fold(txns []models.CreditTransaction) Balance {
	b := Balance{ByType: map[string]int64{}}
	for _, t := range txns {
		b = b.add(t.Delta, t.TypeBreakdown)
	}

	return b
}

func (b Balance) add(delta int64, breakdown models.Breakdown) Balance {
	out := b.clone()
	out.Total += delta

	s := sign(delta)
	for category, magnitude := range breakdown {
		out.ByType[category] += magnitude * s
	}

	return out
}

func sign(x int64) int64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// planDeduction clamps a deduction so neither the total nor the category
// balance drops below zero. The two are clamped independently.
func planDeduction(b Balance, amount int64, category string) (int64, models.Breakdown) {
	total := min(amount, max(b.Total, 0))

	breakdown := models.Breakdown{}
	if category != "" && total > 0 {
		breakdown[category] = min(amount, max(b.ByType[category], 0))
	}

	return -total, breakdown
}

// lowBalanceCrossed reports whether a write moving the total from prev to
// next should raise a low-credit notification.
func lowBalanceCrossed(prev, next, threshold int64, every bool) bool {
	if next > threshold {
		return false
	}

	if every {
		return true
	}

	return prev > threshold
}
