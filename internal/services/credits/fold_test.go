package credits

import (
	"testing"

	"github.com/fastprodman/studentportal/internal/models"
	"github.com/stretchr/testify/assert"
)

func txn(delta int64, breakdown models.Breakdown) models.CreditTransaction {
	return models.CreditTransaction{Delta: delta, TypeBreakdown: breakdown}
}

func TestFold_SignFollowsDelta(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		txns   []models.CreditTransaction
		total  int64
		byType map[string]int64
	}{
		{
			name:   "empty ledger",
			total:  0,
			byType: map[string]int64{},
		},
		{
			name:   "single grant",
			txns:   []models.CreditTransaction{txn(10, models.Breakdown{"Vocal": 10})},
			total:  10,
			byType: map[string]int64{"Vocal": 10},
		},
		{
			name: "deduction magnitudes are subtracted",
			txns: []models.CreditTransaction{
				txn(10, models.Breakdown{"Vocal": 6, "guitar": 4}),
				txn(-3, models.Breakdown{"guitar": 3}),
				txn(2, models.Breakdown{"guitar": 2}),
			},
			total:  9,
			byType: map[string]int64{"Vocal": 6, "guitar": 3},
		},
		{
			name: "zero delta row contributes nothing",
			txns: []models.CreditTransaction{
				txn(5, models.Breakdown{"dance": 5}),
				txn(0, models.Breakdown{"dance": 4}),
			},
			total:  5,
			byType: map[string]int64{"dance": 5},
		},
		{
			name:   "merged negative row without prior balance",
			txns:   []models.CreditTransaction{txn(-1, models.Breakdown{"guitar": 1})},
			total:  -1,
			byType: map[string]int64{"guitar": -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Fold(tt.txns)

			assert.Equal(t, tt.total, got.Total)
			assert.Equal(t, tt.byType, got.ByType)

			var sum int64
			for _, x := range tt.txns {
				sum += x.Delta
			}
			assert.Equal(t, sum, got.Total, "total must equal the sum of deltas")
		})
	}
}

func TestPlanDeduction_ClampsAtZero(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		balance       Balance
		amount        int64
		category      string
		wantDelta     int64
		wantBreakdown models.Breakdown
	}{
		{
			name:          "within balance",
			balance:       Balance{Total: 9, ByType: map[string]int64{"Vocal": 9}},
			amount:        8,
			category:      "Vocal",
			wantDelta:     -8,
			wantBreakdown: models.Breakdown{"Vocal": 8},
		},
		{
			name:          "total and category clamp independently",
			balance:       Balance{Total: 10, ByType: map[string]int64{"guitar": 3}},
			amount:        5,
			category:      "guitar",
			wantDelta:     -5,
			wantBreakdown: models.Breakdown{"guitar": 3},
		},
		{
			name:          "more than available",
			balance:       Balance{Total: 2, ByType: map[string]int64{"dance": 2}},
			amount:        7,
			category:      "dance",
			wantDelta:     -2,
			wantBreakdown: models.Breakdown{"dance": 2},
		},
		{
			name:          "negative total deducts nothing",
			balance:       Balance{Total: -1, ByType: map[string]int64{"guitar": -1}},
			amount:        1,
			category:      "guitar",
			wantDelta:     0,
			wantBreakdown: models.Breakdown{},
		},
		{
			name:          "no category",
			balance:       Balance{Total: 4, ByType: map[string]int64{}},
			amount:        1,
			wantDelta:     -1,
			wantBreakdown: models.Breakdown{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			delta, breakdown := planDeduction(tt.balance, tt.amount, tt.category)

			assert.Equal(t, tt.wantDelta, delta)
			assert.Equal(t, tt.wantBreakdown, breakdown)

			after := tt.balance.add(delta, breakdown)
			if tt.balance.Total >= 0 {
				assert.GreaterOrEqual(t, after.Total, int64(0))
			}
			if tt.category != "" && tt.balance.ByType[tt.category] >= 0 {
				assert.GreaterOrEqual(t, after.ByType[tt.category], int64(0))
			}
		})
	}
}

func TestLowBalanceCrossed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		prev, next int64
		every      bool
		want       bool
	}{
		{"crossing down", 9, 1, false, true},
		{"landing on threshold", 3, 2, false, true},
		{"already below", 2, 1, false, false},
		{"already below, every write", 2, 1, true, true},
		{"above threshold", 10, 3, true, false},
		{"grant that stays low", 0, 1, false, false},
		{"grant that stays low, every write", 0, 1, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, lowBalanceCrossed(tt.prev, tt.next, 2, tt.every))
		})
	}
}

func TestBalanceAdd_DoesNotAliasInput(t *testing.T) {
	t.Parallel()

	before := Balance{Total: 1, ByType: map[string]int64{"Any": 1}}
	after := before.add(2, models.Breakdown{"Any": 2})

	assert.Equal(t, int64(1), before.ByType["Any"])
	assert.Equal(t, int64(3), after.ByType["Any"])
}
