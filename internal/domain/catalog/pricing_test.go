package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLineTotal(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		discount string
		qty      int
		want     string
	}{
		{name: "no discount", unit: "50000", discount: "0", qty: 2, want: "100000"},
		{name: "ten percent", unit: "45000", discount: "10", qty: 1, want: "40500"},
		{name: "fractional result rounds", unit: "9.99", discount: "15", qty: 3, want: "25.47"},
		{name: "negative discount clamps to zero", unit: "100", discount: "-5", qty: 1, want: "100"},
		{name: "discount over 100 clamps", unit: "100", discount: "150", qty: 4, want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LineTotal(
				decimal.RequireFromString(tt.unit),
				decimal.RequireFromString(tt.discount),
				tt.qty,
			)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestItemUnavailableError(t *testing.T) {
	err := &ItemUnavailableError{FoodID: 7, BranchID: 2}
	assert.Equal(t, "food 7 is not available in branch 2", err.Error())
}
