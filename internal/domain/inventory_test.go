package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInventoryItem_IsBelowThreshold(t *testing.T) {
	item := InventoryItem{QuantityKg: 4, LowStockThresholdKg: 5}
	assert.True(t, item.IsBelowThreshold())

	// Exactly at the threshold is not below it.
	item.QuantityKg = 5
	assert.False(t, item.IsBelowThreshold())

	item.QuantityKg = 5.01
	assert.False(t, item.IsBelowThreshold())
}
