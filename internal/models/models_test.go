package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterval(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return base.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	t.Run("Validate", func(t *testing.T) {
		assert.NoError(t, NewInterval(at(0, 0), at(1, 0)).Validate())
		assert.Error(t, NewInterval(time.Time{}, at(1, 0)).Validate())
		assert.Error(t, NewInterval(at(0, 0), time.Time{}).Validate())
		assert.Error(t, NewInterval(at(1, 0), at(1, 0)).Validate())
		assert.Error(t, NewInterval(at(2, 0), at(1, 0)).Validate())
	})

	t.Run("StorableRange", func(t *testing.T) {
		y2300 := time.Date(2300, 1, 1, 10, 0, 0, 0, time.UTC)
		assert.Error(t, NewInterval(y2300, y2300.Add(2*time.Hour)).Validate())
		assert.Error(t, NewInterval(at(0, 0), y2300).Validate())

		y1600 := time.Date(1600, 1, 1, 10, 0, 0, 0, time.UTC)
		assert.Error(t, NewInterval(y1600, y1600.Add(time.Hour)).Validate())

		assert.NoError(t, NewInterval(MaxTime.Add(-time.Hour), MaxTime).Validate())
		assert.NoError(t, NewInterval(MinTime, MinTime.Add(time.Hour)).Validate())
		assert.Equal(t, MaxTime, time.Unix(0, MaxTime.UnixNano()).UTC())
	})

	t.Run("Overlaps", func(t *testing.T) {
		a := NewInterval(at(0, 0), at(2, 0))
		assert.True(t, a.Overlaps(NewInterval(at(1, 0), at(3, 0))))
		assert.True(t, a.Overlaps(NewInterval(at(0, 30), at(1, 0))))
		assert.True(t, a.Overlaps(a))
		assert.False(t, a.Overlaps(NewInterval(at(2, 0), at(3, 0))), "adjacent after")
		assert.False(t, a.Overlaps(NewInterval(at(-1, 0), at(0, 0))), "adjacent before")
	})

	t.Run("EqualAcrossZones", func(t *testing.T) {
		a := NewInterval(at(0, 0), at(1, 0))
		loc := time.FixedZone("UTC+3", 3*3600)
		b := NewInterval(at(0, 0).In(loc), at(1, 0).In(loc))
		assert.True(t, a.Equal(b))
		assert.Equal(t, time.Hour, a.Duration())
	})
}

func TestAmount(t *testing.T) {
	assert.Equal(t, Amount(5000), AmountFromDecimal(decimal.NewFromInt(50)))
	assert.Equal(t, Amount(2050), AmountFromDecimal(decimal.RequireFromString("20.5")))
	assert.Equal(t, Amount(13), AmountFromDecimal(decimal.RequireFromString("0.125")))
	assert.True(t, decimal.RequireFromString("12.34").Equal(Amount(1234).Decimal()))
	assert.Equal(t, "50.00", Amount(5000).String())
	assert.Equal(t, "0.07", Amount(7).String())
	assert.Equal(t, "-1.25", Amount(-125).String())

	raw, err := json.Marshal(struct {
		Cost Amount `json:"cost"`
	}{Cost: 1234})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cost": 12.34}`, string(raw))

	var decoded Amount
	require.NoError(t, json.Unmarshal([]byte(`19.99`), &decoded))
	assert.Equal(t, Amount(1999), decoded)
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &decoded))
}

func TestLotSpotNumbers(t *testing.T) {
	byCapacity := &Lot{Capacity: 3}
	assert.Equal(t, []int{1, 2, 3}, byCapacity.SpotNumbers())

	explicit := &Lot{Spots: []int{7, 2, 5}, Capacity: 10}
	assert.Equal(t, []int{2, 5, 7}, explicit.SpotNumbers())
	assert.Equal(t, []int{7, 2, 5}, explicit.Spots, "declared order untouched")

	lot := &Lot{PricePerHour: decimal.RequireFromString("0.125")}
	assert.Equal(t, "0.125", lot.Rate().String(), "rate keeps sub-cent precision")
}
