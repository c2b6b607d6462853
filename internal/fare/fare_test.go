package fare

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceKm(t *testing.T) {
	t.Run("zero distance for identical points", func(t *testing.T) {
		d, err := DistanceKm(Point{0, 0}, Point{0, 0})
		assert.NoError(t, err)
		assert.Equal(t, 0.0, d)
	})

	t.Run("johannesburg cbd to sandton", func(t *testing.T) {
		// ~10.8 km apart
		d, err := DistanceKm(Point{-26.2041, 28.0473}, Point{-26.1076, 28.0567})
		assert.NoError(t, err)
		assert.InDelta(t, 10.8, d, 0.2)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := Point{-26.2041, 28.0473}
		b := Point{-26.1076, 28.0567}
		d1, err := DistanceKm(a, b)
		assert.NoError(t, err)
		d2, err := DistanceKm(b, a)
		assert.NoError(t, err)
		assert.InDelta(t, d1, d2, 1e-9)
	})

	t.Run("rejects NaN", func(t *testing.T) {
		_, err := DistanceKm(Point{math.NaN(), 0}, Point{0, 0})
		assert.Error(t, err)
		var coordErr *ErrInvalidCoordinate
		assert.ErrorAs(t, err, &coordErr)
	})

	t.Run("rejects out of range latitude", func(t *testing.T) {
		_, err := DistanceKm(Point{0, 0}, Point{91, 0})
		assert.Error(t, err)
	})

	t.Run("rejects out of range longitude", func(t *testing.T) {
		_, err := DistanceKm(Point{0, -181}, Point{0, 0})
		assert.Error(t, err)
	})
}

func TestParseTable(t *testing.T) {
	t.Run("default spec", func(t *testing.T) {
		table, err := ParseTable(DefaultTableSpec)
		require.NoError(t, err)
		tiers := table.Tiers()
		require.Len(t, tiers, 3)
		assert.Equal(t, int64(1200), tiers[0].Fare)
		assert.Equal(t, int64(2500), tiers[2].Fare)
	})

	t.Run("unsorted input is ordered by bound", func(t *testing.T) {
		table, err := ParseTable("10=1800,5=1200,*=2500")
		require.NoError(t, err)
		assert.Equal(t, int64(1200), table.FareFor(3))
	})

	t.Run("missing open-ended tier", func(t *testing.T) {
		_, err := ParseTable("5=1200,10=1800")
		assert.Error(t, err)
	})

	t.Run("duplicate open-ended tier", func(t *testing.T) {
		_, err := ParseTable("*=1200,*=1800")
		assert.Error(t, err)
	})

	t.Run("non-monotonic fares rejected", func(t *testing.T) {
		_, err := ParseTable("5=1800,10=1200,*=2500")
		assert.Error(t, err)
	})

	t.Run("malformed entries rejected", func(t *testing.T) {
		for _, spec := range []string{"abc", "5=", "=1200", "-5=1200,*=100", "5=-1,*=100"} {
			_, err := ParseTable(spec)
			assert.Error(t, err, "spec %q", spec)
		}
	})
}

func TestFareFor(t *testing.T) {
	table := DefaultTable()

	t.Run("zero distance gets lowest tier", func(t *testing.T) {
		assert.Equal(t, int64(1200), table.FareFor(0))
	})

	t.Run("tier boundaries are inclusive", func(t *testing.T) {
		assert.Equal(t, int64(1200), table.FareFor(5))
		assert.Equal(t, int64(1800), table.FareFor(10))
	})

	t.Run("beyond last bound uses open-ended tier", func(t *testing.T) {
		assert.Equal(t, int64(2500), table.FareFor(10.01))
		assert.Equal(t, int64(2500), table.FareFor(500))
	})

	t.Run("monotonic in distance", func(t *testing.T) {
		prev := int64(0)
		for d := 0.0; d <= 50; d += 0.25 {
			f := table.FareFor(d)
			assert.GreaterOrEqual(t, f, prev, "fare decreased at %.2f km", d)
			prev = f
		}
	})
}
