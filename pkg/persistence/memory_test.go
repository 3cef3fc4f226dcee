package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryService(t *testing.T) {
	service := NewMemoryService()
	store := service.NewStore("test")

	j := 3
	err := store.Save(&j)
	assert.NoError(t, err)

	var i int
	err = store.Load(&i)
	assert.NoError(t, err)
	assert.Equal(t, 3, i)

	err = store.Reset()
	assert.NoError(t, err)

	err = store.Load(&i)
	assert.ErrorIs(t, err, ErrPersistenceNotExists)
}

func TestMemoryServiceSubIDs(t *testing.T) {
	service := NewMemoryService()

	a := service.NewStore("tracker", "binance", "BTCUSDT")
	b := service.NewStore("tracker", "binance", "ETHUSDT")

	assert.NoError(t, a.Save(map[string]float64{"anchor": 42000}))

	var out map[string]float64
	assert.ErrorIs(t, b.Load(&out), ErrPersistenceNotExists)

	assert.NoError(t, a.Load(&out))
	assert.Equal(t, 42000.0, out["anchor"])
}
