package trader

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocbot/ocbot/pkg/types"
)

func TestSideForMatch(t *testing.T) {
	// trend-follow trades with the move, reverse trades against it
	assert.Equal(t, SideBuy, sideForMatch(types.DirectionUp, false))
	assert.Equal(t, SideSell, sideForMatch(types.DirectionDown, false))
	assert.Equal(t, SideSell, sideForMatch(types.DirectionUp, true))
	assert.Equal(t, SideBuy, sideForMatch(types.DirectionDown, true))
}
