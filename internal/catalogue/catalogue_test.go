package catalogue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultState(t *testing.T) {
	assert.True(t, DefaultState(KindTaxiway))
	assert.True(t, DefaultState(KindLeadOn))
	assert.True(t, DefaultState(KindStand))
	assert.False(t, DefaultState(KindStopbar))
	assert.False(t, DefaultState(PointKind("runway_guard")))
}

func TestStaticCatalogue(t *testing.T) {
	cat := Static{
		"KJFK": {{ID: "T1", Kind: KindTaxiway}, {ID: "SB1", Kind: KindStopbar}},
	}

	pts, err := cat.Points(context.Background(), "KJFK")
	require.NoError(t, err)
	assert.Len(t, pts, 2)

	pts, err = cat.Points(context.Background(), "EGLL")
	require.NoError(t, err)
	assert.Empty(t, pts)
}
