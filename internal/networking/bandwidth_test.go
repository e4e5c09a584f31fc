package networking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegulatorEnforcesRate(t *testing.T) {
	current := time.Unix(0, 0)
	regulator := NewRegulator(100, func() time.Time { return current })

	assert.True(t, regulator.Allow("client-1", 60))
	assert.False(t, regulator.Allow("client-1", 50))

	current = current.Add(500 * time.Millisecond)
	assert.True(t, regulator.Allow("client-1", 50))

	current = current.Add(time.Second)
	usage := regulator.Usage()
	require.Len(t, usage, 1)
	assert.Equal(t, "client-1", usage[0].ClientID)
	assert.EqualValues(t, 110, usage[0].SentBytes)
	assert.EqualValues(t, 1, usage[0].Skipped)
	assert.InDelta(t, 110/1.5, usage[0].BytesPerSecond, 1e-9)
	assert.InDelta(t, 100, usage[0].AvailableBytes, 1e-9)
	assert.EqualValues(t, 1, regulator.Skipped())
}

func TestRegulatorTracksClientsIndependently(t *testing.T) {
	current := time.Unix(0, 0)
	regulator := NewRegulator(10, func() time.Time { return current })

	assert.True(t, regulator.Allow("a", 10))
	assert.False(t, regulator.Allow("a", 1))
	assert.True(t, regulator.Allow("b", 10))

	regulator.Forget("a")
	assert.True(t, regulator.Allow("a", 10))
}

func TestRegulatorDisabled(t *testing.T) {
	regulator := NewRegulator(0, nil)
	assert.False(t, regulator.Enabled())
	for i := 0; i < 100; i++ {
		assert.True(t, regulator.Allow("client", 1<<20))
	}
	assert.Empty(t, regulator.Usage())

	var nilRegulator *Regulator
	assert.True(t, nilRegulator.Allow("client", 10))
	assert.Zero(t, nilRegulator.Skipped())
}
