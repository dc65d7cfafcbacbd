package devserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm(t *testing.T) {
	// Vilnius to Kaunas, roughly 91 km apart.
	d := haversineKm(54.6872, 25.2797, 54.8985, 23.9036)
	assert.InDelta(t, 91, d, 4)

	assert.Zero(t, haversineKm(54.6872, 25.2797, 54.6872, 25.2797))

	// ~500 m north.
	short := haversineKm(54.6872, 25.2797, 54.6917, 25.2797)
	assert.Greater(t, short, 0.4)
	assert.Less(t, short, 0.6)
}
