package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreDeterminism(t *testing.T) {
	first := Score(300, 20, 3, 5, 100)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Score(300, 20, 3, 5, 100))
	}
}

func TestScoreReference(t *testing.T) {
	// duration 300/600 -> 50, bounce 100-20 -> 80, pages 3/10 -> 30,
	// conversion rate 5% -> 50. Weighted: 15 + 24 + 6 + 10 = 55.
	assert.Equal(t, 55, Score(300, 20, 3, 5, 100))
}

func TestScoreBounds(t *testing.T) {
	assert.Equal(t, 0, Score(0, 100, 0, 0, 0))
	assert.Equal(t, 100, Score(600, 0, 10, 10, 100))
	// Components saturate rather than overflow.
	assert.Equal(t, 100, Score(10000, 0, 50, 1000, 100))
}

func TestScoreZeroSessions(t *testing.T) {
	// No sessions means no conversion component, not a division by zero.
	got := Score(600, 0, 10, 50, 0)
	assert.Equal(t, 80, got)
}

func TestScoreRounding(t *testing.T) {
	// duration 100/600 -> 16.66..., weighted 5.0 exactly; bounce 95 -> 28.5;
	// sum 33.5 rounds half away from zero to 34.
	assert.Equal(t, 34, Score(100, 5, 0, 0, 0))
}
