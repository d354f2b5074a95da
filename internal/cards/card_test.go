package cards

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueSoftensAces(t *testing.T) {
	hand := []Card{{Rank: "A"}, {Rank: "A"}, {Rank: "9"}}
	assert.Equal(t, 21, Value(hand))
}

func TestValueFaceCards(t *testing.T) {
	hand := []Card{{Rank: "K"}, {Rank: "Q"}}
	assert.Equal(t, 20, Value(hand))
}

func TestValueBust(t *testing.T) {
	hand := []Card{{Rank: "K"}, {Rank: "Q"}, {Rank: "5"}}
	assert.Equal(t, 25, Value(hand))
}

func TestValueSingleAceIsEleven(t *testing.T) {
	hand := []Card{{Rank: "A"}, {Rank: "5"}}
	assert.Equal(t, 16, Value(hand))
}

func TestCodesJoinedEmpty(t *testing.T) {
	assert.Equal(t, "NO", CodesJoined(nil))
}

func TestCodesJoined(t *testing.T) {
	hand := []Card{{Rank: "10", Suit: "H"}, {Rank: "A", Suit: "S"}}
	assert.Equal(t, "10H;AS", CodesJoined(hand))
}

func TestRandomStaysInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := Random()
		v := rankValue(c.Rank)
		assert.True(t, v >= 2 && v <= 11)
	}
}
