package game

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
)

// Values are ordered lowest to highest.
var Values = []string{"2", "3", "4", "5", "6", "7", "8", "9", "10", "jack", "queen", "king", "ace"}

// Suits are ordered left to right.
var Suits = []string{"diamonds", "hearts", "clubs", "spades"}

type Card struct {
	Value string
	Suit  string
}

func (c Card) String() string {
	return c.Value + " of " + c.Suit
}

// Draw picks a card uniformly from the 52-card deck. A nil r uses the
// package-level source.
func Draw(r *rand.Rand) Card {
	intN := rand.IntN
	if r != nil {
		intN = r.IntN
	}
	return Card{Value: Values[intN(len(Values))], Suit: Suits[intN(len(Suits))]}
}

// ParseCard accepts "<value> of <suit>", case-insensitive.
func ParseCard(s string) (Card, error) {
	value, suit, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), " of ")
	if !ok {
		return Card{}, fmt.Errorf("card %q: want \"<value> of <suit>\"", s)
	}
	c := Card{Value: strings.TrimSpace(value), Suit: strings.TrimSpace(suit)}
	if !slices.Contains(Values, c.Value) {
		return Card{}, fmt.Errorf("card %q: unknown value %q", s, c.Value)
	}
	if !slices.Contains(Suits, c.Suit) {
		return Card{}, fmt.Errorf("card %q: unknown suit %q", s, c.Suit)
	}
	return c, nil
}
