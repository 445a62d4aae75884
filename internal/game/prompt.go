package game

import (
	"sort"
	"strings"
)

// DefaultTreatment is used when no treatment, or an unknown one, is requested.
const DefaultTreatment = "default"

// Treatment is a named set of prompt templates. Placeholders are written as
// {name} and filled by Format.
type Treatment struct {
	Name    string
	Rules   string // {role}
	Guesser string // {game_prompt} {values} {suits}
	Judge   string // {game_prompt} {card}
}

var treatments = map[string]Treatment{
	DefaultTreatment: {
		Name: DefaultTreatment,
		Rules: `# Rules
You are playing a game called 'Guess the card'.
There are two players: the guesser and the judge.

We start with a standard poker deck of 52 cards where the lowest value is 2 and the highest value is A.
The suits, ordered left to right, are: diamonds, hearts, clubs, spades. Thus, clubs is to the right of both diamonds and hearts.

The guesser will ask for hints from the judge until they are ready to guess the card.
The guesser can ask for a hint in the form of 'Is the value of the card <value>?' or 'Is the suit of the card <suit>?'
If the hint is for the value, the judge will respond 'higher', 'lower', or 'correct'.
If the hint is for the suit, the judge will respond 'left', 'right', or 'correct'.

The guesser can guess the card with the statement 'The card is a <value> of <suit>'.
The guesser must guess the value in the correct format to win.

You will be the {role}.`,
		Guesser: `{game_prompt}

# Hints
Below are some data structures to help you deduce the card.
Values: {values}
Suits: {suits}

I am the judge; ask for your first hint.`,
		Judge: `{game_prompt}

You will never lie.
You will only respond to guesses and hints.
When the guesser identifies the card, you will respond with "EOF"

The card you picked from the deck is {card}`,
	},
	"terse": {
		Name: "terse",
		Rules: `# Rules
Game: 'Guess the card'. Players: guesser and judge. Deck: 52 cards, values 2 to A, suits left to right diamonds, hearts, clubs, spades.
Hints: 'Is the value of the card <value>?' is answered 'higher', 'lower', or 'correct'.
'Is the suit of the card <suit>?' is answered 'left', 'right', or 'correct'.
Final guess: 'The card is a <value> of <suit>'.
Ask or answer one thing per message.

You are the {role}.`,
		Guesser: `{game_prompt}

Values: {values}
Suits: {suits}

Ask for your first hint.`,
		Judge: `{game_prompt}

Never lie. Only answer hints and guesses. Reply "EOF" once the card is guessed.

Your card is {card}`,
	},
}

// LookupTreatment returns the named treatment. Unknown names fall back to
// the default and report ok=false.
func LookupTreatment(name string) (t Treatment, ok bool) {
	if name == "" {
		return treatments[DefaultTreatment], true
	}
	t, ok = treatments[name]
	if !ok {
		return treatments[DefaultTreatment], false
	}
	return t, true
}

// Treatments returns the known treatment names, sorted.
func Treatments() []string {
	names := make([]string, 0, len(treatments))
	for name := range treatments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prompts holds the rendered opening messages of a game.
type Prompts struct {
	Guesser string
	Judge   string
}

// Format renders the opening prompts for card.
func (t Treatment) Format(card Card) Prompts {
	guesserRules := fill(t.Rules, map[string]string{"role": "guesser"})
	judgeRules := fill(t.Rules, map[string]string{"role": "judge"})
	return Prompts{
		Guesser: fill(t.Guesser, map[string]string{
			"game_prompt": guesserRules,
			"values":      strings.Join(Values, ","),
			"suits":       strings.Join(Suits, ","),
		}),
		Judge: fill(t.Judge, map[string]string{
			"game_prompt": judgeRules,
			"card":        card.String(),
		}),
	}
}

// fill substitutes every {key} in one pass so substituted text is never
// rescanned.
func fill(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
