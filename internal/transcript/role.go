// Package transcript defines the persisted records of a game: the roles that
// author them, transcript rows, audit labels, and the canonical replay format.
package transcript

import (
	"fmt"

	"github.com/mattn/go-runewidth"
)

// Role is who authored a transcript row.
type Role string

const (
	RoleJudge   Role = "judge"
	RoleGuesser Role = "guesser"
	// RoleSystem marks orchestrator bookkeeping rows, never LLM output.
	RoleSystem Role = "system"
)

// Roles lists every role in declaration order.
func Roles() []Role {
	return []Role{RoleJudge, RoleGuesser, RoleSystem}
}

// ParseRole validates a stored role name.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Pretty pads name to the widest of names and appends suffix, so replayed
// lines align: "judge   :", "guesser :", "system  :".
func Pretty(name string, names []string, suffix string) string {
	width := 0
	for _, n := range names {
		if w := runewidth.StringWidth(n); w > width {
			width = w
		}
	}
	return runewidth.FillRight(name, width) + suffix
}

// Pretty renders the role with the default " :" suffix.
func (r Role) Pretty() string {
	return Pretty(string(r), roleNames(), " :")
}

func roleNames() []string {
	roles := Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return names
}
