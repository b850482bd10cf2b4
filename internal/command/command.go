// Package command maps voice transcripts and typed text to time clock
// commands. It is plain phrase matching, not language understanding.
package command

import "strings"

// Command is a recognized time clock action.
type Command string

const (
	ClockIn  Command = "clock_in"
	ClockOut Command = "clock_out"
)

type phrase struct {
	text string
	cmd  Command
}

// phrases are checked in order; the first one contained in the text wins.
var phrases = []phrase{
	{"clock in", ClockIn},
	{"clock out", ClockOut},
	{"clock me in", ClockIn},
	{"clock me out", ClockOut},
	{"punch in", ClockIn},
	{"punch out", ClockOut},
}

// Interpret returns the command for text, or false when nothing matches.
func Interpret(text string) (Command, bool) {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if normalized == "" {
		return "", false
	}
	for _, p := range phrases {
		if strings.Contains(normalized, p.text) {
			return p.cmd, true
		}
	}
	return "", false
}
