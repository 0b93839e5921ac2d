package session

import "strings"

// Classifier maps one line of output to a status signal.
type Classifier func(line string) Status

var waitingCues = []string{
	"continue?",
	"enter input:",
	"(y/n)",
	"(yes/no)",
}

var workingCues = []string{
	"calling tool:",
	"reading file:",
	"writing to file:",
	"executing command:",
	"thinking...",
	"processing",
}

// Classify reports the status a line of assistant output suggests.
// Matching is case-insensitive; waiting cues win over working cues.
func Classify(line string) Status {
	lower := strings.ToLower(line)
	if containsAny(lower, waitingCues) {
		return StatusWaiting
	}
	if containsAny(lower, workingCues) {
		return StatusWorking
	}
	return StatusIdle
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}
