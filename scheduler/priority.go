package scheduler

import (
	"fmt"
	"strings"
)

// Priority orders pending requests. Higher values dispatch first.
type Priority int

const (
	DontCare Priority = iota
	Low
	Normal
	High
	Critical
)

var priorityNames = map[Priority]string{
	DontCare: "dont_care",
	Low:      "low",
	Normal:   "normal",
	High:     "high",
	Critical: "critical",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a configuration value such as "high" or "dont-care" to a Priority.
func ParsePriority(s string) (Priority, error) {
	normalized := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	if normalized == "dontcare" {
		return DontCare, nil
	}
	for p, name := range priorityNames {
		if name == normalized {
			return p, nil
		}
	}
	return DontCare, fmt.Errorf("unknown priority %q", s)
}
