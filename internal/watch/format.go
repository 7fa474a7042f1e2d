// Copyright 2026 The Bastion Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/peg/bastion/internal/audit"
)

const (
	maxVisibleEvents = 1000
	maxSummaryWidth  = 80
)

// eventSummary picks the most informative fragment of an event for the
// feed line: the first finding, then the tool, then the stop trigger.
func eventSummary(event audit.Event) string {
	if len(event.Decision.Violations) > 0 {
		return strings.TrimSpace(event.Decision.Violations[0])
	}
	if len(event.Decision.Warnings) > 0 {
		return strings.TrimSpace(event.Decision.Warnings[0])
	}
	if event.Trigger != "" {
		return event.Trigger
	}
	return ""
}

func subjectOf(event audit.Event) string {
	if event.Tool != "" {
		return event.Tool
	}
	switch event.HookType {
	case "prompt_submitted":
		return "prompt"
	case "stop":
		return "stop"
	default:
		return "-"
	}
}

func decisionMeta(action string) (icon string, color lipgloss.Color) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "allow":
		return "✅", lipgloss.Color("10")
	case "warn":
		return "\U0001f7e1", lipgloss.Color("11")
	case "block":
		return "\U0001f534", lipgloss.Color("9")
	default:
		return "•", lipgloss.Color("7")
	}
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

// relativeTime formats the elapsed time as a human-readable string.
func relativeTime(now, ts time.Time) string {
	d := now.Sub(ts)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm ago", h, m)
		}
		return fmt.Sprintf("%dh ago", h)
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// formatEventLine renders one feed line with a relative timestamp.
func formatEventLine(event audit.Event, width int, now time.Time) string {
	icon, _ := decisionMeta(event.Decision.Action)
	rel := fmt.Sprintf("%-8s", relativeTime(now, event.Timestamp))

	subject := truncateRunes(subjectOf(event), 10)

	summary := eventSummary(event)
	if summary == "" {
		summary = "-"
	}
	summary = truncateRunes(summary, maxSummaryWidth)

	agent := event.AgentID
	if agent == "" {
		agent = "-"
	}

	base := fmt.Sprintf("%s %s %-10s %q [%s]", icon, rel, subject, summary, agent)
	return truncateRunes(base, width)
}

func trimEvents(events []audit.Event) []audit.Event {
	if len(events) <= maxVisibleEvents {
		return events
	}
	trimmed := make([]audit.Event, maxVisibleEvents)
	copy(trimmed, events[:maxVisibleEvents])
	return trimmed
}
