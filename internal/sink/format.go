package sink

import (
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-stream/internal/broadcast"
	"github.com/nidhogg/nuka-stream/internal/insight"
)

// Format renders a message as a title and a plain-text body for chat sinks.
func Format(msg broadcast.Message) (title, body string) {
	switch p := msg.Payload.(type) {
	case broadcast.ContextUpdatePayload:
		title = fmt.Sprintf("Context update: %s", msg.SessionID)
		var b strings.Builder
		fmt.Fprintf(&b, "Dominant activity: %s\n", orNone(string(p.ActivitySummary.DominantType)))
		fmt.Fprintf(&b, "Focus %.2f, productivity %.2f, energy %s\n",
			p.ActivitySummary.FocusScore, p.ActivitySummary.ProductivityScore, p.ActivitySummary.EnergyLevel)
		fmt.Fprintf(&b, "%d events, relevance %.2f", p.EventCount, p.RelevanceScore)
		if len(p.ActivitySummary.CurrentProjects) > 0 {
			fmt.Fprintf(&b, "\nProjects: %s", strings.Join(p.ActivitySummary.CurrentProjects, ", "))
		}
		for _, in := range p.Insights {
			fmt.Fprintf(&b, "\n• %s", in.Title)
		}
		return title, b.String()
	case insight.Insight:
		title = fmt.Sprintf("[%s] %s", p.Category, p.Title)
		body = p.Description
		if p.ActionSuggested != "" {
			body += "\nSuggested: " + p.ActionSuggested
		}
		return title, body
	case broadcast.SystemPayload:
		if msg.Type == broadcast.TypeAlert {
			return "Alert: " + p.Event, p.Detail
		}
		return "Stream " + p.Event, p.Detail
	default:
		return string(msg.Type), fmt.Sprintf("%v", msg.Payload)
	}
}

// Text joins Format's output into one line-oriented message.
func Text(msg broadcast.Message) string {
	title, body := Format(msg)
	if body == "" {
		return fmt.Sprintf("*%s* (priority %d)", title, msg.Priority)
	}
	return fmt.Sprintf("*%s* (priority %d)\n%s", title, msg.Priority, body)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
