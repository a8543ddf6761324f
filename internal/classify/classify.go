// Package classify derives topic and disposition labels for a
// conversation from its message history and the outcome of its most
// recent turn.
//
// Classification is deterministic: it inspects which tools were invoked
// and falls back to keyword matching over the user's own words. It is
// recomputed after every turn and overwrites the prior labels — the
// record carries the latest assessment, not a history of assessments.
package classify

import (
	"strings"

	"github.com/matchagon/bookly-agent/internal/llm"
)

// Topic is the conversation subject, from a fixed enumerated set.
type Topic string

// Topic values. TopicOrder defines the tie-break order for metrics.
const (
	TopicOrderStatus    Topic = "order_status"
	TopicReturnsRefunds Topic = "returns_refunds"
	TopicOrderChanges   Topic = "order_changes"
	TopicGeneralInquiry Topic = "general_inquiry"
)

// TopicOrder is the canonical topic enumeration order.
var TopicOrder = []Topic{
	TopicOrderStatus,
	TopicReturnsRefunds,
	TopicOrderChanges,
	TopicGeneralInquiry,
}

// Disposition is the classified outcome of a conversation.
type Disposition string

// Disposition values. DispositionOrder defines the reporting order.
const (
	DispositionResolved   Disposition = "resolved"
	DispositionEscalated  Disposition = "escalated"
	DispositionAbandoned  Disposition = "abandoned"
	DispositionInProgress Disposition = "in_progress"
)

// DispositionOrder is the canonical disposition enumeration order.
var DispositionOrder = []Disposition{
	DispositionResolved,
	DispositionEscalated,
	DispositionAbandoned,
	DispositionInProgress,
}

// Display labels for admin views.
var (
	topicLabels = map[Topic]string{
		TopicOrderStatus:    "Order Status",
		TopicReturnsRefunds: "Returns & Refunds",
		TopicOrderChanges:   "Order Changes",
		TopicGeneralInquiry: "General Inquiry",
	}
	dispositionLabels = map[Disposition]string{
		DispositionResolved:   "Resolved",
		DispositionEscalated:  "Escalated",
		DispositionAbandoned:  "Abandoned",
		DispositionInProgress: "In Progress",
	}
)

// TopicLabel returns the display label for a topic.
func TopicLabel(t Topic) string {
	if label, ok := topicLabels[t]; ok {
		return label
	}
	return string(t)
}

// DispositionLabel returns the display label for a disposition.
func DispositionLabel(d Disposition) string {
	if label, ok := dispositionLabels[d]; ok {
		return label
	}
	return string(d)
}

// NormalizeTopic maps unknown topic strings to the fallback label.
func NormalizeTopic(s string) Topic {
	t := Topic(s)
	if _, ok := topicLabels[t]; ok {
		return t
	}
	return TopicGeneralInquiry
}

// NormalizeDisposition maps unknown disposition strings to in_progress.
func NormalizeDisposition(s string) Disposition {
	d := Disposition(s)
	if _, ok := dispositionLabels[d]; ok {
		return d
	}
	return DispositionInProgress
}

// Outcome describes how the most recent turn ended.
type Outcome int

const (
	// OutcomeAnswered means the turn produced a normal final answer.
	OutcomeAnswered Outcome = iota
	// OutcomeLoopExceeded means the bounded tool-call cycle ran out.
	OutcomeLoopExceeded
	// OutcomeDegraded means the turn ended with a degraded reply after
	// the completion API stayed unreachable.
	OutcomeDegraded
	// OutcomeInterrupted means the turn was abandoned mid-cycle, e.g.
	// because the client disconnected.
	OutcomeInterrupted
)

// Run classifies a conversation from its message history and the
// latest turn outcome.
func Run(messages []llm.Message, outcome Outcome) (Topic, Disposition) {
	return inferTopic(messages), inferDisposition(messages, outcome)
}

// Tool-to-topic mapping: the tools a conversation invoked are the
// strongest signal of what it was about.
func inferTopic(messages []llm.Message) Topic {
	var toolNames []string
	var userText strings.Builder

	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser:
			userText.WriteString(strings.ToLower(m.Content))
			userText.WriteByte(' ')
		case llm.RoleAssistant:
			for _, tc := range m.ToolCalls {
				toolNames = append(toolNames, tc.Name)
			}
		}
	}

	for _, name := range toolNames {
		if name == "check_return_eligibility" || name == "initiate_return" {
			return TopicReturnsRefunds
		}
	}
	for _, name := range toolNames {
		if name == "lookup_order" {
			return TopicOrderStatus
		}
	}

	text := userText.String()
	if containsAny(text, "return", "refund", "damaged", "wrong", "defective") {
		return TopicReturnsRefunds
	}
	if containsAny(text, "order", "tracking", "delivery", "status", "where is") {
		return TopicOrderStatus
	}
	if containsAny(text, "cancel", "address", "change") {
		return TopicOrderChanges
	}

	return TopicGeneralInquiry
}

func inferDisposition(messages []llm.Message, outcome Outcome) Disposition {
	switch outcome {
	case OutcomeLoopExceeded, OutcomeDegraded:
		return DispositionEscalated
	case OutcomeInterrupted:
		return DispositionInProgress
	}

	// A normal answer that hands off to a human still counts as an
	// escalation.
	var assistantText strings.Builder
	for _, m := range messages {
		if m.Role == llm.RoleAssistant {
			assistantText.WriteString(strings.ToLower(m.Content))
			assistantText.WriteByte(' ')
		}
	}
	if containsAny(assistantText.String(), "escalat", "supervisor", "human agent", "human teammate", "specialist") {
		return DispositionEscalated
	}

	return DispositionResolved
}

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
