// Package metrics aggregates conversation records into summary
// statistics over a time window.
package metrics

import (
	"time"

	"github.com/matchagon/bookly-agent/internal/classify"
	"github.com/matchagon/bookly-agent/internal/session"
)

// TopicCount is one row of a topic breakdown.
type TopicCount struct {
	Topic classify.Topic `json:"topic"`
	Label string         `json:"topic_label"`
	Count int            `json:"count"`
}

// DispositionCount is one row of a disposition breakdown.
type DispositionCount struct {
	Disposition classify.Disposition `json:"disposition"`
	Label       string               `json:"disposition_label"`
	Count       int                  `json:"count"`
}

// Snapshot is a derived, read-only aggregate over the records whose
// updated_at falls inside the window.
type Snapshot struct {
	WindowStart          time.Time          `json:"window_start"`
	WindowEnd            time.Time          `json:"window_end"`
	TotalConversations   int                `json:"total_conversations"`
	ResolvedCount        int                `json:"resolved_conversations"`
	DeflectionRate       float64            `json:"deflection_rate"`
	AvgUserMessages      float64            `json:"avg_user_messages"`
	MostCommonTopic      classify.Topic     `json:"most_common_topic"`
	MostCommonTopicLabel string             `json:"most_common_topic_label"`
	TopicBreakdown       []TopicCount       `json:"topic_breakdown"`
	DispositionBreakdown []DispositionCount `json:"disposition_breakdown"`
}

// Aggregate is a pure function of the record set. An empty window
// yields zero rates, never a division fault. Most-common-topic ties
// break by topic enumeration order.
func Aggregate(records []session.Record, windowStart, windowEnd time.Time) Snapshot {
	topicCounts := make(map[classify.Topic]int)
	dispositionCounts := make(map[classify.Disposition]int)

	total := 0
	resolved := 0
	userMessages := 0

	for _, rec := range records {
		if rec.UpdatedAt.Before(windowStart) || rec.UpdatedAt.After(windowEnd) {
			continue
		}
		total++
		userMessages += rec.UserMessageCount
		topicCounts[rec.Topic]++
		dispositionCounts[rec.Disposition]++
		if rec.Disposition == classify.DispositionResolved {
			resolved++
		}
	}

	snap := Snapshot{
		WindowStart:        windowStart,
		WindowEnd:          windowEnd,
		TotalConversations: total,
		ResolvedCount:      resolved,
		MostCommonTopic:    classify.TopicGeneralInquiry,
	}

	if total > 0 {
		snap.DeflectionRate = float64(resolved) / float64(total)
		snap.AvgUserMessages = float64(userMessages) / float64(total)
	}

	// Walk topics in enumeration order so equal counts resolve to the
	// earlier topic.
	best := -1
	for _, topic := range classify.TopicOrder {
		count := topicCounts[topic]
		if count > 0 {
			snap.TopicBreakdown = append(snap.TopicBreakdown, TopicCount{
				Topic: topic,
				Label: classify.TopicLabel(topic),
				Count: count,
			})
		}
		if count > best {
			best = count
			snap.MostCommonTopic = topic
		}
	}
	if total == 0 {
		snap.MostCommonTopic = classify.TopicGeneralInquiry
	}
	snap.MostCommonTopicLabel = classify.TopicLabel(snap.MostCommonTopic)

	for _, d := range classify.DispositionOrder {
		if count := dispositionCounts[d]; count > 0 {
			snap.DispositionBreakdown = append(snap.DispositionBreakdown, DispositionCount{
				Disposition: d,
				Label:       classify.DispositionLabel(d),
				Count:       count,
			})
		}
	}

	return snap
}
