// Package filter implements the event-type predicate described in
// spec §4.8 (C8), used by transforms declared to accept only Log or only
// Metric events.
package filter

import "firestige.xyz/otus/internal/topology/model"

// EventTypeFilter reports whether ev matches the declared DataType: Any
// always matches, Log matches only *model.LogEvent, Metric matches only
// *model.MetricEvent.
func EventTypeFilter(want model.DataType, ev model.Event) bool {
	switch want {
	case model.DataTypeAny:
		return true
	case model.DataTypeLog:
		return ev.Type() == model.DataTypeLog
	case model.DataTypeMetric:
		return ev.Type() == model.DataTypeMetric
	default:
		return false
	}
}
