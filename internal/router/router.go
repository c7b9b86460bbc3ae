// Package router maps processed events to bus topics and partition keys, and
// applies restriction-service overrides, per spec §4.9.
package router

import (
	"github.com/TimurManjosov/goflagship/internal/capture"
)

// RestrictionType is one action the Restriction Service can apply to an event.
type RestrictionType string

const (
	DropEvent            RestrictionType = "drop_event"
	ForceOverflow        RestrictionType = "force_overflow"
	SkipPersonProcessing RestrictionType = "skip_person_processing"
	RedirectToDLQ        RestrictionType = "redirect_to_dlq"
)

// RestrictionService returns the restrictions applicable to one event, keyed
// by (token, pipeline) and optionally filtered by event name/distinct_id/session_id.
type RestrictionService interface {
	Restrictions(token, pipeline, eventName, distinctID, sessionID string) map[RestrictionType]bool
}

// Route is the routing decision for one event.
type Route struct {
	Topic        string
	PartitionKey string // empty means "no partition locality" (nil key)
	Dropped      bool
}

const pipelineCapture = "capture"

// RouteEvent implements §4.9's topic-selection table plus restriction overrides.
func RouteEvent(e capture.ProcessedEvent, restrictions RestrictionService) Route {
	applicable := map[RestrictionType]bool{}
	if restrictions != nil {
		applicable = restrictions.Restrictions(e.Token, pipelineCapture, e.EventName, e.DistinctID, e.SessionID)
	}

	if applicable[DropEvent] {
		return Route{Dropped: true}
	}
	if applicable[SkipPersonProcessing] {
		e.SkipPersonProcessing = true
	}
	if applicable[ForceOverflow] {
		e.ForceOverflow = true
	}
	if applicable[RedirectToDLQ] {
		e.RedirectToDLQ = true
	}

	if e.RedirectToDLQ {
		return Route{Topic: "dlq", PartitionKey: tokenDistinctKey(e)}
	}

	switch e.DataType {
	case capture.AnalyticsMain:
		if e.ForceOverflow {
			return Route{Topic: "main"}
		}
		return Route{Topic: "main", PartitionKey: tokenDistinctKey(e)}
	case capture.AnalyticsHistorical:
		return Route{Topic: "historical", PartitionKey: tokenDistinctKey(e)}
	case capture.SnapshotMain:
		return Route{Topic: "main", PartitionKey: e.SessionID}
	case capture.ExceptionMain:
		return Route{Topic: "exceptions", PartitionKey: tokenDistinctKey(e)}
	case capture.HeatmapMain:
		return Route{Topic: "heatmaps", PartitionKey: tokenDistinctKey(e)}
	case capture.ClientIngestionWarning:
		return Route{Topic: "warnings", PartitionKey: tokenDistinctKey(e)}
	default:
		return Route{Topic: "main", PartitionKey: tokenDistinctKey(e)}
	}
}

func tokenDistinctKey(e capture.ProcessedEvent) string {
	return e.Token + ":" + e.DistinctID
}
