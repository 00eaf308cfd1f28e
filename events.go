package main

import "encoding/json"

// StreamEventType tags one kind of pipeline progress event.
type StreamEventType string

const (
	EventStage1Start    StreamEventType = "stage1_start"
	EventStage1Complete StreamEventType = "stage1_complete"
	EventStage2Start    StreamEventType = "stage2_start"
	EventStage2Complete StreamEventType = "stage2_complete"
	EventStage3Start    StreamEventType = "stage3_start"
	EventStage3Complete StreamEventType = "stage3_complete"
	EventTitleComplete  StreamEventType = "title_complete"
	EventComplete       StreamEventType = "complete"
	EventError          StreamEventType = "error"
)

// StreamEvent is one pipeline progress event. Each kind carries its own
// payload type, so consumers switch on the concrete type instead of digging
// through a generic map.
type StreamEvent interface {
	EventType() StreamEventType
}

type Stage1StartEvent struct{}

type Stage1CompleteEvent struct {
	Results []Stage1Response
}

type Stage2StartEvent struct{}

type Stage2CompleteEvent struct {
	Rankings []Stage2Ranking
	Metadata Metadata
}

type Stage3StartEvent struct{}

type Stage3CompleteEvent struct {
	Result Stage3Response
}

type TitleCompleteEvent struct {
	Title string
}

type CompleteEvent struct{}

type ErrorEvent struct {
	Message string
}

func (Stage1StartEvent) EventType() StreamEventType    { return EventStage1Start }
func (Stage1CompleteEvent) EventType() StreamEventType { return EventStage1Complete }
func (Stage2StartEvent) EventType() StreamEventType    { return EventStage2Start }
func (Stage2CompleteEvent) EventType() StreamEventType { return EventStage2Complete }
func (Stage3StartEvent) EventType() StreamEventType    { return EventStage3Start }
func (Stage3CompleteEvent) EventType() StreamEventType { return EventStage3Complete }
func (TitleCompleteEvent) EventType() StreamEventType  { return EventTitleComplete }
func (CompleteEvent) EventType() StreamEventType       { return EventComplete }
func (ErrorEvent) EventType() StreamEventType          { return EventError }

// IsTerminal reports whether the event ends the session's stream.
func IsTerminal(event StreamEvent) bool {
	switch event.(type) {
	case CompleteEvent, ErrorEvent:
		return true
	}
	return false
}

// EncodeStreamEvent serializes an event into the wire envelope:
// {"type": ..., "data": ...} with stage2_complete additionally carrying the
// label map and leaderboard under "metadata", and error carrying "message".
func EncodeStreamEvent(event StreamEvent) ([]byte, error) {
	envelope := map[string]interface{}{"type": event.EventType()}

	switch ev := event.(type) {
	case Stage1CompleteEvent:
		envelope["data"] = ev.Results
	case Stage2CompleteEvent:
		envelope["data"] = ev.Rankings
		envelope["metadata"] = ev.Metadata
	case Stage3CompleteEvent:
		envelope["data"] = ev.Result
	case TitleCompleteEvent:
		envelope["data"] = map[string]string{"title": ev.Title}
	case ErrorEvent:
		envelope["message"] = ev.Message
	}

	return json.Marshal(envelope)
}
