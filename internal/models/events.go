package models

import "github.com/google/uuid"

// StreamEventType — тип события потоковой выдачи.
type StreamEventType string

const (
	EventSessionStart StreamEventType = "session_start"
	EventTextChunk    StreamEventType = "text_chunk"
	EventComplete     StreamEventType = "complete"
	EventError        StreamEventType = "error"
)

// StreamEvent — одно типизированное событие, отправляемое клиенту по SSE.
// Поля заполняются в зависимости от Type:
//   - session_start: SessionID
//   - text_chunk:    Content (дельта scene_text)
//   - complete:      SceneText, Choices, Metadata, StorySummary, SessionID
//   - error:         Message, RetryAfter (опционально, для rate limit)
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	SessionID    uuid.UUID       `json:"session_id,omitempty"`
	Content      string          `json:"content,omitempty"`
	SceneText    string          `json:"scene_text,omitempty"`
	Choices      []Choice        `json:"choices,omitempty"`
	StorySummary string          `json:"story_summary,omitempty"`
	Metadata     *StoryMetadata  `json:"metadata,omitempty"`
	Message      string          `json:"message,omitempty"`
	RetryAfter   int             `json:"retry_after,omitempty"`
}
