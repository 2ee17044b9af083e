package models

import (
	"time"

	"github.com/google/uuid"
)

// Session — состояние одной игровой сессии (одна история одного игрока).
type Session struct {
	ID           uuid.UUID `db:"id" json:"session_id"`
	PlayerName   string    `db:"player_name" json:"player_name"`
	AgeRange     string    `db:"age_range" json:"age_range"`
	Theme        string    `db:"theme" json:"theme"`
	StorySummary string    `db:"story_summary" json:"story_summary"`
	TurnNumber   int       `db:"turn_number" json:"turn_number"`
	MaxTurns     int       `db:"max_turns" json:"max_turns"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	IsFinished   bool      `db:"is_finished" json:"is_finished"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	LastActivity time.Time `db:"last_activity" json:"last_activity"`
}

// Turn — один ход истории. Запись неизменяема после сохранения.
// PlayerChoice и CustomInput взаимоисключающие; на первом ходе оба пустые.
type Turn struct {
	ID           uuid.UUID `db:"id" json:"id"`
	SessionID    uuid.UUID `db:"session_id" json:"session_id"`
	TurnNumber   int       `db:"turn_number" json:"turn_number"`
	SceneID      string    `db:"scene_id" json:"scene_id"`
	SceneText    string    `db:"scene_text" json:"scene_text"`
	PlayerChoice *string   `db:"player_choice" json:"player_choice,omitempty"`
	CustomInput  *string   `db:"custom_input" json:"custom_input,omitempty"`
	StorySummary string    `db:"story_summary" json:"story_summary"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Choice — вариант действия, предлагаемый игроку.
type Choice struct {
	ChoiceID string `json:"choice_id"`
	Text     string `json:"text"`
}

// Scene — одна сцена истории в ответе API.
type Scene struct {
	SceneID   string    `json:"scene_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// StoryMetadata — метаданные сессии в ответе API.
type StoryMetadata struct {
	Turns      int    `json:"turns"`
	MaxTurns   int    `json:"max_turns"`
	Theme      string `json:"theme"`
	AgeRange   string `json:"age_range"`
	IsFinished bool   `json:"is_finished"`
}

// StoryResponse — ответ на start/continue.
type StoryResponse struct {
	SessionID    uuid.UUID     `json:"session_id"`
	StorySummary string        `json:"story_summary"`
	CurrentScene Scene         `json:"current_scene"`
	Choices      []Choice      `json:"choices"`
	Metadata     StoryMetadata `json:"metadata"`
}

// StartStoryRequest — запрос на создание новой истории.
type StartStoryRequest struct {
	PlayerName string `json:"player_name" validate:"required"`
	AgeRange   string `json:"age_range"`
	Theme      string `json:"theme"`
}

// ContinueStoryRequest — запрос на продолжение истории.
// TurnNumber — номер хода, который клиент считает текущим; несовпадение
// означает повторную отправку уже использованного выбора.
type ContinueStoryRequest struct {
	SessionID    uuid.UUID `json:"session_id"`
	ChoiceID     string    `json:"choice_id,omitempty"`
	ChoiceText   string    `json:"choice_text,omitempty"`
	CustomInput  string    `json:"custom_input,omitempty"`
	TurnNumber   int       `json:"turn_number"`
	StorySummary string    `json:"story_summary"`
}

// SessionHistory — полная история сессии.
type SessionHistory struct {
	Session Session `json:"session"`
	Turns   []Turn  `json:"turns"`
}
