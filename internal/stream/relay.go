package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"storyquest-server/internal/models"
	"storyquest-server/internal/safety"
)

// Sink — приемник типизированных событий потоковой выдачи.
type Sink interface {
	Send(event models.StreamEvent) error
}

// SSESink пишет события в формате Server-Sent Events.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink настраивает заголовки SSE и возвращает приемник.
// Ошибка — если ResponseWriter не умеет флашить.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported: response writer is not a flusher")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &SSESink{w: w, flusher: flusher}, nil
}

func (s *SSESink) Send(event models.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Relay превращает сырые фрагменты ответа модели в события text_chunk.
// Дельты scene_text проходят пословное экранирование: законченные слова
// отдаются клиенту, последнее незаконченное придерживается. При попадании
// запрещенного слова дальнейшие чанки глушатся: авторитетный текст принесет
// событие complete после регенерации.
type Relay struct {
	sink      Sink
	extractor *SceneTextExtractor
	logger    *zap.Logger

	pending string
	muted   bool
}

func NewRelay(sink Sink, logger *zap.Logger) *Relay {
	return &Relay{
		sink:      sink,
		extractor: NewSceneTextExtractor(),
		logger:    logger.Named("StreamRelay"),
	}
}

// HandleChunk — обработчик для Provider.GenerateStream.
// Ошибку возвращает только при невозможности писать клиенту.
func (r *Relay) HandleChunk(raw string) error {
	delta := r.extractor.Feed(raw)
	if delta == "" || r.muted {
		return nil
	}

	text := r.pending + delta
	emit := text
	r.pending = ""
	if !r.extractor.Done() {
		// Придерживаем последнее слово: оно может быть недописано.
		if idx := strings.LastIndexAny(text, " \n\t"); idx >= 0 {
			emit, r.pending = text[:idx+1], text[idx+1:]
		} else {
			emit, r.pending = "", text
		}
	}
	if emit == "" {
		return nil
	}

	if safety.ContainsBannedWord(emit) {
		r.muted = true
		r.pending = ""
		r.logger.Warn("Muting stream: banned word in generated delta")
		return nil
	}
	return r.sink.Send(models.StreamEvent{Type: models.EventTextChunk, Content: emit})
}

// Muted сообщает, был ли стрим заглушен экранированием.
func (r *Relay) Muted() bool { return r.muted }

// FlushTail отдает придержанный хвост. Вызывается после успешной валидации
// полного ответа, перед событием complete.
func (r *Relay) FlushTail() error {
	if r.muted || r.pending == "" {
		return nil
	}
	tail := r.pending
	r.pending = ""
	if safety.ContainsBannedWord(tail) {
		r.muted = true
		return nil
	}
	return r.sink.Send(models.StreamEvent{Type: models.EventTextChunk, Content: tail})
}
