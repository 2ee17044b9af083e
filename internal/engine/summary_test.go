package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

type fakeSummaryGen struct {
	compressed string
	err        error
	calls      int
	lastReq    models.GenerationRequest
}

func (f *fakeSummaryGen) Summarize(_ context.Context, req models.GenerationRequest) (string, error) {
	f.calls++
	f.lastReq = req
	return f.compressed, f.err
}

func TestSummarizer_AppendsWithoutRecompression(t *testing.T) {
	gen := &fakeSummaryGen{}
	s := newSummarizer(gen, 3, 1500, zap.NewNop())

	got := s.roll(context.Background(), "Mia entered the forest.", "She met a fox.", 2)
	assert.Equal(t, "Mia entered the forest. She met a fox.", got)
	assert.Zero(t, gen.calls)
}

func TestSummarizer_RecompressesEveryNTurns(t *testing.T) {
	gen := &fakeSummaryGen{compressed: "Mia and the fox seek the silver key."}
	s := newSummarizer(gen, 3, 1500, zap.NewNop())

	got := s.roll(context.Background(), "long summary here", "more happened", 3)
	assert.Equal(t, gen.compressed, got)
	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, gen.lastReq.Prompt, "long summary here more happened")
}

func TestSummarizer_KeepsMergedSummaryWhenRecompressionFails(t *testing.T) {
	gen := &fakeSummaryGen{err: errors.New("provider down")}
	s := newSummarizer(gen, 3, 1500, zap.NewNop())

	got := s.roll(context.Background(), "part one.", "part two.", 3)
	assert.Equal(t, "part one. part two.", got)
}

func TestSummarizer_BoundsByMaxChars(t *testing.T) {
	gen := &fakeSummaryGen{err: errors.New("provider down")}
	s := newSummarizer(gen, 100, 60, zap.NewNop())

	long := "The beginning was long ago. " + strings.Repeat("Then more things happened. ", 5) + "The latest event matters most."
	got := s.roll(context.Background(), long, "", 1)

	assert.LessOrEqual(t, utf8.RuneCountInString(got), 60)
	// Хвост важнее начала: последнее событие должно уцелеть.
	assert.Contains(t, got, "The latest event matters most.")
}

func TestTruncateAtSentence(t *testing.T) {
	got := truncateAtSentence("First part. Second part. Third part.", 26)
	assert.Equal(t, "Second part. Third part.", got)

	assert.Equal(t, "short", truncateAtSentence("short", 100))
}
