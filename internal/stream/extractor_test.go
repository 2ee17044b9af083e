package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{"scene_text": "Mia smiled and waved.", "choices": [{"id": "c1", "text": "Go"}], "story_summary_update": "Mia waved."}`

func feedAll(t *testing.T, chunks []string) (string, bool) {
	t.Helper()
	ex := NewSceneTextExtractor()
	var got string
	for _, c := range chunks {
		got += ex.Feed(c)
	}
	return got, ex.Done()
}

func TestSceneTextExtractor_SingleChunk(t *testing.T) {
	got, done := feedAll(t, []string{sampleJSON})
	assert.Equal(t, "Mia smiled and waved.", got)
	assert.True(t, done)
}

func TestSceneTextExtractor_EveryByteBoundary(t *testing.T) {
	// Нарезка по одному байту — худший случай для переносов состояния.
	var chunks []string
	for i := 0; i < len(sampleJSON); i++ {
		chunks = append(chunks, sampleJSON[i:i+1])
	}
	got, done := feedAll(t, chunks)
	assert.Equal(t, "Mia smiled and waved.", got)
	assert.True(t, done)
}

func TestSceneTextExtractor_KeySplitAcrossChunks(t *testing.T) {
	got, done := feedAll(t, []string{`{"scene_`, `text"`, `: "Hello`, ` there!"}`})
	assert.Equal(t, "Hello there!", got)
	assert.True(t, done)
}

func TestSceneTextExtractor_EscapedQuoteAndNewline(t *testing.T) {
	got, done := feedAll(t, []string{`{"scene_text": "She said \"hi\".\nThe end."}`})
	assert.Equal(t, "She said \"hi\".\nThe end.", got)
	assert.True(t, done)
}

func TestSceneTextExtractor_EscapeSplitAcrossChunks(t *testing.T) {
	got, done := feedAll(t, []string{`{"scene_text": "a\`, `nb"}`})
	assert.Equal(t, "a\nb", got)
	assert.True(t, done)
}

func TestSceneTextExtractor_UnicodeEscapeSplit(t *testing.T) {
	got, done := feedAll(t, []string{`{"scene_text": "star \u`, `27`, `28 end"}`})
	assert.Equal(t, "star ✨ end", got)
	assert.True(t, done)
}

func TestSceneTextExtractor_SubstringNotAtKeyPosition(t *testing.T) {
	// Первое вхождение строки ключа не является ключом (дальше не двоеточие):
	// экстрактор должен вернуться к поиску и найти настоящий ключ.
	input := `{"note": "the field "scene_text" is odd", "scene_text": "Real text."}`
	ex := NewSceneTextExtractor()
	got := ex.Feed(input)
	require.True(t, ex.Done())
	assert.Equal(t, "Real text.", got)
}

func TestSceneTextExtractor_StopsAtClosingQuote(t *testing.T) {
	ex := NewSceneTextExtractor()
	got := ex.Feed(`{"scene_text": "Done."`)
	assert.Equal(t, "Done.", got)
	assert.True(t, ex.Done())
	// Остаток JSON после закрытия строки игнорируется.
	assert.Empty(t, ex.Feed(`, "choices": []}`))
}

func TestSceneTextExtractor_NoKeyYet(t *testing.T) {
	ex := NewSceneTextExtractor()
	assert.Empty(t, ex.Feed(`{"choices": [`))
	assert.False(t, ex.Done())
}
