package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEnding(t *testing.T) {
	t.Run("accepts closing scene", func(t *testing.T) {
		text := "Mila hugged her new friends, returned home with a basket of berries and fell asleep smiling. The End."
		assert.NoError(t, ValidateEnding(text))
	})

	t.Run("rejects question marks", func(t *testing.T) {
		text := "And you wonder what might be waiting behind the door?"
		assert.ErrorIs(t, ValidateEnding(text), ErrEndingHasQuestion)
	})

	t.Run("rejects cliffhanger phrases", func(t *testing.T) {
		text := "The adventure is over for today. To be continued in the next tale."
		assert.ErrorIs(t, ValidateEnding(text), ErrEndingHasCliffhanger)
	})

	t.Run("rejects text without closure", func(t *testing.T) {
		text := "Mila walked along the river and looked at the clouds."
		assert.ErrorIs(t, ValidateEnding(text), ErrEndingNoClosure)
	})

	t.Run("closure markers are case-insensitive", func(t *testing.T) {
		text := "Everyone cheered. THE END."
		assert.NoError(t, ValidateEnding(text))
	})
}
