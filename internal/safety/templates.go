package safety

import (
	"fmt"
	"strings"

	"storyquest-server/internal/models"
)

// Шаблонные сцены на случай полного исчерпания провайдеров или бюджета
// регенераций. Всегда безопасны и проходят все фильтры, включая валидатор
// концовки.

// FallbackScene возвращает позитивную сцену, уместную для любой темы.
func FallbackScene(theme string) *models.StoryGeneration {
	return &models.StoryGeneration{
		SceneText: fmt.Sprintf(
			"You find yourself in a wonderful, magical place on your %s adventure. "+
				"Everything around you is peaceful, colorful, inviting, and filled with amazing possibilities!",
			readableTheme(theme)),
		Choices: []string{
			"Look around at the beautiful scenery",
			"Take a happy deep breath and think",
			"Choose a fun direction to explore",
		},
		SummaryUpdate: "The adventure continues in a magical place.",
	}
}

// FallbackEnding возвращает завершающую сцену: с развязкой, без вопросов.
func FallbackEnding(theme, playerName string) *models.StoryGeneration {
	if playerName == "" {
		playerName = "our hero"
	}
	return &models.StoryGeneration{
		SceneText: fmt.Sprintf(
			"With a happy heart, %s finished the %s adventure and returned home, "+
				"smiling about all the wonderful things that happened along the way. "+
				"It was a day full of discovery and friendship. The End.",
			playerName, readableTheme(theme)),
		Choices:       nil,
		SummaryUpdate: "The adventure came to a happy close.",
	}
}

// readableTheme превращает идентификатор темы в читаемый вид:
// "space_adventure" -> "Space Adventure".
func readableTheme(theme string) string {
	if theme == "" {
		return "Magical"
	}
	parts := strings.Split(theme, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
