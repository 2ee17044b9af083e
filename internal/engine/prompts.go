package engine

import (
	"fmt"
	"strings"
)

// Шаблоны промтов по фазам истории. Контент историй английский, поэтому и
// промты английские. В промт всегда уходит компактная сводка, никогда —
// полная история.

var themeDescriptions = map[string]string{
	"space_adventure":    "a thrilling space exploration adventure with planets, stars, and friendly aliens",
	"magical_forest":     "a whimsical journey through an enchanted forest with magical creatures",
	"underwater_quest":   "an exciting underwater adventure with sea creatures and hidden treasures",
	"dinosaur_discovery": "a prehistoric adventure with friendly dinosaurs and ancient mysteries",
	"castle_quest":       "a medieval adventure in a grand castle with knights and dragons",
	"robot_city":         "a futuristic city adventure with helpful robots and amazing technology",
}

const defaultThemeDescription = "an exciting adventure filled with wonder and discovery"

const jsonContract = `Respond in this JSON format:
{
  "scene_text": "What happens next...",
  "choices": [
    "Choice 1",
    "Choice 2",
    "Choice 3"
  ],
  "story_summary_update": "Brief update to story summary"
}`

// SystemMessage — системное сообщение для всех генераций.
func SystemMessage(ageRange string) string {
	return fmt.Sprintf(`You are a professional children's storyteller specializing in interactive stories for ages %s.
Your stories are always:
- Safe and age-appropriate (G-rated)
- Encouraging and positive
- Educational while being fun
- Free from violence, scary content, or adult themes
- Focused on kindness, curiosity, and problem-solving

Always respond with valid JSON in the exact format requested.`, ageRange)
}

// OpeningPrompt — промт открывающей сцены новой истории.
func OpeningPrompt(playerName, ageRange, theme string) string {
	desc, ok := themeDescriptions[theme]
	if !ok {
		desc = defaultThemeDescription
	}
	return fmt.Sprintf(`You are a creative, kid-friendly storyteller for children aged %s.

Create the opening scene for a brand new story about %s, who is about to begin %s.

RULES:
1. Keep content G-rated: no violence, scary themes, or adult content
2. Write an exciting opening (2-4 sentences) that introduces the setting and situation
3. Generate exactly 3 fun, age-appropriate choices for what to do first
4. Use playful, encouraging language
5. Make %s the hero of the story
6. Create a sense of wonder and excitement
7. Theme: %s

%s`, ageRange, playerName, desc, playerName, theme, jsonContract)
}

// AdventurePrompt — промт обычного хода.
func AdventurePrompt(ageRange, storySummary, playerAction, playerName string) string {
	return fmt.Sprintf(`You are a creative, kid-friendly storyteller for children aged %s.

STORY SO FAR:
%s

PLAYER ACTION:
%s

RULES:
1. Keep content G-rated: no violence, scary themes, or adult content
2. Write 2-4 sentences describing what happens next
3. Generate exactly 3 fun, age-appropriate choices for what to do next
4. Use playful, encouraging language
5. Include learning opportunities (curiosity, problem-solving, kindness)
6. Make %s feel heroic and capable
7. Keep the story moving forward with interesting developments

%s`, ageRange, storySummary, playerAction, playerName, jsonContract)
}

// WrapUpPrompt — промт хода в фазе сведения: история движется к развязке,
// но еще не заканчивается.
func WrapUpPrompt(ageRange, storySummary, playerAction, playerName string, turnsLeft int) string {
	return fmt.Sprintf(`You are a creative, kid-friendly storyteller for children aged %s.

STORY SO FAR:
%s

PLAYER ACTION:
%s

RULES:
1. Keep content G-rated: no violence, scary themes, or adult content
2. Write 2-4 sentences describing what happens next
3. The story will end in about %d turns: start gently steering events toward a happy resolution
4. Generate exactly 3 fun, age-appropriate choices that move the story toward its conclusion
5. Use playful, encouraging language
6. Make %s feel heroic and capable

%s`, ageRange, storySummary, playerAction, turnsLeft, playerName, jsonContract)
}

// EndingPrompt — промт финальной сцены: обязательная развязка, без вопросов
// и без вариантов выбора.
func EndingPrompt(ageRange, storySummary, playerAction, playerName string) string {
	return fmt.Sprintf(`You are a creative, kid-friendly storyteller for children aged %s.

STORY SO FAR:
%s

PLAYER ACTION:
%s

This is the FINAL scene of the story. RULES:
1. Keep content G-rated: no violence, scary themes, or adult content
2. Write 3-5 sentences that bring the whole adventure to a warm, happy close
3. %s must succeed and feel proud of the journey
4. The scene MUST contain clear closure (for example end with "The End.")
5. Do NOT ask any questions and do NOT end on a cliffhanger
6. Do NOT offer any choices: "choices" must be an empty list

Respond in this JSON format:
{
  "scene_text": "The final scene...",
  "choices": [],
  "story_summary_update": "How the story ended"
}`, ageRange, storySummary, playerAction, playerName)
}

// SummarizePrompt — промт пересжатия сводки. Ответ — обычный текст, без JSON.
func SummarizePrompt(storySummary string, maxChars int) string {
	return fmt.Sprintf(`Compress the following children's story summary so a storyteller can continue the story from it.

SUMMARY:
%s

RULES:
1. Keep every plot-critical fact: the hero, companions, goals, discoveries and promises
2. Drop repetitions and minor scenery details
3. At most %d characters
4. Respond with the compressed summary as plain text only, no JSON, no preamble`, storySummary, maxChars)
}

// describePlayerAction формирует описание действия игрока для промта.
func describePlayerAction(choiceID, choiceText, customInput string) string {
	switch {
	case customInput != "":
		return customInput
	case choiceText != "":
		return choiceText
	case choiceID != "":
		return "Choice " + choiceID
	default:
		return ""
	}
}

// sceneIDFor — детерминированный идентификатор сцены.
func sceneIDFor(sessionID string, turnNumber int) string {
	return fmt.Sprintf("scene_%s_%d", sessionID, turnNumber)
}

// normalizeSummary соединяет старую сводку и обновление от модели.
func normalizeSummary(current, update string) string {
	update = strings.TrimSpace(update)
	if update == "" {
		return current
	}
	current = strings.TrimSpace(current)
	if current == "" {
		return update
	}
	return current + " " + update
}
