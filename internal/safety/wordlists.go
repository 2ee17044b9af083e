package safety

import "regexp"

// Списки слов и паттернов контентной политики. Контент историй английский,
// поэтому и списки английские.

var bannedWords = newWordSet(
	// Насилие и агрессия
	"kill", "murder", "death", "die", "dead", "dying", "killed",
	"blood", "gore", "wound", "injury", "hurt", "pain", "suffer",
	"weapon", "gun", "rifle", "pistol", "shoot", "shot",
	"knife", "stab", "blade", "dagger",
	"sword", "axe", "spear",
	"bomb", "explode", "explosion",
	"fight", "attack", "punch", "kick", "hit", "strike",
	"war", "battle", "combat", "destroy", "destruction",

	// Страх и ужасы
	"scary", "terrify", "terror", "fear", "afraid", "frightening",
	"horror", "horrify", "nightmare", "dread",
	"monster", "beast", "creature", "demon", "devil",
	"ghost", "spirit", "haunted", "spooky",
	"zombie", "vampire", "werewolf", "undead",
	"evil", "wicked", "sinister", "dark", "darkness",

	// Негатив
	"hate", "hatred", "despise", "loathe",
	"stupid", "idiot", "dumb", "moron", "fool",
	"ugly", "hideous", "disgusting", "gross",
	"bad", "terrible", "awful", "horrible",
	"steal", "thief", "rob", "robbery",
	"lie", "liar", "cheat", "deceive",
	"bully", "mean", "cruel", "nasty",

	// Даже мягкая брань
	"hell", "damn", "dammit", "crap", "suck",

	// Опасность
	"danger", "dangerous", "hazard", "peril",
	"poison", "toxic", "venom",
	"trap", "trapped", "capture", "caught",
	"lost", "alone", "abandoned", "stranded",

	// Чрезмерная грусть
	"depressed", "depression", "miserable", "hopeless",
	"despair", "anguish", "agony", "torment",
)

// Возрастные списки: ключи совпадают с age_range сессии.
var ageInappropriateWords = map[string]wordSet{
	"6-8": newWordSet(
		"sacrifice", "betrayal", "revenge", "conspiracy",
		"politics", "war", "battle", "conflict",
		"complex", "complicated", "sophisticated",
		"abstract", "theoretical", "philosophical",
	),
	"9-12": newWordSet(
		"suicide", "depression", "mental", "therapy",
		"romantic", "love", "dating", "relationship",
	),
}

// Паттерны персональных данных и спама во вводе игрока.
var inappropriatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://\S+`),
	regexp.MustCompile(`(?i)www\.\S+`),
	regexp.MustCompile(`(?i)\S+@\S+\.\S+`),
	regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),                // телефоны
	regexp.MustCompile(`\b\d{5}(-\d{4})?\b`),                           // ZIP-коды
	regexp.MustCompile(`(?i)\b\d+\s+\w+\s+(street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr)\b`), // адреса
	regexp.MustCompile(`@\w+`),                                         // соцсетевые хэндлы
	regexp.MustCompile(`#\w+`),                                         // хэштеги
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),   // номера карт
	regexp.MustCompile(`\b[A-Z]{5,}\b.*\b[A-Z]{5,}\b.*\b[A-Z]{5,}\b`),  // КРИК капсом
}

// spamRunLength — порог спама повторяющимся символом.
const spamRunLength = 5

// hasRepeatedRun сообщает, есть ли в тексте символ, повторенный n+ раз подряд.
// RE2 не поддерживает обратные ссылки, поэтому проверка ручная.
func hasRepeatedRun(text string, n int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= n {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// Взвешенные индикаторы для keyword-сентимента.
var negativeIndicators = map[string]float64{
	"sad": -0.3, "cry": -0.3, "crying": -0.3, "tears": -0.2,
	"afraid": -0.4, "scared": -0.4, "fear": -0.4, "frightened": -0.4,
	"worried": -0.2, "anxious": -0.2, "nervous": -0.2,
	"lonely": -0.4, "alone": -0.3, "lost": -0.4,
	"angry": -0.3, "mad": -0.3, "upset": -0.2,
	"fail": -0.3, "failed": -0.3, "failure": -0.3,
	"wrong": -0.2, "mistake": -0.2, "error": -0.2,
	"dark": -0.2, "darkness": -0.3, "shadow": -0.2,
	"cold": -0.1, "rain": -0.1, "storm": -0.2,
}

var positiveIndicators = map[string]float64{
	"happy": 0.4, "joy": 0.4, "joyful": 0.4, "cheerful": 0.4,
	"fun": 0.3, "exciting": 0.4, "excited": 0.4,
	"wonderful": 0.4, "amazing": 0.4, "awesome": 0.4,
	"beautiful": 0.3, "pretty": 0.3, "lovely": 0.3,
	"kind": 0.3, "friendly": 0.3, "helpful": 0.3,
	"brave": 0.4, "courageous": 0.4, "strong": 0.3,
	"clever": 0.3, "smart": 0.3, "wise": 0.3,
	"discover": 0.3, "explore": 0.3, "adventure": 0.4,
	"friend": 0.3, "together": 0.2, "help": 0.2,
	"smile": 0.3, "laugh": 0.4, "giggle": 0.4,
	"bright": 0.2, "sunshine": 0.3, "rainbow": 0.3,
}

type wordSet map[string]struct{}

func newWordSet(words ...string) wordSet {
	s := make(wordSet, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

func (s wordSet) contains(w string) bool {
	_, ok := s[w]
	return ok
}
