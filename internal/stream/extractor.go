package stream

import (
	"strconv"
	"strings"
)

// SceneTextExtractor инкрементально вытаскивает значение строкового поля
// scene_text из потокового JSON-объекта. Модель отдает JSON кусками
// произвольной нарезки; экстрактор находит ключ, а затем декодирует
// содержимое строки по мере поступления, отдавая готовые дельты текста.
// Остальные поля объекта игнорируются: их разберет обычный парсер после
// завершения стрима.

const sceneTextKey = `"scene_text"`

type extractorState int

const (
	stateSeekKey extractorState = iota
	stateSeekColon
	stateSeekQuote
	stateInString
	stateDone
)

type SceneTextExtractor struct {
	state extractorState
	// carry — хвост предыдущего чанка, в котором мог начаться ключ.
	carry string
	// escape — накопленный незавершенный escape (начинается с '\').
	escape string
}

func NewSceneTextExtractor() *SceneTextExtractor {
	return &SceneTextExtractor{}
}

// Feed принимает очередной сырой фрагмент и возвращает новую дельту
// scene_text (возможно пустую).
func (e *SceneTextExtractor) Feed(chunk string) string {
	var out strings.Builder
	input := chunk

	for input != "" && e.state != stateDone {
		switch e.state {
		case stateSeekKey:
			input = e.seekKey(input)
		case stateSeekColon, stateSeekQuote:
			input = e.seekStringStart(input)
		case stateInString:
			input = e.decodeString(input, &out)
		}
	}
	return out.String()
}

// Done сообщает, что значение scene_text полностью прочитано.
func (e *SceneTextExtractor) Done() bool { return e.state == stateDone }

func (e *SceneTextExtractor) seekKey(input string) string {
	window := e.carry + input
	if idx := strings.Index(window, sceneTextKey); idx >= 0 {
		e.state = stateSeekColon
		e.carry = ""
		rest := window[idx+len(sceneTextKey):]
		return rest
	}
	// Ключ мог быть разрезан границей чанка: храним хвост длиной ключа.
	if len(window) > len(sceneTextKey) {
		window = window[len(window)-len(sceneTextKey):]
	}
	e.carry = window
	return ""
}

func (e *SceneTextExtractor) seekStringStart(input string) string {
	for i := 0; i < len(input); i++ {
		switch c := input[i]; {
		case c == ':' && e.state == stateSeekColon:
			e.state = stateSeekQuote
		case c == '"' && e.state == stateSeekQuote:
			e.state = stateInString
			return input[i+1:]
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		default:
			// Неожиданный символ: значит это было вхождение подстроки не
			// на позиции ключа. Возвращаемся к поиску.
			e.state = stateSeekKey
			return input[i:]
		}
	}
	return ""
}

func (e *SceneTextExtractor) decodeString(input string, out *strings.Builder) string {
	i := 0
	for i < len(input) {
		if e.escape != "" {
			// Доедаем начатый escape.
			need := escapeLen(e.escape)
			take := min(need-len(e.escape), len(input)-i)
			e.escape += input[i : i+take]
			i += take
			if len(e.escape) >= escapeLen(e.escape) {
				out.WriteString(decodeEscape(e.escape))
				e.escape = ""
			}
			continue
		}

		c := input[i]
		switch c {
		case '"':
			e.state = stateDone
			return input[i+1:]
		case '\\':
			e.escape = string(c)
			i++
		default:
			out.WriteByte(c)
			i++
		}
	}
	return ""
}

// escapeLen — полная длина escape-последовательности по ее началу.
func escapeLen(esc string) int {
	if len(esc) >= 2 && esc[1] == 'u' {
		return 6 // \uXXXX
	}
	if len(esc) >= 2 {
		return 2
	}
	// Пока известен только '\': минимально возможная длина.
	return 2
}

func decodeEscape(esc string) string {
	switch esc[1] {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case 'r':
		return "\r"
	case '"':
		return `"`
	case '\\':
		return `\`
	case '/':
		return "/"
	case 'b', 'f':
		return ""
	case 'u':
		if code, err := strconv.ParseUint(esc[2:], 16, 32); err == nil {
			return string(rune(code))
		}
		return ""
	default:
		return esc[1:]
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
