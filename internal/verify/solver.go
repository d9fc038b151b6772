// Package verify detects server-issued anti-bot challenges in chat text and
// inventory windows and computes the matching response. Each matcher is pure:
// text in, optional response out. The session controller executes responses.
package verify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/roostbot/roost/internal/game"
	"github.com/roostbot/roost/internal/utils"
)

type Kind string

const (
	KindCommand      Kind = "command"
	KindArithmetic   Kind = "arithmetic"
	KindInstruction  Kind = "instruction"
	KindItemClick    Kind = "item_click"
	KindForceRestart Kind = "force_restart"
)

// Response is one computed challenge answer. Exactly the fields relevant to
// its Kind are set.
type Response struct {
	Kind    Kind
	Command string
	Chat    string
	Control game.Control
	Hold    time.Duration
	Slot    int
}

// Matcher inspects one inbound line and reports whether it recognises a
// challenge in it.
type Matcher func(text string) (Response, bool)

const jumpHold = 400 * time.Millisecond

var (
	commandRe    = regexp.MustCompile(`(?i)(/\w*(?:verify|captcha|register|confirm)\w*\s+\S+)`)
	arithmeticRe = regexp.MustCompile(`(-?\d+)\s*([+\-*×x/−])\s*(-?\d+)\s*=\s*\?`)

	windowTitleKeywords = []string{"verify", "verification", "captcha", "bot", "confirm"}
	itemKeywords        = []string{"verify", "captcha", "click", "confirm"}

	disconnectPhrases = []string{
		"you left",
		"were kicked",
		"you were disconnected",
		"you have been disconnected",
	}
)

// Matchers returns the ordered matcher list evaluated against every inbound
// line. All matchers are independent; more than one may fire per message.
func Matchers() []Matcher {
	return []Matcher{
		MatchCommand,
		MatchArithmetic,
		MatchInstruction,
		MatchDisconnectPhrase,
	}
}

// SolveText runs every matcher against the line and returns all responses.
func SolveText(text string) []Response {
	var out []Response
	for _, m := range Matchers() {
		if resp, ok := m(text); ok {
			out = append(out, resp)
		}
	}
	return out
}

// MatchCommand recognises slash-command challenges ("type /verify A1b2 to
// continue") and echoes the exact command back.
func MatchCommand(text string) (Response, bool) {
	m := commandRe.FindString(text)
	if m == "" {
		return Response{}, false
	}
	return Response{Kind: KindCommand, Command: m}, true
}

// MatchArithmetic recognises "<int> <op> <int> = ?" and answers with the
// integer result. Only +, - and × are supported; any other operator is
// ignored, a known limitation.
func MatchArithmetic(text string) (Response, bool) {
	m := arithmeticRe.FindStringSubmatch(text)
	if m == nil {
		return Response{}, false
	}

	a, err1 := strconv.Atoi(m[1])
	b, err2 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil {
		return Response{}, false
	}

	var result int
	switch m[2] {
	case "+":
		result = a + b
	case "-", "−": // plugins often render subtraction with U+2212
		result = a - b
	case "*", "×", "x":
		result = a * b
	default:
		return Response{}, false
	}

	return Response{Kind: KindArithmetic, Chat: fmt.Sprintf("%d", result)}, true
}

// MatchInstruction recognises control-state challenges ("jump to verify")
// and asserts the corresponding control for a fixed duration.
func MatchInstruction(text string) (Response, bool) {
	folded := strings.ToLower(text)

	if strings.Contains(folded, "jump to verify") {
		return Response{Kind: KindInstruction, Control: game.ControlJump, Hold: jumpHold}, true
	}
	if strings.Contains(folded, "sneak to verify") {
		hold := time.Duration(utils.RandFloatBetween(1500, 2000)) * time.Millisecond
		return Response{Kind: KindInstruction, Control: game.ControlSneak, Hold: hold}, true
	}
	return Response{}, false
}

// MatchDisconnectPhrase recognises kick announcements that arrive as chat
// content before the transport's own end signal fires. The controller treats
// this as authoritative and force-restarts the session.
func MatchDisconnectPhrase(text string) (Response, bool) {
	folded := strings.ToLower(text)
	for _, phrase := range disconnectPhrases {
		if strings.Contains(folded, phrase) {
			return Response{Kind: KindForceRestart}, true
		}
	}
	return Response{}, false
}

// SolveWindow inspects a window-open snapshot for a GUI item challenge. The
// first non-empty slot whose display name or lore carries a verification
// keyword wins. A single non-empty item with no keyword is clicked as a
// fallback; several items with no keyword is ambiguous and yields no action.
func SolveWindow(w game.Window) (Response, bool) {
	if !containsAny(strings.ToLower(w.Title), windowTitleKeywords) {
		return Response{}, false
	}

	occupied := w.NonEmptySlots()
	for _, slot := range occupied {
		haystack := strings.ToLower(slot.DisplayName + " " + strings.Join(slot.Lore, " "))
		if containsAny(haystack, itemKeywords) {
			return Response{Kind: KindItemClick, Slot: slot.Index}, true
		}
	}

	if len(occupied) == 1 {
		return Response{Kind: KindItemClick, Slot: occupied[0].Index}, true
	}

	return Response{}, false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
