// Package kick normalizes structured disconnect payloads into a flat operator
// message and a coarse classification that drives the reconnect policy.
package kick

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
)

type Classification string

const (
	Ban              Classification = "ban"
	AntiBotChallenge Classification = "anti_bot_challenge"
	Generic          Classification = "generic"
)

// maxDepth bounds the component-tree traversal. Server payloads deeper than
// this are either malicious or broken; the remainder is dropped.
const maxDepth = 16

// translations maps the known disconnect translation keys to canonical
// phrases. Unknown keys pass through verbatim.
var translations = map[string]string{
	"multiplayer.disconnect.banned":          "You are banned from this server",
	"multiplayer.disconnect.kicked":          "Kicked by an operator",
	"multiplayer.disconnect.duplicate_login": "You logged in from another location",
}

var banKeywords = []string{"banned", "blacklist"}

var antiBotKeywords = []string{"antibot", "anti-bot", "anti bot", "verify", "verification", "captcha", "bot check"}

// node is one chat-component of the disconnect payload: literal text, a
// translation key with substitution arguments, nested children, or any mix.
type node struct {
	Text      string
	Translate string
	With      []node
	Extra     []node
}

func (n *node) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	switch trimmed[0] {
	case '"':
		return json.Unmarshal(data, &n.Text)
	case '[':
		return json.Unmarshal(data, &n.Extra)
	case '{':
		var obj struct {
			Text      string `json:"text"`
			Translate string `json:"translate"`
			With      []node `json:"with"`
			Extra     []node `json:"extra"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		n.Text = obj.Text
		n.Translate = obj.Translate
		n.With = obj.With
		n.Extra = obj.Extra
		return nil
	default:
		// Numbers and booleans appear as bare components on some servers.
		n.Text = trimmed
		return nil
	}
}

// Normalize converts a raw disconnect payload into a display string and its
// classification. It never panics: on any failure it falls back to a raw
// rendering of the payload and Generic.
func Normalize(raw json.RawMessage) (display string, c Classification) {
	defer func() {
		if r := recover(); r != nil {
			display = fallback(raw)
			c = Generic
		}
	}()

	var root node
	if err := json.Unmarshal(raw, &root); err != nil {
		// A payload we could not even parse must not drive policy: keyword
		// matches inside malformed bytes would latch the ban state on noise.
		return fallback(raw), Generic
	}

	var sb strings.Builder
	flatten(&sb, root, 0)
	display = collapseWhitespace(sb.String())
	if display == "" {
		display = fallback(raw)
	}
	return display, Classify(display)
}

func flatten(sb *strings.Builder, n node, depth int) {
	if depth > maxDepth {
		return
	}

	if n.Translate != "" {
		if phrase, ok := translations[n.Translate]; ok {
			sb.WriteString(phrase)
		} else {
			sb.WriteString(n.Translate)
		}
		sb.WriteByte(' ')
		for _, child := range n.With {
			flatten(sb, child, depth+1)
		}
	}

	if n.Text != "" {
		sb.WriteString(n.Text)
		sb.WriteByte(' ')
	}

	for _, child := range n.Extra {
		flatten(sb, child, depth+1)
	}
}

// Classify derives the coarse category from a normalized reason string. Ban
// keywords win over anti-bot keywords: a "banned for botting" message must
// latch the terminal state, not schedule another verification round.
func Classify(reason string) Classification {
	folded := strings.ToLower(reason)

	for _, kw := range banKeywords {
		if strings.Contains(folded, kw) {
			return Ban
		}
	}
	// The bare token "ban" false-positives on words like "banner"; require a
	// word boundary for it.
	if containsWord(folded, "ban") {
		return Ban
	}

	for _, kw := range antiBotKeywords {
		if strings.Contains(folded, kw) {
			return AntiBotChallenge
		}
	}

	return Generic
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !unicode.IsLetter(rune(s[start-1]))
		afterOK := end == len(s) || !unicode.IsLetter(rune(s[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func fallback(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	return s
}
