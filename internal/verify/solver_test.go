package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roostbot/roost/internal/game"
)

func TestMatchCommand(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Please type /verify A1b2 to continue", "/verify A1b2"},
		{"Run /captcha 9911 within 30 seconds!", "/captcha 9911"},
		{"Type /Register hunter2 to play", "/Register hunter2"},
		{"Use /confirm abc-def now", "/confirm abc-def"},
	}

	for _, tc := range cases {
		resp, ok := MatchCommand(tc.text)
		require.True(t, ok, "text: %s", tc.text)
		assert.Equal(t, KindCommand, resp.Kind)
		assert.Equal(t, tc.want, resp.Command)
	}

	_, ok := MatchCommand("welcome to the server")
	assert.False(t, ok)
}

func TestMatchArithmetic(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Solve 12 + 7 = ? to prove you are human", "19"},
		{"AntiBot: 20 - 6 = ?", "14"},
		{"3 * 4 = ?", "12"},
		{"3 × 4 = ?", "12"},
		{"3x4=?", "12"},
		{"-5 + 2 = ?", "-3"},
		{"7 − 3 = ?", "4"},
	}

	for _, tc := range cases {
		resp, ok := MatchArithmetic(tc.text)
		require.True(t, ok, "text: %s", tc.text)
		assert.Equal(t, KindArithmetic, resp.Kind)
		assert.Equal(t, tc.want, resp.Chat)
	}
}

func TestMatchArithmeticUnsupportedOperator(t *testing.T) {
	// Division challenges have ambiguous integer semantics and are left
	// unanswered.
	_, ok := MatchArithmetic("10 / 2 = ?")
	assert.False(t, ok)

	_, ok = MatchArithmetic("what time is it?")
	assert.False(t, ok)
}

func TestMatchInstruction(t *testing.T) {
	resp, ok := MatchInstruction("JUMP to verify you are not a bot")
	require.True(t, ok)
	assert.Equal(t, KindInstruction, resp.Kind)
	assert.Equal(t, game.ControlJump, resp.Control)
	assert.Equal(t, 400*time.Millisecond, resp.Hold)

	resp, ok = MatchInstruction("Sneak to verify within 10s")
	require.True(t, ok)
	assert.Equal(t, game.ControlSneak, resp.Control)
	assert.GreaterOrEqual(t, resp.Hold, 1500*time.Millisecond)
	assert.LessOrEqual(t, resp.Hold, 2000*time.Millisecond)

	_, ok = MatchInstruction("jump around for fun")
	assert.False(t, ok)
}

func TestMatchDisconnectPhrase(t *testing.T) {
	for _, text := range []string{
		"You were kicked from the lobby",
		"you have been disconnected",
		"Oops, you left the game",
	} {
		resp, ok := MatchDisconnectPhrase(text)
		require.True(t, ok, "text: %s", text)
		assert.Equal(t, KindForceRestart, resp.Kind)
	}

	_, ok := MatchDisconnectPhrase("player42 joined the game")
	assert.False(t, ok)
}

func TestSolveTextRunsAllMatchers(t *testing.T) {
	responses := SolveText("AntiBot: solve 2 + 2 = ? or type /verify abc")

	require.Len(t, responses, 2)
	assert.Equal(t, KindCommand, responses[0].Kind)
	assert.Equal(t, KindArithmetic, responses[1].Kind)
}

func TestSolveWindowKeywordSlot(t *testing.T) {
	w := game.Window{
		Title: "Verification",
		Slots: []game.Slot{
			{Index: 0, Name: "stone", DisplayName: "Decoration", Count: 1},
			{Index: 4, Name: "emerald", DisplayName: "Click me to verify", Count: 1},
			{Index: 8, Name: "stone", DisplayName: "Decoration", Count: 1},
		},
	}

	resp, ok := SolveWindow(w)
	require.True(t, ok)
	assert.Equal(t, KindItemClick, resp.Kind)
	assert.Equal(t, 4, resp.Slot)
}

func TestSolveWindowLoreKeyword(t *testing.T) {
	w := game.Window{
		Title: "Bot Check",
		Slots: []game.Slot{
			{Index: 2, Name: "paper", DisplayName: "Hmm", Lore: []string{"click to confirm"}, Count: 1},
		},
	}

	resp, ok := SolveWindow(w)
	require.True(t, ok)
	assert.Equal(t, 2, resp.Slot)
}

func TestSolveWindowSingleItemFallback(t *testing.T) {
	w := game.Window{
		Title: "Captcha",
		Slots: []game.Slot{
			{Index: 13, Name: "emerald", DisplayName: "Green thing", Count: 1},
		},
	}

	resp, ok := SolveWindow(w)
	require.True(t, ok)
	assert.Equal(t, 13, resp.Slot)
}

func TestSolveWindowAmbiguousIsIgnored(t *testing.T) {
	w := game.Window{
		Title: "Captcha",
		Slots: []game.Slot{
			{Index: 1, Name: "emerald", DisplayName: "Green", Count: 1},
			{Index: 2, Name: "redstone", DisplayName: "Red", Count: 1},
		},
	}

	_, ok := SolveWindow(w)
	assert.False(t, ok)
}

func TestSolveWindowUnrelatedTitle(t *testing.T) {
	w := game.Window{
		Title: "Chest",
		Slots: []game.Slot{
			{Index: 0, Name: "emerald", DisplayName: "Click me to verify", Count: 1},
		},
	}

	_, ok := SolveWindow(w)
	assert.False(t, ok)
}
