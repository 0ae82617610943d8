package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_extractLatestMessages(t *testing.T) {
	t.Run("empty context", func(t *testing.T) {
		assert.Empty(t, extractLatestMessages("", 8))
	})

	t.Run("keeps only message-shaped lines", func(t *testing.T) {
		context := strings.Join([]string{
			"garbage line",
			"alice: hi",
			"[bob enters the room]",
			"not a message",
			"bob: hello",
		}, "\n")

		got := extractLatestMessages(context, 8)
		assert.Equal(t, "alice: hi\n[bob enters the room]\nbob: hello\n", got)
	})

	t.Run("keeps the tail when over the window", func(t *testing.T) {
		var lines []string
		for _, n := range []string{"one", "two", "three", "four"} {
			lines = append(lines, "alice: "+n)
		}
		got := extractLatestMessages(strings.Join(lines, "\n"), 2)
		assert.Equal(t, "alice: three\nalice: four\n", got)
	})
}

func Test_buildTranscript(t *testing.T) {
	context := "alice: hi there\nBot: hello alice\n[carol enters the room]\n"

	got := buildTranscript(context)
	assert.Equal(t,
		"<user name=\"alice\">hi there</user>\n"+
			"<assistant>hello alice</assistant>\n"+
			"<system_message>[carol enters the room]</system_message>\n"+
			"<assistant>",
		got)
}

func Test_isPortuguese(t *testing.T) {
	tests := []struct {
		name    string
		context string
		want    bool
	}{
		{"empty", "", false},
		{"english", "alice: hello there, how are you", false},
		{"marker mid-sentence", "diogo: olá tudo bem", true},
		{"marker at line end", "diogo: tudo bem com você, obrigado\n", true},
		{"marker at start", "como vai", true},
		{"marker embedded in word is not a match", "alice: compare this", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isPortuguese(tc.context))
		})
	}
}

func Test_lastUserLine(t *testing.T) {
	t.Run("skips bot lines", func(t *testing.T) {
		context := "alice: what time is it\nBot: around noon\n"
		assert.Equal(t, "what time is it", lastUserLine(context))
	})

	t.Run("no user messages", func(t *testing.T) {
		assert.Equal(t, "How can I help?", lastUserLine("Bot: hello\n"))
	})
}

func Test_cleanResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"whitespace", "  hello  \n", "hello"},
		{"echoed role tags", "<assistant>hello</assistant>", "hello"},
		{"escaped angle brackets", "\\u003cb\\u003ehi\\u003c/b\\u003e", "<b>hi</b>"},
		{"blank after stripping", "<assistant> </assistant>", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cleanResponse(tc.in))
		})
	}
}
