package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_parseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want command
	}{
		{"bare verb", "LIST_ROOMS", command{name: "LIST_ROOMS"}},
		{"verb with one arg", "JOIN_ROOM General", command{name: "JOIN_ROOM", arg: "General"}},
		{"remainder keeps spaces", "MESSAGE hello there everyone", command{name: "MESSAGE", arg: "hello there everyone"}},
		{"empty line", "", command{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseCommand(tc.line))
		})
	}
}

func Test_command_splitArgs(t *testing.T) {
	t.Run("no args", func(t *testing.T) {
		cmd := parseCommand("LOGIN")
		assert.Nil(t, cmd.splitArgs(2))
	})

	t.Run("splits credentials", func(t *testing.T) {
		cmd := parseCommand("LOGIN alice password1")
		assert.Equal(t, []string{"alice", "password1"}, cmd.splitArgs(2))
	})

	t.Run("last field keeps spaces", func(t *testing.T) {
		cmd := parseCommand("RECONNECT abc123 My Room")
		assert.Equal(t, []string{"abc123", "My Room"}, cmd.splitArgs(2))
	})
}

func Test_messageFormats(t *testing.T) {
	assert.Equal(t, "alice: hi", formatUserMessage("alice", "hi"))
	assert.Equal(t, "Bot: hello", formatBotMessage("hello"))
	assert.Equal(t, "[alice enters the room]", formatSystemMessage("alice enters the room"))
}
