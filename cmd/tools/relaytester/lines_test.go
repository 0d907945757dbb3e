package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/safe-connect/backend/internal/model/chat"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want chat.Envelope
		ok   bool
	}{
		{"hello", chat.Envelope{Type: chat.TypeChat, Text: "hello"}, true},
		{"//etc/passwd", chat.Envelope{Type: chat.TypeChat, Text: "/etc/passwd"}, true},
		{"/exit b", chat.Envelope{Type: chat.TypeQuickExit, Variant: "b"}, true},
		{"/exit", chat.Envelope{Type: chat.TypeQuickExit}, true},
		{"/restart", chat.Envelope{Type: chat.TypeRestart}, true},
		{"/cancel", chat.Envelope{Type: chat.TypeCancelKey}, true},
		{"/bogus", chat.Envelope{}, false},
		{"/", chat.Envelope{}, false},
		{"   ", chat.Envelope{}, false},
	}
	for _, tt := range tests {
		got, ok := parseLine(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Support: hi", describe(chat.Envelope{Type: chat.TypeChat, Sender: chat.SenderSupport, Text: "hi"}))
	assert.Equal(t, "[screen exit -> /exit?to=a]", describe(chat.Envelope{Type: chat.TypeScreen, Screen: chat.ScreenExit, Redirect: "/exit?to=a"}))
}
