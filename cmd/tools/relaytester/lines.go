package main

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/safe-connect/backend/internal/model/chat"
)

// parseLine turns a terminal line into a client envelope. Lines starting
// with "/" are control commands; "//" escapes a literal slash.
func parseLine(line string) (chat.Envelope, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return chat.Envelope{}, false
	}
	if strings.HasPrefix(line, "//") {
		return chat.Envelope{Type: chat.TypeChat, Text: line[1:]}, true
	}
	if !strings.HasPrefix(line, "/") {
		return chat.Envelope{Type: chat.TypeChat, Text: line}, true
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return chat.Envelope{}, false
	}
	switch fields[0] {
	case "exit":
		env := chat.Envelope{Type: chat.TypeQuickExit}
		if len(fields) > 1 {
			env.Variant = fields[1]
		}
		return env, true
	case "restart":
		return chat.Envelope{Type: chat.TypeRestart}, true
	case "clear":
		return chat.Envelope{Type: chat.TypeClear}, true
	case "cancel":
		return chat.Envelope{Type: chat.TypeCancelKey}, true
	case "ping":
		return chat.Envelope{Type: chat.TypeActivity}, true
	}
	return chat.Envelope{}, false
}

func describe(env chat.Envelope) string {
	switch env.Type {
	case chat.TypeSessionID:
		return "session " + env.ID
	case chat.TypeChat:
		return fmt.Sprintf("%s: %s", env.Sender, env.Text)
	case chat.TypeError:
		return "! " + env.Text
	case chat.TypeScreen:
		if env.Redirect != "" {
			return fmt.Sprintf("[screen %s -> %s]", env.Screen, env.Redirect)
		}
		return fmt.Sprintf("[screen %s]", env.Screen)
	case chat.TypeErase:
		return "[erased] " + env.Text
	}
	return fmt.Sprintf("[%s]", env.Type)
}
