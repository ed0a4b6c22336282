package protocol

import "strings"

// Reserved chat prefixes used by the server.
const (
	WelcomeHint     = "欢迎加入 TouchFish QQ 群：1056812860，以获得最新资讯。"
	SystemPrefix    = "[系统提示]"
	BroadcastPrefix = "[房主广播]"
)

// ChatKind categorizes a chat line for display.
type ChatKind int

const (
	ChatRegular ChatKind = iota
	ChatSystem
	ChatBroadcast
	ChatHint
)

// String returns the string representation of ChatKind
func (k ChatKind) String() string {
	switch k {
	case ChatRegular:
		return "regular"
	case ChatSystem:
		return "system"
	case ChatBroadcast:
		return "broadcast"
	case ChatHint:
		return "hint"
	default:
		return "unknown"
	}
}

// ClassifyChat returns the kind of a chat line and the text to display.
// System and broadcast notices lose their prefix; hints and regular lines are
// returned whole.
func ClassifyChat(line string) (ChatKind, string) {
	switch {
	case strings.HasPrefix(line, WelcomeHint):
		return ChatHint, line
	case strings.HasPrefix(line, SystemPrefix):
		return ChatSystem, strings.TrimSpace(strings.TrimPrefix(line, SystemPrefix))
	case strings.HasPrefix(line, BroadcastPrefix):
		return ChatBroadcast, strings.TrimSpace(strings.TrimPrefix(line, BroadcastPrefix))
	default:
		return ChatRegular, line
	}
}

// FormatChat builds the outbound line body "<username>: <message>".
// Embedded line breaks are folded into spaces so one message stays one record.
func FormatChat(username, message string) string {
	message = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(message)
	return username + ": " + message
}

// SplitSender splits a regular chat line into sender and content.
func SplitSender(line string) (sender, content string, ok bool) {
	sender, content, ok = strings.Cut(line, ": ")
	if !ok || sender == "" {
		return "", line, false
	}
	return sender, content, true
}
