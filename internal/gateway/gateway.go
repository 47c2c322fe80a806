package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Messenger delivers text to a chat or channel (Telegram, Discord, etc.)
type Messenger interface {
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
}

// Responder turns an incoming chat message into the reply text.
type Responder interface {
	Respond(ctx context.Context, chatID, text string) (string, error)
}

// Target is a messenger with a fixed destination, used for run reports.
type Target struct {
	Name      string
	Messenger Messenger
	ChatID    string
}

// Broadcast sends text to every target and returns all delivery failures.
func Broadcast(targets []Target, text string) error {
	var errs []error
	for _, t := range targets {
		if err := t.Messenger.Send(t.ChatID, text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

// splitMessage cuts text into chunks of at most limit runes, preferring line
// boundaries.
func splitMessage(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		r := []rune(line)
		if curLen+len(r) > limit {
			flush()
		}
		for len(r) > limit {
			chunks = append(chunks, string(r[:limit]))
			r = r[limit:]
		}
		cur.WriteString(string(r))
		curLen += len(r)
	}
	flush()
	return chunks
}
