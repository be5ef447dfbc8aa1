package chatroom

import (
	"fmt"
	"time"
)

// renderTimeLayout is spec.md §3's "dd.mm.yy HH:MM:SS".
const renderTimeLayout = "02.01.06 15:04:05"

// ChatMessage is one entry in the history ring: (index, timestamp, author,
// body) per spec.md §3, plus a precomputed Rendered form. For an ordinary
// broadcast, Rendered is RenderMessage(msg). For a comment, Rendered is the
// "Commenting <original>\n<new>" composite spec.md §3 describes — the
// composite, not the bare body, is what gets replayed as History! and
// re-quoted by a later comment that references this message's index.
type ChatMessage struct {
	Index     uint64
	Timestamp time.Time
	Author    string
	Body      string
	Rendered  string
}

// RenderMessage formats msg as "[index] (dd.mm.yy HH:MM:SS) author: body".
func RenderMessage(msg ChatMessage) string {
	return fmt.Sprintf("[%d] (%s) %s: %s", msg.Index, msg.Timestamp.Format(renderTimeLayout), msg.Author, msg.Body)
}

// renderComment builds the composite text for a comment on original,
// authored by author with the given fresh index and body.
func renderComment(original ChatMessage, author string, index uint64, now time.Time, body string) string {
	newMsg := ChatMessage{Index: index, Timestamp: now, Author: author, Body: body}
	return fmt.Sprintf("Commenting <%s>\n%s", original.Rendered, RenderMessage(newMsg))
}

// renderPrivateBody formats the body of a Private! frame (without the tag):
// "(dd.mm.yy HH:MM:SS) sender: body".
func renderPrivateBody(now time.Time, from, body string) string {
	return fmt.Sprintf("(%s) %s: %s", now.Format(renderTimeLayout), from, body)
}
