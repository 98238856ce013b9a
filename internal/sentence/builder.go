// Package sentence assembles finalized transcript fragments into complete,
// punctuation-bounded sentences.
package sentence

import (
	"strings"
	"unicode/utf8"
)

// terminal reports whether r ends a sentence.
func terminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	default:
		return false
	}
}

// Builder accumulates transcript fragments until sentence-ending punctuation
// appears. It is not safe for concurrent use; each transcription session owns
// exactly one Builder.
type Builder struct {
	pending strings.Builder
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Feed appends one finalized fragment and returns completed sentences, if
// any. A fragment may close several sentences at once ("Yes. No. Maybe"),
// and trailing text without terminal punctuation stays buffered.
func (b *Builder) Feed(fragment string) []string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil
	}
	if b.pending.Len() > 0 {
		b.pending.WriteByte(' ')
	}
	b.pending.WriteString(fragment)

	text := b.pending.String()
	var out []string
	start := 0
	lastEnd := -1
	for i, r := range text {
		if !terminal(r) {
			continue
		}
		s := strings.TrimSpace(text[start : i+len(string(r))])
		if s != "" && s != string(r) {
			out = append(out, s)
		}
		start = i + len(string(r))
		lastEnd = start
	}

	if lastEnd < 0 {
		return nil
	}
	rest := strings.TrimSpace(text[lastEnd:])
	b.pending.Reset()
	if rest != "" {
		b.pending.WriteString(rest)
	}
	return out
}

// Flush force-closes the pending fragment, returning it as a sentence with a
// period appended. Used when the stream pauses so the tail is not lost.
func (b *Builder) Flush() string {
	rest := strings.TrimSpace(b.pending.String())
	b.pending.Reset()
	if rest == "" {
		return ""
	}
	if last, _ := utf8.DecodeLastRuneInString(rest); !terminal(last) {
		rest += "."
	}
	return rest
}

// Pending reports whether an unfinished fragment is buffered.
func (b *Builder) Pending() bool {
	return b.pending.Len() > 0
}
