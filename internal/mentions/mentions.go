// Package mentions extracts user and @here mentions from message content so
// the session handler can tell which members to highlight in a
// new_message broadcast. Mention syntax: <@ULID> for a specific user,
// @here for everyone currently in the channel. Mentions inside fenced code
// blocks and inline code spans are ignored, since pasted code referencing
// `<@...>`-shaped text is not an addressing intent.
package mentions

import (
	"regexp"
)

// Result holds the extracted mentions from one message.
type Result struct {
	UserIDs     []string `json:"userIds,omitempty"`
	MentionHere bool     `json:"mentionHere,omitempty"`
}

var (
	// ULID: 26 uppercase alphanumeric characters (Crockford base32).
	userMentionRe = regexp.MustCompile(`<@([0-9A-Z]{26})>`)
	codeBlockRe   = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe  = regexp.MustCompile("`[^`]+`")
	// \B before @here rejects matches where it's glued to a preceding word
	// character (e.g. "user@here.com"); \b after it requires the match end
	// on a word boundary so trailing punctuation doesn't block a real ping.
	hereMentionRe = regexp.MustCompile(`\B@here\b`)
)

// Parse extracts mentions from content, deduplicated and in first-seen
// order.
func Parse(content string) Result {
	stripped := codeBlockRe.ReplaceAllString(content, "")
	stripped = inlineCodeRe.ReplaceAllString(stripped, "")

	var result Result
	seen := make(map[string]bool)
	for _, match := range userMentionRe.FindAllStringSubmatch(stripped, -1) {
		id := match[1]
		if !seen[id] {
			seen[id] = true
			result.UserIDs = append(result.UserIDs, id)
		}
	}

	if hereMentionRe.MatchString(stripped) {
		result.MentionHere = true
	}

	return result
}
