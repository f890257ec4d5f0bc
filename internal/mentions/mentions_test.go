package mentions

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantUsers []string
		wantHere  bool
	}{
		{
			name:    "no mentions",
			content: "hello world",
		},
		{
			name:      "single user mention",
			content:   "hey <@01ARZ3NDEKTSV4RRFFQ69G5FAV>!",
			wantUsers: []string{"01ARZ3NDEKTSV4RRFFQ69G5FAV"},
		},
		{
			name:      "multiple user mentions",
			content:   "<@01ARZ3NDEKTSV4RRFFQ69G5FAV> and <@01ARZ3NDEKTSV4RRFFQ69G5FAW>",
			wantUsers: []string{"01ARZ3NDEKTSV4RRFFQ69G5FAV", "01ARZ3NDEKTSV4RRFFQ69G5FAW"},
		},
		{
			name:      "duplicate user mentions deduplicated",
			content:   "<@01ARZ3NDEKTSV4RRFFQ69G5FAV> said <@01ARZ3NDEKTSV4RRFFQ69G5FAV>",
			wantUsers: []string{"01ARZ3NDEKTSV4RRFFQ69G5FAV"},
		},
		{
			name:     "@here detected",
			content:  "attention @here please read",
			wantHere: true,
		},
		{
			name:      "mixed mentions",
			content:   "<@01ARZ3NDEKTSV4RRFFQ69G5FAV> @here",
			wantUsers: []string{"01ARZ3NDEKTSV4RRFFQ69G5FAV"},
			wantHere:  true,
		},
		{
			name:    "user mention inside code block ignored",
			content: "```\n<@01ARZ3NDEKTSV4RRFFQ69G5FAV>\n```",
		},
		{
			name:    "user mention inside inline code ignored",
			content: "use `<@01ARZ3NDEKTSV4RRFFQ69G5FAV>` syntax",
		},
		{
			name:    "@here inside code block ignored",
			content: "```\n@here\n```",
		},
		{
			name:    "@here inside inline code ignored",
			content: "type `@here` to ping",
		},
		{
			name:      "mention outside code block still detected",
			content:   "```\ncode\n``` <@01ARZ3NDEKTSV4RRFFQ69G5FAV>",
			wantUsers: []string{"01ARZ3NDEKTSV4RRFFQ69G5FAV"},
		},
		{
			name:    "invalid ULID length ignored",
			content: "<@SHORT>",
		},
		{
			name:    "lowercase ulid ignored",
			content: "<@01arz3ndektsv4rrffq69g5fav>",
		},
		{
			name:    "@here glued to a word is not a mention",
			content: "contact user@here.com for help",
		},
		{
			name:     "@here with trailing punctuation detected",
			content:  "hey @here, read this!",
			wantHere: true,
		},
		{
			name: "empty content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.content)

			if !sliceEqual(got.UserIDs, tt.wantUsers) {
				t.Errorf("UserIDs = %v, want %v", got.UserIDs, tt.wantUsers)
			}
			if got.MentionHere != tt.wantHere {
				t.Errorf("MentionHere = %v, want %v", got.MentionHere, tt.wantHere)
			}
		})
	}
}

func sliceEqual(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
