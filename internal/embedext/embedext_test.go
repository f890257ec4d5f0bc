package embedext

import "testing"

func TestExtract_YoutubeWatchURL(t *testing.T) {
	embeds := Extract("check this out https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=30s thanks")
	if len(embeds) != 1 {
		t.Fatalf("len(embeds) = %d, want 1", len(embeds))
	}
	e := embeds[0]
	if e.Kind != "youtube" {
		t.Errorf("Kind = %q, want youtube", e.Kind)
	}
	if e.EmbedURL != "https://www.youtube.com/embed/dQw4w9WgXcQ" {
		t.Errorf("EmbedURL = %q", e.EmbedURL)
	}
}

func TestExtract_YoutubeShortLink(t *testing.T) {
	embeds := Extract("https://youtu.be/dQw4w9WgXcQ")
	if len(embeds) != 1 || embeds[0].Kind != "youtube" {
		t.Fatalf("got %+v", embeds)
	}
}

func TestExtract_TwitchChannel(t *testing.T) {
	embeds := Extract("live now https://www.twitch.tv/shroud")
	if len(embeds) != 1 {
		t.Fatalf("len(embeds) = %d, want 1", len(embeds))
	}
	if embeds[0].Kind != "twitch" {
		t.Fatalf("Kind = %q, want twitch", embeds[0].Kind)
	}
	if embeds[0].EmbedURL != "https://player.twitch.tv/?channel=shroud&parent={parent}" {
		t.Errorf("EmbedURL = %q", embeds[0].EmbedURL)
	}
}

func TestExtract_TwitchClip(t *testing.T) {
	embeds := Extract("https://clips.twitch.tv/AwkwardClipSlug")
	if len(embeds) != 1 || embeds[0].Kind != "twitch" {
		t.Fatalf("got %+v", embeds)
	}
}

func TestExtract_GenericLink(t *testing.T) {
	embeds := Extract("see https://example.com/articles/long-form-piece")
	if len(embeds) != 1 {
		t.Fatalf("len(embeds) = %d, want 1", len(embeds))
	}
	e := embeds[0]
	if e.Kind != "link" || e.Host != "example.com" || e.Path != "/articles/long-form-piece" {
		t.Errorf("got %+v", e)
	}
}

func TestExtract_CapsAtFourURLs(t *testing.T) {
	content := "https://a.com https://b.com https://c.com https://d.com https://e.com"
	embeds := Extract(content)
	if len(embeds) != maxURLs {
		t.Fatalf("len(embeds) = %d, want %d", len(embeds), maxURLs)
	}
}

func TestExtract_IgnoresNonHTTPScheme(t *testing.T) {
	embeds := Extract("ftp://files.example.com/thing and not-a-url-at-all")
	if len(embeds) != 0 {
		t.Fatalf("len(embeds) = %d, want 0", len(embeds))
	}
}

func TestExtract_NoURLsReturnsNil(t *testing.T) {
	embeds := Extract("just plain text, nothing to see here")
	if embeds != nil {
		t.Fatalf("embeds = %+v, want nil", embeds)
	}
}
