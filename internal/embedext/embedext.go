// Package embedext extracts rendering hints from message content. It scans
// for up to four http(s) URLs and classifies each as YouTube, Twitch, or a
// generic link card. Extraction is pure: it reads only the content string
// and never touches the network or the DAL.
package embedext

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/roguecord/hub/internal/models"
)

// maxURLs bounds how many links in one message get turned into embeds.
const maxURLs = 4

// maxPathLen truncates a generic link card's displayed path.
const maxPathLen = 96

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

var (
	youtubeWatch   = regexp.MustCompile(`^(?:www\.|m\.)?youtube\.com$`)
	youtubeShort   = regexp.MustCompile(`^youtu\.be$`)
	youtubeIDShape = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

	twitchHost = regexp.MustCompile(`^(?:www\.)?twitch\.tv$`)
	clipsHost  = regexp.MustCompile(`^clips\.twitch\.tv$`)
)

// Extract scans content for up to four URLs and returns their embeds in the
// order encountered. Non-http(s) schemes are ignored; a URL that fails to
// parse is skipped rather than aborting the whole extraction.
func Extract(content string) []models.Embed {
	matches := urlPattern.FindAllString(content, -1)
	var embeds []models.Embed
	for _, raw := range matches {
		if len(embeds) >= maxURLs {
			break
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		embeds = append(embeds, classify(u))
	}
	return embeds
}

func classify(u *url.URL) models.Embed {
	host := strings.ToLower(u.Hostname())

	if id, ok := youtubeVideoID(u, host); ok {
		return models.Embed{
			Kind:         "youtube",
			URL:          u.String(),
			Title:        "YouTube video",
			ThumbnailURL: fmt.Sprintf("https://img.youtube.com/vi/%s/hqdefault.jpg", id),
			EmbedURL:     fmt.Sprintf("https://www.youtube.com/embed/%s", id),
			Host:         host,
		}
	}

	if embedURL, ok := twitchEmbed(u, host); ok {
		return models.Embed{
			Kind:     "twitch",
			URL:      u.String(),
			Title:    "Twitch stream",
			EmbedURL: embedURL,
			Host:     host,
		}
	}

	return models.Embed{
		Kind:  "link",
		URL:   u.String(),
		Host:  host,
		Path:  truncatePath(u.Path),
		Title: host,
	}
}

// youtubeVideoID recognizes youtube.com/watch?v=<id>, youtu.be/<id>, and the
// shorts/embed/live path forms, returning the 11-character video id.
func youtubeVideoID(u *url.URL, host string) (string, bool) {
	switch {
	case youtubeWatch.MatchString(host):
		if v := u.Query().Get("v"); youtubeIDShape.MatchString(v) {
			return v, true
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id := strings.TrimPrefix(u.Path, prefix)
				if youtubeIDShape.MatchString(id) {
					return id, true
				}
			}
		}
		return "", false
	case youtubeShort.MatchString(host):
		id := strings.TrimPrefix(u.Path, "/")
		if youtubeIDShape.MatchString(id) {
			return id, true
		}
		return "", false
	default:
		return "", false
	}
}

// twitchEmbed recognizes channel, VOD, and clip URLs, returning a player
// embed URL carrying the {parent} placeholder the client substitutes with
// its own hostname before rendering the iframe.
func twitchEmbed(u *url.URL, host string) (string, bool) {
	const parentPlaceholder = "{parent}"

	switch {
	case clipsHost.MatchString(host):
		slug := strings.Trim(u.Path, "/")
		if slug == "" {
			return "", false
		}
		return fmt.Sprintf("https://clips.twitch.tv/embed?clip=%s&parent=%s", slug, parentPlaceholder), true

	case twitchHost.MatchString(host):
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			return fmt.Sprintf("https://player.twitch.tv/?channel=%s&parent=%s", parts[0], parentPlaceholder), true
		case len(parts) == 2 && parts[0] == "videos":
			return fmt.Sprintf("https://player.twitch.tv/?video=%s&parent=%s", parts[1], parentPlaceholder), true
		case len(parts) == 3 && parts[1] == "clip":
			return fmt.Sprintf("https://clips.twitch.tv/embed?clip=%s&parent=%s", parts[2], parentPlaceholder), true
		default:
			return "", false
		}
	default:
		return "", false
	}
}

func truncatePath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) <= maxPathLen {
		return p
	}
	return p[:maxPathLen-1] + "…"
}
