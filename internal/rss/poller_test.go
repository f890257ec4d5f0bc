package rss

import (
	"testing"
	"time"

	"github.com/roguecord/hub/internal/models"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Example Feed</title>
    <item>
      <title>First post</title>
      <link>https://example.com/1</link>
      <guid>guid-1</guid>
      <pubDate>Mon, 02 Jan 2006 15:04:05 +0000</pubDate>
    </item>
    <item>
      <title>Second post</title>
      <link>https://example.com/2</link>
      <guid>guid-2</guid>
      <pubDate>Tue, 03 Jan 2006 15:04:05 +0000</pubDate>
    </item>
  </channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Atom Feed</title>
  <entry>
    <title>Atom entry</title>
    <id>atom-1</id>
    <updated>2006-01-02T15:04:05Z</updated>
    <link rel="alternate" href="https://example.com/atom/1"/>
  </entry>
</feed>`

func TestParseFeed_RSS2(t *testing.T) {
	items, err := parseFeed([]byte(sampleRSS))
	if err != nil {
		t.Fatalf("parseFeed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].GUID != "guid-1" || items[0].Link != "https://example.com/1" {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if items[0].Published.IsZero() {
		t.Errorf("expected pubDate to parse")
	}
}

func TestParseFeed_Atom(t *testing.T) {
	items, err := parseFeed([]byte(sampleAtom))
	if err != nil {
		t.Fatalf("parseFeed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].GUID != "atom-1" || items[0].Link != "https://example.com/atom/1" {
		t.Errorf("unexpected atom item: %+v", items[0])
	}
}

func TestParseFeed_UnrecognizedFormat(t *testing.T) {
	if _, err := parseFeed([]byte(`<html><body>not a feed</body></html>`)); err == nil {
		t.Fatal("expected an error for a non-feed document")
	}
}

func TestItemKey_StableAndChannelScoped(t *testing.T) {
	item := feedItem{GUID: "guid-1", Link: "https://example.com/1"}
	chanA, chanB := models.NewULID(), models.NewULID()

	k1 := itemKey(chanA, item)
	k2 := itemKey(chanA, item)
	if k1 != k2 {
		t.Fatal("itemKey should be deterministic for the same channel and item")
	}
	if itemKey(chanB, item) == k1 {
		t.Fatal("itemKey should differ across channels for the same item")
	}
}

func TestItemKey_FallsBackToLinkThenTitle(t *testing.T) {
	ch := models.NewULID()
	withGUID := itemKey(ch, feedItem{GUID: "g", Link: "l", Title: "t"})
	withLink := itemKey(ch, feedItem{Link: "l", Title: "t"})
	withTitle := itemKey(ch, feedItem{Title: "t"})
	if withGUID == withLink || withLink == withTitle {
		t.Fatal("expected different identities to produce different keys")
	}
}

func TestSortOldestFirst(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []feedItem{
		{Title: "c", Published: now.Add(2 * time.Hour)},
		{Title: "a", Published: now},
		{Title: "b", Published: now.Add(time.Hour)},
	}
	sortOldestFirst(items)
	if items[0].Title != "a" || items[1].Title != "b" || items[2].Title != "c" {
		t.Errorf("items not sorted oldest-first: %+v", items)
	}
}

func TestFormatItem_FallsBackToTitleOnly(t *testing.T) {
	if got := formatItem(feedItem{Title: "no link here"}); got != "no link here" {
		t.Errorf("expected title-only format, got %q", got)
	}
	if got := formatItem(feedItem{Title: "", Link: "https://example.com"}); got == "" {
		t.Errorf("expected a non-empty fallback title")
	}
}
