// Package rss polls feed-backed channels on an interval and publishes new
// entries as messages, deduping via a reservation row per (channelId,
// itemKey) so two overlapping polls never double-post the same entry.
package rss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roguecord/hub/internal/dal"
	"github.com/roguecord/hub/internal/models"
)

// maxItemsPerChannelPerPoll bounds how many new entries one poll will
// publish for a single feed, oldest first, so a feed that dumps a huge
// backlog on its first fetch does not flood the channel.
const maxItemsPerChannelPerPoll = 5

// FanoutFunc delivers a newly published message to every connected client.
type FanoutFunc func(eventType string, payload any)

// Poller periodically fetches every rss-type channel's feed and publishes
// unseen entries as messages authored by the configured bot account.
type Poller struct {
	store    *dal.Store
	logger   *slog.Logger
	client   *http.Client
	fanout   FanoutFunc
	botID    models.ULID
	interval time.Duration
	userAgent string
}

// New builds a Poller. interval should already have RSSConfig.PollIntervalParsed's 15s floor applied.
func New(store *dal.Store, logger *slog.Logger, fanout FanoutFunc, botID models.ULID, interval time.Duration, userAgent string) *Poller {
	if userAgent == "" {
		userAgent = "roguecord-rss/1.0"
	}
	return &Poller{
		store:     store,
		logger:    logger,
		client:    &http.Client{Timeout: 20 * time.Second},
		fanout:    fanout,
		botID:     botID,
		interval:  interval,
		userAgent: userAgent,
	}
}

// Run blocks, polling every channel on Poller's interval until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	channels, err := p.store.ListChannels(ctx)
	if err != nil {
		p.logger.Error("rss: listing channels", "error", err.Error())
		return
	}
	for _, ch := range channels {
		if ch.Type != models.ChannelRSS || ch.FeedURL == nil || *ch.FeedURL == "" {
			continue
		}
		if err := p.pollChannel(ctx, ch); err != nil {
			p.logger.Warn("rss: polling channel failed", "channel_id", ch.ID.String(), "feed_url", *ch.FeedURL, "error", err.Error())
		}
	}
}

func (p *Poller) pollChannel(ctx context.Context, ch models.Channel) error {
	items, err := p.fetch(ctx, *ch.FeedURL)
	if err != nil {
		return fmt.Errorf("fetching feed: %w", err)
	}

	// Oldest first so a backlog publishes in chronological order and the
	// per-poll cap drops the newest items, not the oldest.
	sortOldestFirst(items)

	published := 0
	for _, item := range items {
		if published >= maxItemsPerChannelPerPoll {
			break
		}
		key := itemKey(ch.ID, item)
		reserved, err := p.store.ReserveRssItem(ctx, ch.ID, key, nil)
		if err != nil {
			return fmt.Errorf("reserving item %q: %w", key, err)
		}
		if !reserved {
			continue // already published or in flight
		}

		content := formatItem(item)
		msg, err := p.store.CreateMessage(ctx, ch.ID, p.botID, content, nil)
		if err != nil {
			if relErr := p.store.ReleaseRssItem(ctx, ch.ID, key); relErr != nil {
				p.logger.Error("rss: releasing reservation after failed publish", "error", relErr.Error())
			}
			return fmt.Errorf("creating message for item %q: %w", key, err)
		}
		if err := p.store.PublishRssItem(ctx, ch.ID, key, msg.ID); err != nil {
			p.logger.Error("rss: recording published item", "error", err.Error())
		}

		p.fanout("new_message", msg)
		published++
	}
	return nil
}

func (p *Poller) fetch(ctx context.Context, feedURL string) ([]feedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml;q=0.9, */*;q=0.5")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading feed body: %w", err)
	}
	return parseFeed(body)
}

// itemKey derives a stable dedupe key from a channel and feed item: the
// entry's guid/id when present, falling back to its link, hashed with the
// channel id so the same feed entry in two channels doesn't collide.
func itemKey(channelID models.ULID, item feedItem) string {
	identity := item.GUID
	if identity == "" {
		identity = item.Link
	}
	if identity == "" {
		identity = item.Title
	}
	sum := sha256.Sum256([]byte(channelID.String() + "|" + identity))
	return hex.EncodeToString(sum[:])
}

func formatItem(item feedItem) string {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "(untitled)"
	}
	if item.Link == "" {
		return title
	}
	return fmt.Sprintf("%s\n%s", title, item.Link)
}

func sortOldestFirst(items []feedItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Published.Before(items[j-1].Published); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// feedItem is the parsed representation common to both RSS2.0 <item> and
// Atom <entry> elements.
type feedItem struct {
	Title     string
	Link      string
	GUID      string
	Published time.Time
}

// rssFeed and atomFeed map the two wire formats this package supports.
// There is no use for an external feed-parsing library anywhere in the
// reference stack, so both are hand-rolled on top of encoding/xml.
type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	ID      string `xml:"id"`
	Updated string `xml:"updated"`
	Links   []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
}

func (e atomEntry) link() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}

var rfc822Layouts = []string{
	time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339,
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range rfc822Layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseFeed tries RSS2.0 first, then Atom, returning an error only if
// neither shape matches.
func parseFeed(body []byte) ([]feedItem, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		out := make([]feedItem, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			out = append(out, feedItem{
				Title: it.Title, Link: it.Link, GUID: it.GUID, Published: parseTime(it.PubDate),
			})
		}
		return out, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		out := make([]feedItem, 0, len(atom.Entries))
		for _, e := range atom.Entries {
			out = append(out, feedItem{
				Title: e.Title, Link: e.link(), GUID: e.ID, Published: parseTime(e.Updated),
			})
		}
		return out, nil
	}

	return nil, fmt.Errorf("unrecognized feed format")
}
