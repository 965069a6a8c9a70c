// Package extract parses mirror timeline documents into post records.
//
// The markup is third-party and unversioned, so parsing is tolerant by
// construction: a structural element missing its minimum fields is
// skipped, never an error.
package extract

import (
	"bytes"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/quillfeed/quillwatch/internal/watch"
)

// Timeline selectors for the mirror markup.
const (
	itemSelector     = "div.timeline-item"
	linkSelector     = "a.tweet-link"
	bodySelector     = ".tweet-content"
	handleSelector   = ".username"
	nameSelector     = ".fullname"
	dateSelector     = ".tweet-date a"
	statSelector     = ".tweet-stats .icon-container"
	showMoreSelector = "div.show-more a"
)

// timeLayout matches the mirror's post timestamps once the middle dot
// delimiter has been normalized away.
const timeLayout = "Jan 2, 2006 3:04 PM MST"

// fallbackIDLen bounds the body-prefix identifier used when a post has
// no permalink.
const fallbackIDLen = 48

// Posts extracts the ordered post records from a fetched document.
// Items without a non-empty body are silently skipped.
func Posts(doc watch.Document) []watch.PostRecord {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil
	}

	var posts []watch.PostRecord
	root.Find(itemSelector).Each(func(_ int, item *goquery.Selection) {
		if item.HasClass("show-more") {
			return
		}
		text := strings.TrimSpace(item.Find(bodySelector).First().Text())
		if text == "" {
			return
		}

		rec := watch.PostRecord{
			Text:        text,
			Handle:      strings.TrimPrefix(strings.TrimSpace(item.Find(handleSelector).First().Text()), "@"),
			DisplayName: strings.TrimSpace(item.Find(nameSelector).First().Text()),
			CreatedAt:   parseTimestamp(item.Find(dateSelector).First().AttrOr("title", "")),
		}

		if href, ok := item.Find(linkSelector).First().Attr("href"); ok && href != "" {
			rec.ID = idFromPermalink(href)
			rec.URL = doc.MirrorUsed + permalinkPath(href)
		}
		if rec.ID == "" {
			rec.ID = fallbackID(text)
		}

		item.Find(statSelector).Each(func(_ int, stat *goquery.Selection) {
			count := parseCount(stat.Text())
			switch {
			case stat.Find(".icon-comment").Length() > 0:
				rec.Replies = count
			case stat.Find(".icon-retweet").Length() > 0:
				rec.Reposts = count
			case stat.Find(".icon-quote").Length() > 0:
				rec.Quotes = count
			case stat.Find(".icon-heart").Length() > 0:
				rec.Likes = count
			}
		})

		posts = append(posts, rec)
	})
	return posts
}

// Continuation returns the opaque locator for the next result page, or
// false when the document has no "more results" affordance.
func Continuation(body []byte) (string, bool) {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}

	var href string
	root.Find(showMoreSelector).Each(func(_ int, link *goquery.Selection) {
		label := strings.TrimSpace(link.Text())
		// The top affordance is "Load newest"; only the bottom one
		// continues the result set.
		if strings.EqualFold(label, "Load more") {
			href = link.AttrOr("href", "")
		}
	})
	if href == "" {
		return "", false
	}
	return href, true
}

// idFromPermalink prefers the trailing path segment of the permalink,
// with fragment and query stripped.
func idFromPermalink(href string) string {
	href = strings.SplitN(href, "#", 2)[0]
	href = strings.SplitN(href, "?", 2)[0]
	id := path.Base(href)
	if id == "." || id == "/" {
		return ""
	}
	return id
}

func permalinkPath(href string) string {
	href = strings.SplitN(href, "#", 2)[0]
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return href
}

// fallbackID derives a stable identifier from the body text when no
// permalink exists. Never empty for a non-empty body.
func fallbackID(text string) string {
	runes := []rune(text)
	if len(runes) > fallbackIDLen {
		runes = runes[:fallbackIDLen]
	}
	return string(runes)
}

// parseTimestamp tolerates the mirror's middle-dot delimiter before
// date parsing. Unparseable input yields nil, never a fabricated time.
func parseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	normalized := strings.ReplaceAll(raw, "·", " ")
	normalized = strings.Join(strings.Fields(normalized), " ")
	if ts, err := time.Parse(timeLayout, normalized); err == nil {
		ts = ts.UTC()
		return &ts
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = ts.UTC()
		return &ts
	}
	return nil
}

// parseCount strips thousands separators and parses a counter label.
// Anything that does not parse as a number is unknown, not zero; the
// monitor engine depends on that distinction.
func parseCount(raw string) *int {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return nil
	}
	n, err := strconv.Atoi(cleaned)
	if err != nil || n < 0 {
		return nil
	}
	return watch.IntPtr(n)
}
