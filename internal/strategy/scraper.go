package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// ScraperOptions tunes the HTML collector.
type ScraperOptions struct {
	RequestTimeout time.Duration
	// Delay spaces consecutive requests to the same host.
	Delay time.Duration
}

// scraper fetches HTML pages and pulls the JSON arrays the TCMSP pages embed
// in inline Kendo grid scripts.
type scraper struct {
	base *colly.Collector
}

func newScraper(opts ScraperOptions) *scraper {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.Async(false),
	)
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       opts.Delay,
	})
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)
	return &scraper{base: c}
}

// page downloads rawURL and parses it as HTML.
func (s *scraper) page(ctx context.Context, rawURL string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := s.base.Clone()
	c.Context = ctx
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", nextUserAgent())
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	})

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	if err := c.Visit(rawURL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("visit %s: empty response body", rawURL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return doc, nil
}

var gridDataPattern = regexp.MustCompile(`(?s)data:\s*(\[\s*\{.*?\}\s*\])`)

var (
	errNoGridData = errors.New("no embedded grid data")
	// errGridDecode reports an embedded array that was present but not valid JSON.
	errGridDecode = errors.New("embedded grid data malformed")
)

// gridData returns the first embedded `data: [...]` array found in a script
// matched by selector whose objects carry every required key.
func gridData(doc *goquery.Document, selector string, required ...string) ([]map[string]any, error) {
	var (
		found   []map[string]any
		lastErr error
	)
	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		if !strings.Contains(text, "data:") {
			return true
		}
		for _, match := range gridDataPattern.FindAllStringSubmatch(text, -1) {
			var items []map[string]any
			if err := json.Unmarshal([]byte(match[1]), &items); err != nil {
				lastErr = err
				continue
			}
			if len(items) > 0 && hasKeys(items[0], required) {
				found = items
				return false
			}
		}
		return true
	})
	if found != nil {
		return found, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", errGridDecode, lastErr)
	}
	return nil, errNoGridData
}

func hasKeys(item map[string]any, keys []string) bool {
	for _, key := range keys {
		if _, ok := item[key]; !ok {
			return false
		}
	}
	return true
}
