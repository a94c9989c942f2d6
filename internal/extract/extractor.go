// Package extract turns directory pages into business candidates using
// JSON-LD, microdata, and CSS-selector heuristics.
package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
)

// minNameRunes is the shortest selector-derived name that is kept.
const minNameRunes = 3

// DefaultSelectors are used when a target supplies no selectors of its own.
var DefaultSelectors = []string{
	"[data-biz-name]",
	".business-name",
	".company-name",
	".business-title",
	"h1.business",
	"h2.business",
	".listing-title",
	".business-listing h3",
	".directory-entry .name",
}

var businessTypes = map[string]struct{}{
	"LocalBusiness": {},
	"Organization":  {},
	"Corporation":   {},
}

// strategy is one independent extraction pass over a parsed page.
type strategy func(doc *goquery.Document, pageURL string, selectors []string) []crawler.BusinessRecord

// Extractor applies every strategy in order and concatenates their output.
type Extractor struct {
	logger     *zap.Logger
	strategies []strategy
}

// New returns an Extractor with the JSON-LD, microdata, and selector strategies.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{logger: logger.Named("extract")}
	e.strategies = []strategy{e.jsonLD, e.microdata, e.selectors}
	return e
}

// Extract parses body and returns candidates. Strategies do not short-circuit and
// duplicates across strategies are kept.
func (e *Extractor) Extract(pageURL string, body []byte, selectors []string) []crawler.BusinessRecord {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Debug("parse html", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	var out []crawler.BusinessRecord
	for _, run := range e.strategies {
		out = append(out, run(doc, pageURL, selectors)...)
	}
	return out
}

func (e *Extractor) jsonLD(doc *goquery.Document, pageURL string, _ []string) []crawler.BusinessRecord {
	var out []crawler.BusinessRecord
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			e.logger.Debug("skipping malformed json-ld", zap.String("url", pageURL), zap.Error(err))
			return
		}
		for _, node := range flattenJSONLD(data) {
			if rec, ok := recordFromJSONLD(node, pageURL); ok {
				out = append(out, rec)
			}
		}
	})
	return out
}

// flattenJSONLD expands arrays and @graph containers into candidate objects.
func flattenJSONLD(data any) []map[string]any {
	switch v := data.(type) {
	case []any:
		var out []map[string]any
		for _, item := range v {
			out = append(out, flattenJSONLD(item)...)
		}
		return out
	case map[string]any:
		out := []map[string]any{v}
		if graph, ok := v["@graph"]; ok {
			out = append(out, flattenJSONLD(graph)...)
		}
		return out
	default:
		return nil
	}
}

func recordFromJSONLD(node map[string]any, pageURL string) (crawler.BusinessRecord, bool) {
	if !hasBusinessType(node["@type"]) {
		return crawler.BusinessRecord{}, false
	}
	name := cleanText(stringField(node, "name"))
	if name == "" {
		return crawler.BusinessRecord{}, false
	}
	rec := crawler.BusinessRecord{
		Name:             name,
		Sector:           cleanText(stringField(node, "description")),
		SourceURL:        pageURL,
		ExtractionMethod: crawler.MethodJSONLD,
	}
	switch addr := node["address"].(type) {
	case map[string]any:
		rec.Region = cleanText(stringField(addr, "addressLocality"))
	case string:
		rec.Region = cleanText(addr)
	}
	rec.Contact = cleanText(stringField(node, "telephone"))
	if rec.Contact == "" {
		rec.Contact = cleanText(stringField(node, "email"))
	}
	return rec, true
}

func hasBusinessType(v any) bool {
	switch t := v.(type) {
	case string:
		_, ok := businessTypes[t]
		return ok
	case []any:
		for _, item := range t {
			if hasBusinessType(item) {
				return true
			}
		}
	}
	return false
}

func stringField(node map[string]any, key string) string {
	s, _ := node[key].(string)
	return s
}

func (e *Extractor) microdata(doc *goquery.Document, pageURL string, _ []string) []crawler.BusinessRecord {
	var out []crawler.BusinessRecord
	doc.Find("[itemtype]").Each(func(_ int, item *goquery.Selection) {
		itemType, _ := item.Attr("itemtype")
		if !strings.Contains(itemType, "LocalBusiness") && !strings.Contains(itemType, "Organization") {
			return
		}
		name := cleanText(item.Find(`[itemprop="name"]`).First().Text())
		if name == "" {
			return
		}
		rec := crawler.BusinessRecord{
			Name:             name,
			SourceURL:        pageURL,
			ExtractionMethod: crawler.MethodMicrodata,
		}
		if addr := item.Find(`[itemprop="address"]`).First(); addr.Length() > 0 {
			if locality := addr.Find(`[itemprop="addressLocality"]`).First(); locality.Length() > 0 {
				rec.Region = cleanText(locality.Text())
			} else {
				rec.Region = cleanText(addr.Text())
			}
		}
		rec.Contact = cleanText(item.Find(`[itemprop="telephone"]`).First().Text())
		out = append(out, rec)
	})
	return out
}

func (e *Extractor) selectors(doc *goquery.Document, pageURL string, selectors []string) []crawler.BusinessRecord {
	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}
	var out []crawler.BusinessRecord
	for _, sel := range selectors {
		matcher, err := cascadia.Compile(sel)
		if err != nil {
			e.logger.Debug("skipping invalid selector", zap.String("selector", sel), zap.Error(err))
			continue
		}
		doc.FindMatcher(matcher).Each(func(_ int, el *goquery.Selection) {
			name := selectorName(el)
			if len([]rune(name)) < minNameRunes {
				return
			}
			rec := crawler.BusinessRecord{
				Name:             name,
				SourceURL:        pageURL,
				ExtractionMethod: crawler.MethodSelector,
				Selector:         sel,
			}
			enrich(el, &rec)
			out = append(out, rec)
		})
	}
	return out
}

// selectorName picks the first non-empty of data-biz-name, text, title, alt.
func selectorName(el *goquery.Selection) string {
	if v := cleanText(el.AttrOr("data-biz-name", "")); v != "" {
		return v
	}
	if v := cleanText(el.Text()); v != "" {
		return v
	}
	if v := cleanText(el.AttrOr("title", "")); v != "" {
		return v
	}
	return cleanText(el.AttrOr("alt", ""))
}

func enrich(el *goquery.Selection, rec *crawler.BusinessRecord) {
	rec.Region = cleanText(el.AttrOr("data-biz-region", ""))
	rec.Sector = cleanText(el.AttrOr("data-biz-sector", ""))

	parent := el.Parent()
	if parent.Length() == 0 {
		return
	}
	if rec.Region == "" {
		rec.Region = hintText(parent, ".location, .address, .region")
	}
	if rec.Sector == "" {
		rec.Sector = hintText(parent, ".category, .sector, .type")
	}
	rec.Contact = hintText(parent, ".phone, .email, .contact")
}

func hintText(parent *goquery.Selection, selector string) string {
	return cleanText(parent.Find(selector).First().Text())
}

// cleanText trims and collapses internal whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
