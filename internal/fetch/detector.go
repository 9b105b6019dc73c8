package fetch

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
)

// HeuristicDetector implements ingest.ChallengeDetector using simple HTML
// signals: known challenge-page keywords and selectors. The heuristic only
// inspects HTML responses; binary and feed payloads are never challenges.
type HeuristicDetector struct {
	keywords  [][]byte
	selectors []string
}

// NewHeuristicDetector constructs a detector with the given signals. Empty
// keywords fall back to the built-in set.
func NewHeuristicDetector(keywords, selectors []string) *HeuristicDetector {
	if len(keywords) == 0 && len(selectors) == 0 {
		keywords = defaultChallengeKeywords()
		selectors = defaultChallengeSelectors()
	}
	lowered := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		lowered = append(lowered, []byte(kw))
	}
	return &HeuristicDetector{keywords: lowered, selectors: selectors}
}

func defaultChallengeKeywords() []string {
	return []string{
		"just a moment",
		"attention required",
		"checking your browser",
		"cf-chl",
		"are you a robot",
	}
}

func defaultChallengeSelectors() []string {
	return []string{"#challenge-form", "#cf-challenge-running", "form#challenge"}
}

// IsChallenge inspects the response body for challenge-page signals.
func (d *HeuristicDetector) IsChallenge(result ingest.FetchResult) bool {
	if d == nil || len(result.Body) == 0 {
		return false
	}
	if !isHTMLResponse(result.Headers, result.Body) {
		return false
	}
	if d.containsKeyword(result.Body) {
		return true
	}
	return d.matchesSelector(result.Body)
}

func (d *HeuristicDetector) containsKeyword(body []byte) bool {
	if len(d.keywords) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (d *HeuristicDetector) matchesSelector(body []byte) bool {
	if len(d.selectors) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

func isHTMLResponse(headers http.Header, body []byte) bool {
	ct := strings.ToLower(headers.Get("Content-Type"))
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return true
	}
	if ct != "" {
		return false
	}
	head := bytes.ToLower(bytes.TrimSpace(body))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
