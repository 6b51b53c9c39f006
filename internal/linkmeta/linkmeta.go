package linkmeta

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"forkful/internal/logging"
)

const userAgent = "Forkful-Go/0.1.0"

// Resolver fetches a human-readable title for a submitted link so job lists
// can show "Smitten Kitchen - Shakshuka" instead of a bare URL.
type Resolver struct {
	client *http.Client
	logger *slog.Logger
}

// NewResolver builds a resolver with a short fetch timeout; title lookup must
// never hold up a submission.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logging.WithComponent(logger, "link-meta"),
	}
}

// Title returns the page title for a URL: the Open Graph title when present,
// otherwise the <title> element. Failures return an empty string with the
// error; callers treat the title as optional.
func (r *Resolver) Title(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build title request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	return titleFromDocument(doc), nil
}

func titleFromDocument(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if title := strings.TrimSpace(og); title != "" {
			return title
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
