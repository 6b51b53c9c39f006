package linkmeta_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"forkful/internal/linkmeta"
	"forkful/internal/logging"
)

func page(t *testing.T, html string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "nope", status)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTitlePrefersOpenGraph(t *testing.T) {
	srv := page(t, `<html><head>
		<meta property="og:title" content="Weeknight Shakshuka"/>
		<title>Weeknight Shakshuka | Some Blog With Noise</title>
	</head><body></body></html>`, http.StatusOK)

	resolver := linkmeta.NewResolver(logging.NewNop())
	title, err := resolver.Title(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("title: %v", err)
	}
	if title != "Weeknight Shakshuka" {
		t.Fatalf("expected og:title, got %q", title)
	}
}

func TestTitleFallsBackToTitleElement(t *testing.T) {
	srv := page(t, `<html><head><title>  Simple Dal  </title></head><body></body></html>`, http.StatusOK)

	resolver := linkmeta.NewResolver(logging.NewNop())
	title, err := resolver.Title(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("title: %v", err)
	}
	if title != "Simple Dal" {
		t.Fatalf("expected trimmed title element, got %q", title)
	}
}

func TestTitleReportsBadStatus(t *testing.T) {
	srv := page(t, "", http.StatusServiceUnavailable)

	resolver := linkmeta.NewResolver(logging.NewNop())
	if _, err := resolver.Title(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
