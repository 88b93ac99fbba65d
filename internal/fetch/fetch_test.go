package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const pageFixture = `<!DOCTYPE html>
<html>
<head>
	<title>Release Notes</title>
	<style>body { color: red; }</style>
	<script>console.log("hi");</script>
</head>
<body>
	<nav>Home | About | Contact</nav>
	<main>
		<h1>Version 2.0</h1>
		<p>This release adds <em>streaming</em> support.</p>
		<ul><li>Faster startup</li><li>Less memory</li></ul>
	</main>
	<footer>Copyright 2026</footer>
</body>
</html>`

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(pageFixture))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("just text"))
		case "/binary":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte{0xff, 0xfe, 0x00, 0x01})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchExtractsReadableText(t *testing.T) {
	srv := pageServer(t)

	page, err := New().Fetch(context.Background(), srv.URL+"/page", 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Title != "Release Notes" {
		t.Errorf("title = %q", page.Title)
	}
	for _, want := range []string{"Version 2.0", "streaming", "Faster startup"} {
		if !strings.Contains(page.Content, want) {
			t.Errorf("content missing %q:\n%s", want, page.Content)
		}
	}
	for _, banned := range []string{"console.log", "color: red", "Home | About", "Copyright"} {
		if strings.Contains(page.Content, banned) {
			t.Errorf("boilerplate leaked %q:\n%s", banned, page.Content)
		}
	}
}

func TestFetchPlainText(t *testing.T) {
	srv := pageServer(t)

	page, err := New().Fetch(context.Background(), srv.URL+"/plain", 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Content != "just text" {
		t.Errorf("content = %q", page.Content)
	}
}

func TestFetchBinaryContent(t *testing.T) {
	srv := pageServer(t)

	page, err := New().Fetch(context.Background(), srv.URL+"/binary", 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(page.Content, "Binary content") {
		t.Errorf("content = %q", page.Content)
	}
}

func TestFetchTruncates(t *testing.T) {
	srv := pageServer(t)

	page, err := New().Fetch(context.Background(), srv.URL+"/page", 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !page.Truncated {
		t.Error("expected truncation")
	}
	if len(page.Content) > 40 {
		t.Errorf("content too long after truncation: %d bytes", len(page.Content))
	}
}

func TestFetchRequiresURL(t *testing.T) {
	if _, err := New().Fetch(context.Background(), "", 0); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestTruncateUTF8(t *testing.T) {
	s := "héllo wörld"
	got := truncateUTF8(s, 4)
	if got != "héll" {
		t.Errorf("truncateUTF8 = %q", got)
	}
}

func TestHandleFetch(t *testing.T) {
	srv := pageServer(t)

	out, err := New().handleFetch(context.Background(), map[string]any{"url": srv.URL + "/page"})
	if err != nil {
		t.Fatalf("handleFetch: %v", err)
	}
	text := out.(string)
	if !strings.HasPrefix(text, "# Release Notes") {
		t.Errorf("missing title heading:\n%s", text)
	}
}

func TestSqueezeWhitespace(t *testing.T) {
	in := "a   b\n\n\n\nc\t d"
	want := "a b\n\nc d"
	if got := squeezeWhitespace(in); got != want {
		t.Errorf("squeezeWhitespace = %q, want %q", got, want)
	}
}
