package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>someuser on X</title>
<item>
<title>First post</title>
<link>https://x.com/someuser/status/1</link>
<description>&lt;p&gt;hello world&lt;/p&gt;&lt;img src="https://pbs.twimg.com/media/abc?format=jpg"&gt;</description>
<pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
</item>
<item>
<title>Second post</title>
<link>https://x.com/someuser/status/2</link>
<description>&lt;p&gt;@friend nice one&lt;/p&gt;</description>
<pubDate>Tue, 03 Jan 2006 15:04:05 -0700</pubDate>
</item>
</channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>someuser</title>
<entry>
<title>Atom post</title>
<link href="https://x.com/someuser/status/9"/>
<content type="html">plain body</content>
<published>2006-01-02T15:04:05Z</published>
<id>tag:9</id>
</entry>
</feed>`

func TestFetchPostsParsesRSS(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/twitter/user/someuser" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	client := NewClient(config.GatewayConfig{
		BaseURL:        srv.URL,
		Token:          "tok",
		RequestTimeout: 5 * time.Second,
	}, testLogger())

	posts, err := client.FetchPosts(context.Background(), "someuser")
	if err != nil {
		t.Fatalf("FetchPosts returned error: %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Errorf("expected bearer token header, got %q", gotAuth)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}

	// Sorted newest first.
	if posts[0].PostURL != "https://x.com/someuser/status/2" {
		t.Errorf("expected newest post first, got %q", posts[0].PostURL)
	}
	if posts[0].Kind != models.PostKindReply {
		t.Errorf("expected reply kind, got %v", posts[0].Kind)
	}

	second := posts[1]
	if second.Content != "hello world" {
		t.Errorf("expected markdown body, got %q", second.Content)
	}
	if len(second.MediaURLs) != 1 || second.MediaURLs[0] != "https://pbs.twimg.com/media/abc?format=jpg" {
		t.Errorf("unexpected media urls: %v", second.MediaURLs)
	}
}

func TestFetchPostsParsesAtomFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleAtom))
	}))
	defer srv.Close()

	client := NewClient(config.GatewayConfig{BaseURL: srv.URL, RequestTimeout: 5 * time.Second}, testLogger())

	posts, err := client.FetchPosts(context.Background(), "someuser")
	if err != nil {
		t.Fatalf("FetchPosts returned error: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	if posts[0].PostURL != "https://x.com/someuser/status/9" {
		t.Errorf("unexpected link %q", posts[0].PostURL)
	}
	if !posts[0].PublishedAt.Equal(time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)) {
		t.Errorf("unexpected published time %v", posts[0].PublishedAt)
	}
}

func TestFetchPostsErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
		{
			name: "unparseable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not xml at all"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewClient(config.GatewayConfig{BaseURL: srv.URL, RequestTimeout: 5 * time.Second}, testLogger())
			if _, err := client.FetchPosts(context.Background(), "someuser"); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestFetchPostsSkipsInvalidLinks(t *testing.T) {
	feed := `<?xml version="1.0"?><rss version="2.0"><channel><title>x</title>
<item><title>bad</title><link>not-a-url</link><description>body</description></item>
</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	client := NewClient(config.GatewayConfig{BaseURL: srv.URL, RequestTimeout: 5 * time.Second}, testLogger())
	posts, err := client.FetchPosts(context.Background(), "someuser")
	if err != nil {
		t.Fatalf("FetchPosts returned error: %v", err)
	}
	if len(posts) != 0 {
		t.Errorf("expected invalid link to be skipped, got %d posts", len(posts))
	}
}

func TestParsePubDateFormats(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"Mon, 02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"2006-01-02T15:04:05Z", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"2006-01-02 15:04:05", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parsePubDate(tt.input)
			if !got.UTC().Equal(tt.want) {
				t.Errorf("parsePubDate(%q) = %v, want %v", tt.input, got.UTC(), tt.want)
			}
		})
	}

	t.Run("empty and garbage fall back to now", func(t *testing.T) {
		for _, input := range []string{"", "last tuesday"} {
			got := parsePubDate(input)
			if time.Since(got) > time.Minute {
				t.Errorf("parsePubDate(%q) = %v, expected near-now fallback", input, got)
			}
		}
	})
}
