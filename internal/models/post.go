package models

import "time"

// PostKind is the rule-classified shape of a post, decided once at ingest.
type PostKind string

const (
	PostKindOriginal  PostKind = "original"
	PostKindReply     PostKind = "reply"
	PostKindQuote     PostKind = "quote"
	PostKindLinkShare PostKind = "link_share"
)

// Post is a single ingested post. Immutable after insert; deduplicated on
// PostURL.
type Post struct {
	ID          int64
	AccountID   int64
	PostURL     string
	Title       string
	Content     string
	Kind        PostKind
	MediaURLs   []string
	PublishedAt time.Time
	CreatedAt   time.Time
}

// HasMedia reports whether the post references any media URL.
func (p *Post) HasMedia() bool {
	return len(p.MediaURLs) > 0
}
