package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/models"
)

// Score computes the deterministic value score for an enriched post. Pure:
// same post and config always produce the same float.
func Score(post models.EnrichedPost, cfg config.ScoringConfig) float64 {
	score := cfg.Base

	score += cfg.ContentTypeScores[post.Enrichment.ContentType]
	score += cfg.TagScores[post.Enrichment.Tag]

	score += float64(len([]rune(post.Content))) * cfg.BodyLengthWeight
	score += float64(len([]rune(post.Enrichment.DeepInterpretation))) * cfg.InterpLengthWeight

	if post.HasMedia() {
		score += cfg.MediaBonus
	}
	if post.Kind == models.PostKindLinkShare || strings.Contains(post.Content, "http") {
		score += cfg.LinkBonus
	}

	return math.Round(score*10000) / 10000
}

// Rank sorts posts by score descending, breaking ties by published time
// descending, and returns the top limit entries.
func Rank(posts []models.EnrichedPost, cfg config.ScoringConfig, limit int) []models.EnrichedPost {
	ranked := make([]models.EnrichedPost, len(posts))
	copy(ranked, posts)

	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := Score(ranked[i], cfg), Score(ranked[j], cfg)
		if si != sj {
			return si > sj
		}
		return ranked[i].PublishedAt.After(ranked[j].PublishedAt)
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
