package models

import "time"

// EnrichmentStatus is the lifecycle of one post's analysis row.
type EnrichmentStatus string

const (
	EnrichmentStatusPending   EnrichmentStatus = "pending"
	EnrichmentStatusCompleted EnrichmentStatus = "completed"
	EnrichmentStatusFailed    EnrichmentStatus = "failed"
)

// Entity is a named entity extracted from a post.
type Entity struct {
	Name string `json:"entity_name"`
	Type string `json:"entity_type"`
}

// PostTags is the closed tag vocabulary the analysis model must choose from.
var PostTags = []string{
	"技术讨论", "产品发布", "行业观察", "投资分析", "创业心路",
	"工具推荐", "资源分享", "生活感悟", "时事评论",
}

// ContentTypes is the closed content-type vocabulary.
var ContentTypes = []string{
	"教程/指南", "观点/评论", "读书/学习笔记", "项目更新", "提问/求助", "新闻/快讯",
}

// Enrichment is the structured + narrative LLM analysis attached one-to-one
// to a post.
type Enrichment struct {
	PostID             int64
	Status             EnrichmentStatus
	Summary            string
	Tag                string
	ContentType        string
	Entities           []Entity
	DeepInterpretation string
	ImageDescription   string
	ModelName          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EnrichedPost is a post joined with its completed enrichment and the owning
// account's identity, as consumed by the scorer and report synthesizer.
type EnrichedPost struct {
	Post
	Handle     string
	Nickname   string
	Enrichment Enrichment
}
