package insights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/llm"
	"github.com/kolwatch/kolwatch/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	pending []models.EnrichedPost
	commits []models.Enrichment
}

func (s *fakeStore) ClaimPending(ctx context.Context, limit, hoursBack int) ([]models.EnrichedPost, error) {
	if limit < len(s.pending) {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *fakeStore) Commit(ctx context.Context, enrichment models.Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, enrichment)
	return nil
}

func (s *fakeStore) committed(postID int64) (models.Enrichment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.commits {
		if e.PostID == postID {
			return e, true
		}
	}
	return models.Enrichment{}, false
}

type fakeModel struct {
	mu          sync.Mutex
	textOutput  string
	textErr     error
	visionErr   map[string]error
	visionCalls []string
	textCalls   []string
	lastImages  []llm.ImageAttachment
}

func (m *fakeModel) CallText(ctx context.Context, prompt, model string, temperature float32) (*llm.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textCalls = append(m.textCalls, model)
	if m.textErr != nil {
		return nil, m.textErr
	}
	return &llm.Result{Content: m.textOutput, Model: model}, nil
}

func (m *fakeModel) CallVision(ctx context.Context, prompt, model string, images []llm.ImageAttachment, temperature float32) (*llm.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visionCalls = append(m.visionCalls, model)
	m.lastImages = images
	if err := m.visionErr[model]; err != nil {
		return nil, err
	}
	return &llm.Result{Content: m.textOutput, Model: model}, nil
}

type fakeImages struct {
	prepared map[string]string
}

func (f *fakeImages) ProcessAll(ctx context.Context, urls []string) map[string]string {
	out := make(map[string]string)
	for _, u := range urls {
		if data, found := f.prepared[u]; found {
			out[u] = data
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validInsight = `{
	"llm_summary": "发布了新的开源项目",
	"post_tag": "技术讨论",
	"content_type": "项目更新",
	"mentioned_entities": [{"entity_name": "Go", "entity_type": "product"}],
	"image_description": "",
	"deep_interpretation": "这是一个深度解读。"
}`

func testConfig() (config.LLMConfig, config.WorkerConfig) {
	return config.LLMConfig{
			FastModel:      "fast-model",
			VisionModel:    "vision-model",
			VisionFallback: "vision-fallback",
		}, config.WorkerConfig{
			TextWorkers:   2,
			VisionWorkers: 2,
		}
}

func enrichedPost(id int64, content string, media ...string) models.EnrichedPost {
	return models.EnrichedPost{
		Post:     models.Post{ID: id, Content: content, MediaURLs: media},
		Handle:   "alice",
		Nickname: "Alice",
	}
}

func TestDeepInterpretationTarget(t *testing.T) {
	tests := []struct {
		length int
		want   string
	}{
		{0, "100字左右"},
		{99, "100字左右"},
		{100, "150字左右"},
		{299, "150字左右"},
		{300, "250字左右"},
		{1000, "250字左右"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("len%d", tt.length), func(t *testing.T) {
			if got := deepInterpretationTarget(tt.length); got != tt.want {
				t.Errorf("deepInterpretationTarget(%d) = %q, want %q", tt.length, got, tt.want)
			}
		})
	}
}

func TestVisionInterpretationTarget(t *testing.T) {
	tests := []struct {
		name   string
		length int
		images int
		want   string
	}{
		{"single image short text", 100, 1, "150字左右"},
		{"single image medium text", 300, 1, "200字左右"},
		{"single image long text", 500, 1, "300字左右"},
		{"many images", 10, 3, "300字左右"},
		{"two images medium text", 200, 2, "250字左右"},
		{"two images long text", 400, 2, "300字左右"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := visionInterpretationTarget(tt.length, tt.images); got != tt.want {
				t.Errorf("visionInterpretationTarget(%d, %d) = %q, want %q",
					tt.length, tt.images, got, tt.want)
			}
		})
	}
}

func TestImageDescriptionTarget(t *testing.T) {
	tests := []struct {
		images int
		want   string
	}{
		{1, "150字左右"},
		{2, "250字左右"},
		{3, "300字左右"},
		{7, "300字左右"},
	}

	for _, tt := range tests {
		if got := imageDescriptionTarget(tt.images); got != tt.want {
			t.Errorf("imageDescriptionTarget(%d) = %q, want %q", tt.images, got, tt.want)
		}
	}
}

func TestCandidateImageURLs(t *testing.T) {
	urls := []string{
		"https://pbs.twimg.com/media/a.jpg",
		"https://video.twimg.com/clip.mp4",
		"https://pbs.twimg.com/media/a.jpg",
		"https://example.com/photo.png",
		"https://pbs.twimg.com/media/b.png",
	}

	got := candidateImageURLs(urls)
	want := []string{
		"https://pbs.twimg.com/media/a.jpg",
		"https://pbs.twimg.com/media/b.png",
	}

	if len(got) != len(want) {
		t.Fatalf("candidateImageURLs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidateImageURLs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTextPromptContents(t *testing.T) {
	post := enrichedPost(1, "一段测试内容")
	prompt := textPrompt(post, 100000)

	for _, want := range []string{
		"@alice", "Alice", "一段测试内容",
		"llm_summary", "post_tag", "content_type",
		"mentioned_entities", "deep_interpretation",
		"技术讨论", "教程/指南", "100字左右",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("text prompt missing %q", want)
		}
	}
}

func TestVisionPromptContents(t *testing.T) {
	post := enrichedPost(1, strings.Repeat("长", 200))
	prompt := visionPrompt(post, 2, 100000)

	for _, want := range []string{"2 张图片", "image_description", "250字左右"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("vision prompt missing %q", want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("测试内容超长", 4); got != "测试内容" {
		t.Errorf("truncateRunes() = %q", got)
	}
	if got := truncateRunes("short", 100); got != "short" {
		t.Errorf("truncateRunes() = %q", got)
	}
}

func TestRunTextOnly(t *testing.T) {
	store := &fakeStore{pending: []models.EnrichedPost{enrichedPost(1, "纯文本帖子")}}
	model := &fakeModel{textOutput: validInsight}
	cfg, workers := testConfig()

	e := NewEnricher(store, model, &fakeImages{}, cfg, workers, testLogger())
	result, err := e.Run(context.Background(), 50, 36)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Claimed != 1 || result.Completed != 1 || result.Failed != 0 {
		t.Errorf("unexpected counters: %+v", result)
	}
	if result.TextProcessed != 1 || result.VisionProcessed != 0 {
		t.Errorf("expected text path: %+v", result)
	}

	committed, found := store.committed(1)
	if !found {
		t.Fatal("expected committed enrichment")
	}
	if committed.Status != models.EnrichmentStatusCompleted {
		t.Errorf("expected completed, got %s", committed.Status)
	}
	if committed.Summary != "发布了新的开源项目" || committed.Tag != "技术讨论" {
		t.Errorf("unexpected parsed fields: %+v", committed)
	}
	if committed.ModelName != "fast-model" {
		t.Errorf("expected fast model recorded, got %q", committed.ModelName)
	}
	if len(committed.Entities) != 1 || committed.Entities[0].Name != "Go" {
		t.Errorf("unexpected entities: %+v", committed.Entities)
	}
}

func TestRunVisionPath(t *testing.T) {
	imgURL := "https://pbs.twimg.com/media/a.jpg"
	store := &fakeStore{pending: []models.EnrichedPost{enrichedPost(2, "带图帖子", imgURL)}}
	model := &fakeModel{textOutput: validInsight}
	images := &fakeImages{prepared: map[string]string{imgURL: "data:image/png;base64,xyz"}}
	cfg, workers := testConfig()

	e := NewEnricher(store, model, images, cfg, workers, testLogger())
	result, err := e.Run(context.Background(), 50, 36)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.VisionProcessed != 1 || result.TextProcessed != 0 {
		t.Errorf("expected vision path: %+v", result)
	}
	if len(model.visionCalls) != 1 || model.visionCalls[0] != "vision-model" {
		t.Errorf("unexpected vision calls: %v", model.visionCalls)
	}
	if len(model.lastImages) != 1 || model.lastImages[0].Base64 != "data:image/png;base64,xyz" {
		t.Errorf("unexpected attachments: %+v", model.lastImages)
	}
}

func TestRunDowngradesWhenImagesUnusable(t *testing.T) {
	store := &fakeStore{pending: []models.EnrichedPost{
		enrichedPost(3, "图片挂了", "https://pbs.twimg.com/media/broken.jpg"),
	}}
	model := &fakeModel{textOutput: validInsight}
	cfg, workers := testConfig()

	e := NewEnricher(store, model, &fakeImages{}, cfg, workers, testLogger())
	result, err := e.Run(context.Background(), 50, 36)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.TextProcessed != 1 || result.VisionProcessed != 0 {
		t.Errorf("expected downgrade to text: %+v", result)
	}
	if len(model.visionCalls) != 0 {
		t.Errorf("expected no vision calls, got %v", model.visionCalls)
	}
}

func TestRunVisionFallback(t *testing.T) {
	imgURL := "https://pbs.twimg.com/media/a.jpg"
	store := &fakeStore{pending: []models.EnrichedPost{enrichedPost(4, "带图帖子", imgURL)}}
	model := &fakeModel{
		textOutput: validInsight,
		visionErr:  map[string]error{"vision-model": errors.New("400 bad image format")},
	}
	images := &fakeImages{prepared: map[string]string{imgURL: "data:image/png;base64,xyz"}}
	cfg, workers := testConfig()

	e := NewEnricher(store, model, images, cfg, workers, testLogger())
	result, err := e.Run(context.Background(), 50, 36)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Completed != 1 {
		t.Errorf("expected fallback success: %+v", result)
	}
	if len(model.visionCalls) != 2 || model.visionCalls[1] != "vision-fallback" {
		t.Errorf("expected fallback call, got %v", model.visionCalls)
	}

	committed, _ := store.committed(4)
	if committed.ModelName != "vision-fallback" {
		t.Errorf("expected fallback model recorded, got %q", committed.ModelName)
	}
}

func TestRunModelFailureCommitsFailed(t *testing.T) {
	store := &fakeStore{pending: []models.EnrichedPost{enrichedPost(5, "失败帖子")}}
	model := &fakeModel{textErr: errors.New("model unavailable")}
	cfg, workers := testConfig()

	e := NewEnricher(store, model, &fakeImages{}, cfg, workers, testLogger())
	result, err := e.Run(context.Background(), 50, 36)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Failed != 1 || result.Completed != 0 {
		t.Errorf("unexpected counters: %+v", result)
	}

	committed, found := store.committed(5)
	if !found {
		t.Fatal("expected failure committed")
	}
	if committed.Status != models.EnrichmentStatusFailed {
		t.Errorf("expected failed status, got %s", committed.Status)
	}
	if !strings.Contains(committed.DeepInterpretation, "model unavailable") {
		t.Errorf("expected error text preserved, got %q", committed.DeepInterpretation)
	}
}

func TestRunUnparseableOutputCommitsFailed(t *testing.T) {
	store := &fakeStore{pending: []models.EnrichedPost{enrichedPost(6, "乱码输出")}}
	model := &fakeModel{textOutput: "抱歉，我无法分析这条帖子。"}
	cfg, workers := testConfig()

	e := NewEnricher(store, model, &fakeImages{}, cfg, workers, testLogger())
	result, err := e.Run(context.Background(), 50, 36)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Failed != 1 {
		t.Errorf("expected failure: %+v", result)
	}
	committed, _ := store.committed(6)
	if committed.Status != models.EnrichmentStatusFailed {
		t.Errorf("expected failed status, got %s", committed.Status)
	}
}

func TestRunNothingClaimed(t *testing.T) {
	store := &fakeStore{}
	cfg, workers := testConfig()

	e := NewEnricher(store, &fakeModel{}, &fakeImages{}, cfg, workers, testLogger())
	result, err := e.Run(context.Background(), 50, 36)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Claimed != 0 || result.Completed != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}
