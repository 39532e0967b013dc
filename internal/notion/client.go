package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/models"
	"log/slog"
)

const (
	defaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"

	// Notion caps paragraph rich text at 2000 characters and page creation
	// at 100 child blocks.
	maxParagraphRunes = 2000
	maxBlocks         = 100
)

// Client publishes reports as pages in a Notion database. Publishing is
// best effort: callers log failures and move on.
type Client struct {
	baseURL    string
	token      string
	databaseID string
	http       *http.Client
	logger     *slog.Logger
}

// NewClient builds a publisher, or nil when the note service is not
// configured.
func NewClient(cfg config.NotionConfig, logger *slog.Logger) *Client {
	if cfg.Token == "" || cfg.DatabaseID == "" {
		return nil
	}
	return &Client{
		baseURL:    defaultBaseURL,
		token:      cfg.Token,
		databaseID: cfg.DatabaseID,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type richText struct {
	Type string `json:"type"`
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
}

type paragraphBlock struct {
	Object    string `json:"object"`
	Type      string `json:"type"`
	Paragraph struct {
		RichText []richText `json:"rich_text"`
	} `json:"paragraph"`
}

type createPageRequest struct {
	Parent struct {
		DatabaseID string `json:"database_id"`
	} `json:"parent"`
	Properties map[string]any   `json:"properties"`
	Children   []paragraphBlock `json:"children"`
}

// Publish creates a page titled after the report with its body split into
// paragraph blocks.
func (c *Client) Publish(ctx context.Context, report *models.Report) error {
	payload := createPageRequest{
		Properties: map[string]any{
			"title": map[string]any{
				"title": []map[string]any{
					{"text": map[string]any{"content": report.Title}},
				},
			},
		},
		Children: paragraphs(report.Body),
	}
	payload.Parent.DatabaseID = c.databaseID

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notion page: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/pages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notion returned status %d: %s", resp.StatusCode, detail)
	}

	c.logger.Debug("report published to notion", "report_id", report.ID, "title", report.Title)
	return nil
}

// paragraphs splits the markdown body into Notion paragraph blocks within
// the API's size limits.
func paragraphs(body string) []paragraphBlock {
	runes := []rune(body)

	var blocks []paragraphBlock
	for len(runes) > 0 && len(blocks) < maxBlocks {
		n := len(runes)
		if n > maxParagraphRunes {
			n = maxParagraphRunes
		}

		var block paragraphBlock
		block.Object = "block"
		block.Type = "paragraph"
		text := richText{Type: "text"}
		text.Text.Content = string(runes[:n])
		block.Paragraph.RichText = []richText{text}

		blocks = append(blocks, block)
		runes = runes[n:]
	}
	return blocks
}
