package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"sync"
	"time"

	_ "image/gif" // register decoders for formats converted to PNG

	xdraw "golang.org/x/image/draw"

	"log/slog"
)

const (
	maxDownloadBytes = 50 << 20 // 50 MiB
	maxEdge          = 1024
	jpegQuality      = 85
)

// Processor downloads and normalizes post media for vision calls: flatten
// transparency onto white, scale the longer edge down to 1024px, re-encode,
// and emit a base64 data URI. Results are cached per URL for the lifetime of
// the processor, which is one enrichment run.
type Processor struct {
	http    *http.Client
	workers int
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	dataURI string
	ok      bool
}

// NewProcessor creates a processor with a fixed worker pool size.
func NewProcessor(workers int, timeout time.Duration, logger *slog.Logger) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		http:    &http.Client{Timeout: timeout},
		workers: workers,
		logger:  logger,
		cache:   make(map[string]cacheEntry),
	}
}

// ProcessAll resolves every URL to a base64 data URI, fanning the downloads
// out across the worker pool. URLs that fail are logged and omitted from the
// result map.
func (p *Processor) ProcessAll(ctx context.Context, urls []string) map[string]string {
	unique := make([]string, 0, len(urls))
	seen := map[string]bool{}
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			unique = append(unique, u)
		}
	}

	jobs := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				p.resolve(ctx, u)
			}
		}()
	}

	for _, u := range unique {
		jobs <- u
	}
	close(jobs)
	wg.Wait()

	results := make(map[string]string)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range urls {
		if entry, found := p.cache[u]; found && entry.ok {
			results[u] = entry.dataURI
		}
	}
	return results
}

// Lookup returns the cached data URI for a URL, if processing succeeded.
func (p *Processor) Lookup(url string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, found := p.cache[url]
	if !found || !entry.ok {
		return "", false
	}
	return entry.dataURI, true
}

func (p *Processor) resolve(ctx context.Context, url string) {
	p.mu.Lock()
	_, found := p.cache[url]
	p.mu.Unlock()
	if found {
		return
	}

	dataURI, err := p.process(ctx, url)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.logger.Warn("image processing failed", "url", url, "error", err)
		p.cache[url] = cacheEntry{ok: false}
		return
	}
	p.cache[url] = cacheEntry{dataURI: dataURI, ok: true}
}

func (p *Processor) process(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	if len(body) > maxDownloadBytes {
		return "", fmt.Errorf("image exceeds %d byte cap", maxDownloadBytes)
	}

	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("decode failed: %w", err)
	}

	img = flattenOnWhite(img)
	img = scaleDown(img)

	var buf bytes.Buffer
	mime := "image/png"
	switch format {
	case "jpeg":
		mime = "image/jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	default:
		// PNG stays PNG; everything else converts to PNG.
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return "", fmt.Errorf("encode failed: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return fmt.Sprintf("data:%s;base64,%s", mime, encoded), nil
}

// flattenOnWhite composites the image over a white background, discarding
// transparency.
func flattenOnWhite(img image.Image) image.Image {
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)
	return flat
}

// scaleDown resizes so the longer edge is at most maxEdge, preserving aspect
// ratio. Images already within bounds pass through untouched.
func scaleDown(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	tw, th := targetSize(w, h)
	if tw == w && th == h {
		return img
	}

	scaled := image.NewRGBA(image.Rect(0, 0, tw, th))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, xdraw.Over, nil)
	return scaled
}

func targetSize(w, h int) (int, int) {
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		th := h * maxEdge / w
		if th < 1 {
			th = 1
		}
		return maxEdge, th
	}
	tw := w * maxEdge / h
	if tw < 1 {
		tw = 1
	}
	return tw, maxEdge
}
