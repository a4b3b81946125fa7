package static

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/tveshas/quizagent/internal/solver"
)

// Renderer fetches raw HTML over plain HTTP. Pages whose content hinges on
// JavaScript still extract through their inline base64 payloads, so this
// covers most quizzes without a browser.
type Renderer struct {
	Timeout  time.Duration
	MaxChars int
	Client   *http.Client
}

func (r *Renderer) Render(ctx context.Context, pageURL string) (solver.RenderedPage, error) {
	if strings.TrimSpace(pageURL) == "" {
		return solver.RenderedPage{}, errors.New("invalid url")
	}
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: r.Timeout}
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return solver.RenderedPage{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "QuizAgent/1.0 (+contact@example.com)")

	resp, err := client.Do(req)
	if err != nil {
		return solver.RenderedPage{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return solver.RenderedPage{}, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return solver.RenderedPage{}, fmt.Errorf("read body: %w", err)
	}
	html := string(raw)

	page := solver.RenderedPage{
		URL:        pageURL,
		HTML:       html,
		CapturedAt: time.Now(),
		RenderMS:   int(time.Since(t0) / time.Millisecond),
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(pageURL))
	if err == nil {
		text := strings.TrimSpace(article.TextContent)
		if len(text) > r.MaxChars {
			text = text[:r.MaxChars]
		}
		page.Text = text
	}
	return page, nil
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
