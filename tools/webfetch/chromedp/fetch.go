package chromedp

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"

	"github.com/tveshas/quizagent/internal/solver"
)

// Renderer drives a headless Chrome to capture quiz pages after their
// scripts have run. Quiz pages routinely build their DOM from decoded
// base64, so the raw HTML is kept alongside the extracted text. Concurrent
// sessions share a bounded slot pool so retry loops cannot pile up browsers.
type Renderer struct {
	Timeout     time.Duration
	Settle      time.Duration
	MaxChars    int
	MaxBrowsers int // concurrent browser contexts, default 2

	once  sync.Once
	slots chan struct{}
}

func (r *Renderer) acquire(ctx context.Context) error {
	r.once.Do(func() {
		n := r.MaxBrowsers
		if n <= 0 {
			n = 2
		}
		r.slots = make(chan struct{}, n)
		for i := 0; i < n; i++ {
			r.slots <- struct{}{}
		}
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.slots:
		return nil
	}
}

func (r *Renderer) release() { r.slots <- struct{}{} }

func (r *Renderer) Render(ctx context.Context, pageURL string) (solver.RenderedPage, error) {
	if strings.TrimSpace(pageURL) == "" {
		return solver.RenderedPage{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	if err := r.acquire(ctx); err != nil {
		return solver.RenderedPage{}, err
	}
	defer r.release()
	t0 := time.Now()

	html, err := r.fetchHTML(ctx, pageURL)
	if err != nil {
		return solver.RenderedPage{}, err
	}

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

func (r *Renderer) fetchHTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent("QuizAgent/1.0 (+contact@example.com)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Inline decoders need a beat to populate the result container.
		chromedp.Sleep(r.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
