package webfetch

import (
	"time"

	"github.com/tveshas/quizagent/internal/solver"
	"github.com/tveshas/quizagent/tools/webfetch/chromedp"
	"github.com/tveshas/quizagent/tools/webfetch/static"
)

const (
	DefaultTimeout  = 15 * time.Second
	DefaultSettle   = 2 * time.Second
	MaxCharsDefault = 20000
)

type RendererType string

const (
	ChromedpRendererType RendererType = "chromedp"
	StaticRendererType   RendererType = "static"
)

// Options tunes a renderer.
type Options struct {
	Timeout     time.Duration // per-render cap, clamped further by the caller's context
	Settle      time.Duration // time granted to inline scripts after load
	MaxChars    int           // cap on extracted text
	MaxBrowsers int           // concurrent chromedp browser contexts
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Settle <= 0 {
		o.Settle = DefaultSettle
	}
	if o.MaxChars <= 0 {
		o.MaxChars = MaxCharsDefault
	}
	return o
}

// NewRenderer builds a page renderer. Chromedp executes JavaScript and is
// the production choice; static fetches raw HTML over plain HTTP.
func NewRenderer(rendererType RendererType, opts Options) (solver.Renderer, error) {
	opts = opts.withDefaults()
	switch rendererType {
	case ChromedpRendererType:
		return &chromedp.Renderer{Timeout: opts.Timeout, Settle: opts.Settle, MaxChars: opts.MaxChars, MaxBrowsers: opts.MaxBrowsers}, nil
	case StaticRendererType:
		return &static.Renderer{Timeout: opts.Timeout, MaxChars: opts.MaxChars}, nil
	default:
		return nil, &Error{"unsupported renderer type"}
	}
}

// Error is a webfetch construction failure.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }
