package scrape

import (
	"context"
	"strings"

	"golang.org/x/net/html"

	"github.com/tveshas/quizagent/internal/capability"
	"github.com/tveshas/quizagent/internal/solver"
)

const (
	maxHTMLChars = 10000
	maxLinks     = 100
)

// Tool exposes page scraping to the reasoning model. It reuses the same
// renderer the orchestrator uses for quiz pages, so JS-heavy sources work.
type Tool struct {
	renderer solver.Renderer
}

// New builds the scrape_url tool.
func New(renderer solver.Renderer) *Tool {
	return &Tool{renderer: renderer}
}

func (t *Tool) Spec() capability.Spec {
	return capability.Spec{
		Name:        "scrape_url",
		Description: "Scrape a URL and extract its content. Use this for web scraping tasks.",
		Fields: []capability.Field{
			{Name: "url", Type: capability.TypeString, Description: "The URL to scrape", Required: true},
		},
	}
}

func (t *Tool) Invoke(ctx context.Context, args map[string]interface{}) capability.Result {
	url, _ := args["url"].(string)
	page, err := t.renderer.Render(ctx, url)
	if err != nil {
		return capability.Failure("scrape %s: %v", url, err)
	}

	text, links := flatten(page.HTML)
	if text == "" {
		text = page.Text
	}
	rawHTML := page.HTML
	if len(rawHTML) > maxHTMLChars {
		rawHTML = rawHTML[:maxHTMLChars]
	}
	if len(links) > maxLinks {
		links = links[:maxLinks]
	}

	return capability.OK(map[string]interface{}{
		"text":  text,
		"html":  rawHTML,
		"links": links,
	})
}

// flatten extracts visible text and hyperlinks from raw HTML.
func flatten(raw string) (string, []string) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", nil
	}
	var parts []string
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "script" || n.Data == "style" {
				return
			}
			if n.Data == "a" {
				for _, a := range n.Attr {
					if a.Key == "href" && a.Val != "" {
						links = append(links, a.Val)
					}
				}
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, "\n"), links
}
