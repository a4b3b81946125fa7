package solver

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Quiz pages frequently hide their instructions behind JavaScript that
// decodes a base64 blob into a result container. Extraction therefore runs
// in layers: rendered #result content first, then inline atob payloads,
// then plain page text.

var atobPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?s)atob\\(`([^`]+)`\\)"),
	regexp.MustCompile(`(?s)atob\(\s*["']([^"']+)["']\s*\)`),
}

// ExtractInstructions pulls the human-readable quiz instructions out of a
// rendered page.
func ExtractInstructions(page RenderedPage) (string, error) {
	root, err := html.Parse(strings.NewReader(page.HTML))
	if err != nil {
		return "", fmt.Errorf("parse page html: %w", err)
	}

	if div := findByID(root, "result"); div != nil {
		if text := nodeText(div); strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), nil
		}
	}

	for _, script := range findScripts(root) {
		if !strings.Contains(script, "atob") {
			continue
		}
		for _, re := range atobPatterns {
			m := re.FindStringSubmatch(script)
			if m == nil {
				continue
			}
			decoded, err := decodeBase64Blob(m[1])
			if err != nil {
				continue
			}
			if text := htmlToText(decoded); strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text), nil
			}
		}
	}

	if text := strings.TrimSpace(nodeText(root)); text != "" {
		return text, nil
	}
	if text := strings.TrimSpace(page.Text); text != "" {
		return text, nil
	}
	return "", fmt.Errorf("page %s carries no extractable instructions", page.URL)
}

// decodeBase64Blob tolerates whitespace baked into inline script literals.
func decodeBase64Blob(blob string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, blob)
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(clean)
		if err != nil {
			return "", fmt.Errorf("decode base64 payload: %w", err)
		}
	}
	return string(data), nil
}

var submitURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Post.*?to\s+(https?://[^\s<>"')]+)`),
	regexp.MustCompile(`(?i)submit.*?to\s+(https?://[^\s<>"')]+)`),
	regexp.MustCompile(`(?i)(https?://[^\s<>"')]*submit[^\s<>"')]*)`),
	regexp.MustCompile(`https?://[^\s<>"')]+`),
}

// ExtractSubmitURL locates the grading endpoint inside the instructions.
// URLs mentioning "submit" win over generic links.
func ExtractSubmitURL(instructions string) (string, error) {
	for _, re := range submitURLPatterns {
		matches := re.FindAllStringSubmatch(instructions, -1)
		if len(matches) == 0 {
			continue
		}
		var first string
		for _, m := range matches {
			candidate := m[len(m)-1]
			candidate = strings.TrimRight(candidate, ".,;:!?)")
			if first == "" {
				first = candidate
			}
			if strings.Contains(strings.ToLower(candidate), "submit") {
				return candidate, nil
			}
		}
		return first, nil
	}
	return "", fmt.Errorf("no submit URL found in instructions")
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func findScripts(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			var b strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					b.WriteString(c.Data)
				}
			}
			if b.Len() > 0 {
				out = append(out, b.String())
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// nodeText flattens element text the way a reader sees it, one line per
// text node, scripts and styles excluded.
func nodeText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
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
	walk(n)
	return strings.Join(parts, "\n")
}

func htmlToText(raw string) string {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	return nodeText(root)
}
