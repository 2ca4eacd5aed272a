package websearch

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseResults walks the DuckDuckGo HTML result page. Each hit is an anchor
// with class "result__a"; the matching snippet carries class
// "result__snippet". Links are unwrapped from the /l/?uddg= redirect form.
func parseResults(raw string) ([]Result, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}

	var results []Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A && hasClass(n, "result__a") {
			result := Result{
				Title: strings.TrimSpace(textContent(n)),
				URL:   unwrapRedirect(attr(n, "href")),
			}
			if snippet := findSnippet(n); snippet != nil {
				result.Snippet = strings.TrimSpace(textContent(snippet))
			}
			if result.Title != "" && result.URL != "" {
				results = append(results, result)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results, nil
}

// findSnippet looks for the snippet element in the same result block as the
// title anchor.
func findSnippet(anchor *html.Node) *html.Node {
	block := anchor
	for block != nil && !(block.Type == html.ElementNode && hasClass(block, "result")) {
		block = block.Parent
	}
	if block == nil {
		return nil
	}

	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(block)
	return found
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textContent returns concatenated text of all children.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg=<encoded> redirect links to
// the destination URL. Direct links pass through unchanged.
func unwrapRedirect(href string) string {
	if href == "" {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if !strings.HasPrefix(u.Path, "/l/") {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
