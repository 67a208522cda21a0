package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// BrowserUserAgent is sent on website fetches; many sites refuse bare clients.
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/98.0.4758.102 Safari/537.36"
	// DefaultWebsiteTimeout bounds a single website fetch.
	DefaultWebsiteTimeout = 10 * time.Second
	// MaxWebsiteBytes caps how much of a page is read.
	MaxWebsiteBytes = 2 << 20
)

// WebsiteLookup fetches a page and returns its visible text.
type WebsiteLookup struct {
	client    *http.Client
	userAgent string
}

// NewWebsiteLookup creates a WebsiteLookup. A non-positive timeout uses DefaultWebsiteTimeout.
func NewWebsiteLookup(timeout time.Duration) *WebsiteLookup {
	if timeout <= 0 {
		timeout = DefaultWebsiteTimeout
	}
	return &WebsiteLookup{
		client:    &http.Client{Timeout: timeout},
		userAgent: BrowserUserAgent,
	}
}

// Lookup fetches rawURL. A URL without a scheme is fetched over https.
func (w *WebsiteLookup) Lookup(ctx context.Context, rawURL string) (string, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s returned %s", ErrUnavailable, target, resp.Status)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, MaxWebsiteBytes))
	if err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", ErrUnavailable, target, err)
	}
	return VisibleText(doc), nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", ErrUnavailable)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrUnavailable, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url has no host", ErrUnavailable)
	}
	return u.String(), nil
}

var hiddenElements = map[atom.Atom]bool{
	atom.Style:    true,
	atom.Script:   true,
	atom.Head:     true,
	atom.Title:    true,
	atom.Noscript: true,
}

// VisibleText returns the text of doc without hidden elements, one non-blank line per line.
func VisibleText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if hiddenElements[n.DataAtom] {
				return
			}
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.CommentNode, html.DoctypeNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			sb.WriteByte('\n')
		}
	}
	walk(doc)

	lines := strings.Split(sb.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Section, atom.Article,
		atom.Header, atom.Footer, atom.Nav, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}
