package linkpreview

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxBodyBytes = 512 * 1024
	maxRedirects = 5
	userAgent    = "brainwire-linkpreview/1.0"
)

// Previewer fetches a page and reads its title and Open Graph tags.
type Previewer struct {
	client *resty.Client
}

func NewPreviewer(timeout time.Duration) *Previewer {
	c := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects)).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml")
	return &Previewer{client: c}
}

func (p *Previewer) Preview(ctx context.Context, rawURL string) (monitor.LinkPreview, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return monitor.LinkPreview{}, fmt.Errorf("unsupported url %q", rawURL)
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u.String())
	if err != nil {
		return monitor.LinkPreview{}, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	body := resp.RawBody()
	defer func() {
		_ = body.Close()
	}()
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return monitor.LinkPreview{}, fmt.Errorf("fetch %s: status %d", u.Host, resp.StatusCode())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return monitor.LinkPreview{URL: rawURL, SiteName: u.Hostname()}, nil
	}

	preview, err := Parse(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return monitor.LinkPreview{}, err
	}
	preview.URL = rawURL
	if preview.SiteName == "" {
		preview.SiteName = u.Hostname()
	}
	if preview.ImageURL != "" {
		if ref, err := url.Parse(preview.ImageURL); err == nil {
			preview.ImageURL = u.ResolveReference(ref).String()
		}
	}
	return preview, nil
}

// Parse reads the document head. Open Graph values win over <title> and the
// plain description meta tag.
func Parse(r io.Reader) (monitor.LinkPreview, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return monitor.LinkPreview{}, fmt.Errorf("parse html: %w", err)
	}
	var (
		preview            monitor.LinkPreview
		title, description string
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case atom.Meta:
				key := strings.ToLower(attr(n, "property"))
				if key == "" {
					key = strings.ToLower(attr(n, "name"))
				}
				content := strings.TrimSpace(attr(n, "content"))
				switch key {
				case "og:title":
					preview.Title = content
				case "og:description":
					preview.Description = content
				case "og:site_name":
					preview.SiteName = content
				case "og:image":
					preview.ImageURL = content
				case "description":
					description = content
				}
			case atom.Body:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if preview.Title == "" {
		preview.Title = title
	}
	if preview.Description == "" {
		preview.Description = description
	}
	return preview, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
