package surface

import (
	"bytes"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

const maxLinks = 200

// page is a fetched and parsed document.
type page struct {
	URL      string
	Title    string
	Icon     string
	Markdown string
	Links    []Link
}

// parseHTML extracts title, icon and links and converts the body to
// markdown. base resolves relative references.
func parseHTML(base string, body []byte) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	baseURL, _ := url.Parse(base)

	p := &page{URL: base}
	p.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if p.Title == "" {
		p.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	if href, ok := doc.Find(`link[rel~="icon"]`).First().Attr("href"); ok {
		p.Icon = resolve(baseURL, href)
	} else if baseURL != nil && baseURL.Host != "" {
		p.Icon = baseURL.Scheme + "://" + baseURL.Host + "/favicon.ico"
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return true
		}
		abs := resolve(baseURL, href)
		if seen[abs] {
			return true
		}
		seen[abs] = true
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			text = abs
		}
		p.Links = append(p.Links, Link{Text: text, URL: abs})
		return len(p.Links) < maxLinks
	})

	// Scripts and styles are noise for readers and prompts alike.
	doc.Find("script, style, noscript").Remove()
	html, err := doc.Html()
	if err != nil {
		return nil, err
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		md = strings.TrimSpace(doc.Text())
	}
	p.Markdown = strings.TrimSpace(md)
	return p, nil
}

// plainPage wraps a text response.
func plainPage(u string, body []byte) *page {
	title := u
	if parsed, err := url.Parse(u); err == nil && parsed.Path != "" {
		title = parsed.Path[strings.LastIndex(parsed.Path, "/")+1:]
	}
	return &page{URL: u, Title: title, Markdown: string(body)}
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	if base == nil {
		return r.String()
	}
	return base.ResolveReference(r).String()
}

// isPageType reports whether a mime type is rendered rather than downloaded.
func isPageType(mime string) bool {
	mime = strings.ToLower(mime)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(mime)
	switch mime {
	case "text/html", "application/xhtml+xml", "text/plain", "text/markdown":
		return true
	}
	return false
}

func isHTMLType(mime string) bool {
	mime = strings.ToLower(mime)
	return strings.Contains(mime, "text/html") || strings.Contains(mime, "application/xhtml")
}
