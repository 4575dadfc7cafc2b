package listing

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlDecoder parses a static directory index: every anchor resolving into
// the prefix becomes an entry. Such hosts list everything on one page, so
// the result is never truncated; sizes and mtimes are unknown.
type htmlDecoder struct{}

func (d *htmlDecoder) Decode(r io.Reader, prefix string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, fmt.Errorf("cannot parse directory index: %w", err)
	}

	var page Page
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")

		key, ok := hrefToKey(href, prefix)
		if !ok {
			return
		}

		if _, exists := seen[key]; exists {
			return
		}
		seen[key] = struct{}{}

		page.Entries = append(page.Entries, Entry{Key: key})
	})

	return page, nil
}

// hrefToKey resolves an anchor target to an object key under prefix.
// Sort links, parent links, subdirectories and anything pointing off the
// prefix are dropped.
func hrefToKey(href, prefix string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil || u.Scheme != "" || u.Host != "" || u.RawQuery != "" {
		return "", false
	}

	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") || strings.Contains(p, "..") {
		return "", false
	}

	if strings.HasPrefix(p, "/") {
		p = strings.TrimPrefix(p, "/")
	} else {
		p = path.Join(prefix, p)
	}

	if !strings.HasPrefix(p, prefix) {
		return "", false
	}

	return p, true
}
