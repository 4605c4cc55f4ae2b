package venue

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/resilience"
)

// ExtractMentions reads an HTML page and returns one mention per distinct
// link. Relative hrefs are resolved against base. Noise is not filtered
// here; callers decide with IsNoise.
func ExtractMentions(r io.Reader, base string) ([]Mention, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "venue: parse html")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, eris.Wrapf(err, "venue: parse base url %q", base)
	}

	type key struct{ name, url string }
	seen := make(map[key]bool)
	var out []Mention

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := Mention{
			Name:    linkText(a),
			URL:     resolveHref(baseURL, strings.TrimSpace(href)),
			Address: nearbyAddress(a),
		}
		k := key{m.Name, m.URL}
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, m)
	})
	return out, nil
}

func linkText(a *goquery.Selection) string {
	text := strings.Join(strings.Fields(a.Text()), " ")
	if text != "" {
		return text
	}
	if t, ok := a.Attr("title"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if alt, ok := a.Find("img[alt]").First().Attr("alt"); ok {
		return strings.TrimSpace(alt)
	}
	return ""
}

func resolveHref(base *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil || u.Scheme != "" || strings.HasPrefix(href, "#") {
		return href
	}
	return base.ResolveReference(u).String()
}

// nearbyAddress returns the text of an <address> element in the link's
// enclosing card, if any.
func nearbyAddress(a *goquery.Selection) string {
	card := a.Closest("li, article, section, div")
	if card.Length() == 0 {
		return ""
	}
	addr := card.Find("address").First()
	if addr.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(addr.Text()), " ")
}

// Fetcher downloads an actor's page and extracts its mentions.
type Fetcher struct {
	client *http.Client
	guard  *resilience.Guard
}

// NewFetcher creates a Fetcher. A nil client gets a 20 second timeout.
func NewFetcher(client *http.Client, guard *resilience.Guard) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Fetcher{client: client, guard: guard}
}

type fetchStatusError struct {
	url  string
	code int
}

func (e *fetchStatusError) Error() string {
	return "venue: fetch " + e.url + ": " + http.StatusText(e.code)
}

func (e *fetchStatusError) HTTPStatus() int {
	return e.code
}

// Fetch downloads pageURL and returns its mentions.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]Mention, error) {
	return resilience.Call(ctx, f.guard, func(ctx context.Context) ([]Mention, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "venue: build request")
		}
		req.Header.Set("User-Agent", "placeresolve/1.0")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "venue: fetch %s", pageURL)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			return nil, &fetchStatusError{url: pageURL, code: resp.StatusCode}
		}
		return ExtractMentions(resp.Body, pageURL)
	})
}
