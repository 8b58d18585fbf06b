package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/studyforge/studyforge/internal/pipeline"
)

// Fetcher turns a remote web page into a Document by rendering it headless
// and keeping the raw HTML for the extractor router.
type Fetcher struct {
	Timeout time.Duration
}

// Fetch renders the page at rawURL and returns it as an HTML document named
// after the URL.
func (f Fetcher) Fetch(ctx context.Context, rawURL string) (pipeline.Document, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return pipeline.Document{}, errors.New("invalid url")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return pipeline.Document{}, fmt.Errorf("invalid url %q", rawURL)
	}

	timeout := f.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	html, err := fetchHTML(ctx, rawURL)
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("%w: fetch %s: %v", pipeline.ErrUnreadableDocument, rawURL, err)
	}

	return pipeline.Document{
		Name:        parsed.Host + parsed.Path,
		Data:        []byte(html),
		ContentType: "text/html",
	}, nil
}

func fetchHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("StudyForge/1.0 (+study document fetcher)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
