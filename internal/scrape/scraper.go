package scrape

import "context"

// Page is a fetched HTML document decoded to UTF-8.
type Page struct {
	URL             string
	FinalURL        string
	StatusCode      int
	ContentLanguage string
	Title           string
	HTML            string
}

// Fetcher retrieves a single page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// HomepageURL returns the https root URL for a normalized domain.
func HomepageURL(domain string) string {
	return "https://" + domain + "/"
}
