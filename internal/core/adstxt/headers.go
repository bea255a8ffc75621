package adstxt

import "math/rand"

// HeaderProfile is one browser identity used when fetching target sites.
// ads.txt endpoints are occasionally fronted by bot filters that 403 the
// default Go user agent, so requests rotate through realistic profiles.
type HeaderProfile struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
}

var browserProfiles = []HeaderProfile{
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Accept:         "text/plain,text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Accept:         "text/plain,text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
		Accept:         "text/plain,text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
	},
	{
		UserAgent:      "Mozilla/5.0 (compatible; ScrapeHub/1.0)",
		Accept:         "text/plain,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
	},
}

// randomProfile picks one of the browser profiles.
func randomProfile() HeaderProfile {
	return browserProfiles[rand.Intn(len(browserProfiles))]
}
