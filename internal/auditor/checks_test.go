package auditor

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/awa-labs/webauditor/internal/model"
)

const goodHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<title>Acme Web Shop</title>
<meta name="description" content="Quality widgets, delivered fast.">
<meta name="viewport" content="width=device-width, initial-scale=1">
<link rel="canonical" href="https://acme.example/">
</head>
<body class="cookie-consent">
<h1>Welcome</h1>
<a href="/privacy-policy">Privacy</a>
<img src="a.png" alt="A widget">
<form><label for="q">Search</label><input id="q" name="q"></form>
<nav aria-label="Main"></nav>
</body>
</html>`

const bareHTML = `<html><head></head><body><p>hi</p></body></html>`

func sitePage(body string, header http.Header) *SiteInfo {
	if header == nil {
		header = http.Header{}
	}
	return &SiteInfo{
		Page: &Page{
			URL:           "https://acme.example/",
			FinalURL:      "https://acme.example/",
			StatusCode:    200,
			Header:        header,
			Body:          body,
			HTTPS:         true,
			ResponseTime:  100 * time.Millisecond,
			ContentLength: len(body),
		},
		HasRobots:  true,
		HasSitemap: true,
	}
}

func titles(issues []model.AuditIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Title
	}
	return out
}

func TestCheckSEO_CleanPage(t *testing.T) {
	score, issues := checkSEO(sitePage(goodHTML, nil))
	assert.Equal(t, 100, score)
	assert.Empty(t, issues)
}

func TestCheckSEO_BarePage(t *testing.T) {
	site := sitePage(bareHTML, nil)
	site.HasRobots = false
	site.HasSitemap = false

	score, issues := checkSEO(site)
	assert.Less(t, score, 50)
	got := titles(issues)
	assert.Contains(t, got, "Missing page title")
	assert.Contains(t, got, "Missing meta description")
	assert.Contains(t, got, "No H1 heading")
	assert.Contains(t, got, "Missing robots.txt")
	assert.Contains(t, got, "Missing sitemap.xml")
}

func TestCheckSEO_LongTitle(t *testing.T) {
	long := `<html><head><title>` +
		`This is an extremely long page title that search engines will definitely truncate in results` +
		`</title></head><body><h1>x</h1></body></html>`
	_, issues := checkSEO(sitePage(long, nil))
	assert.Contains(t, titles(issues), "Page title too long")
}

func TestCheckSecurity_AllHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Strict-Transport-Security", "max-age=31536000")
	h.Set("Content-Security-Policy", "default-src 'self'")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")

	score, issues := checkSecurity(sitePage(goodHTML, h))
	assert.Equal(t, 100, score)
	assert.Empty(t, issues)
}

func TestCheckSecurity_PlainHTTP(t *testing.T) {
	site := sitePage(bareHTML, nil)
	site.Page.HTTPS = false

	score, issues := checkSecurity(site)
	assert.Contains(t, titles(issues), "Site not served over HTTPS")
	assert.Less(t, score, 50)

	var https model.AuditIssue
	for _, is := range issues {
		if is.Title == "Site not served over HTTPS" {
			https = is
		}
	}
	assert.Equal(t, model.SeverityCritical, https.Severity)
	assert.Equal(t, model.CategorySecurity, https.Category)
}

func TestCheckSecurity_InsecureCookies(t *testing.T) {
	site := sitePage(bareHTML, nil)
	site.Page.Cookies = []*http.Cookie{{Name: "session", Value: "x"}}

	_, issues := checkSecurity(site)
	assert.Contains(t, titles(issues), "Cookies without Secure/HttpOnly flags")
}

func TestCheckGDPR_TrackersWithoutBanner(t *testing.T) {
	html := `<html><body><script src="https://www.googletagmanager.com/gtag.js"></script></body></html>`
	score, issues := checkGDPR(sitePage(html, nil))

	got := titles(issues)
	assert.Contains(t, got, "Trackers load without a consent banner")
	assert.Contains(t, got, "No privacy policy link")
	assert.Less(t, score, 60)
}

func TestCheckGDPR_BannerAndPolicy(t *testing.T) {
	score, issues := checkGDPR(sitePage(goodHTML, nil))
	assert.Equal(t, 100, score)
	assert.Empty(t, issues)
}

func TestCheckAccessibility_MissingAltAndLabels(t *testing.T) {
	html := `<html><body><img src="a.png"><img src="b.png"><input name="q"></body></html>`
	_, issues := checkAccessibility(sitePage(html, nil))

	got := titles(issues)
	assert.Contains(t, got, "Images missing alt text")
	assert.Contains(t, got, "Form inputs without labels")
	assert.Contains(t, got, "Missing lang attribute")
}

func TestCheckMobileUX(t *testing.T) {
	score, issues := checkMobileUX(sitePage(goodHTML, nil))
	assert.Equal(t, 100, score)
	assert.Empty(t, issues)

	score, issues = checkMobileUX(sitePage(bareHTML, nil))
	assert.Contains(t, titles(issues), "Missing viewport meta tag")
	assert.Less(t, score, 100)

	noZoom := `<html><head><meta name="viewport" content="width=device-width, user-scalable=no"></head></html>`
	_, issues = checkMobileUX(sitePage(noZoom, nil))
	assert.Contains(t, titles(issues), "Zoom disabled on mobile")
}

func TestCheckPerformanceHeuristic(t *testing.T) {
	fast := sitePage(goodHTML, nil)
	score, issues := checkPerformanceHeuristic(fast)
	assert.Equal(t, 100, score)
	assert.Empty(t, issues)

	slow := sitePage(goodHTML, nil)
	slow.Page.ResponseTime = 4 * time.Second
	_, issues = checkPerformanceHeuristic(slow)
	assert.Contains(t, titles(issues), "Slow server response")
}
