package auditor

import (
	"regexp"
	"strings"
	"time"

	"github.com/awa-labs/webauditor/internal/model"
)

// SiteInfo bundles the fetched page with sibling-resource lookups so the
// checks stay pure functions.
type SiteInfo struct {
	Page       *Page
	HasRobots  bool
	HasSitemap bool
}

// checkFunc runs one category against a fetched site and returns a 0..100
// score plus any issues found.
type checkFunc func(site *SiteInfo) (int, []model.AuditIssue)

var (
	titleRe    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaDescRe = regexp.MustCompile(`(?is)<meta[^>]+name=["']description["'][^>]*>`)
	h1Re       = regexp.MustCompile(`(?is)<h1[\s>]`)
	canonicalRe = regexp.MustCompile(`(?is)<link[^>]+rel=["']canonical["']`)
	imgRe      = regexp.MustCompile(`(?is)<img[^>]*>`)
	altRe      = regexp.MustCompile(`(?is)\balt\s*=`)
	viewportRe = regexp.MustCompile(`(?is)<meta[^>]+name=["']viewport["']`)
	inputRe    = regexp.MustCompile(`(?is)<input[^>]*>`)
	labelRe    = regexp.MustCompile(`(?is)<label[\s>]`)
	ariaRe     = regexp.MustCompile(`(?is)\baria-\w+\s*=`)
	langAttrRe = regexp.MustCompile(`(?is)<html[^>]+lang\s*=`)
)

func issue(cat model.Category, sev model.Severity, title, desc, rec string, hours float64, cx model.Complexity) model.AuditIssue {
	return model.AuditIssue{
		Category:       cat,
		Severity:       sev,
		Title:          title,
		Description:    desc,
		Recommendation: rec,
		EstimatedHours: hours,
		Complexity:     cx,
	}
}

// severityPenalty maps issue severity to score deduction.
func severityPenalty(sev model.Severity) int {
	switch sev {
	case model.SeverityCritical:
		return 30
	case model.SeverityHigh:
		return 20
	case model.SeverityMedium:
		return 10
	case model.SeverityLow:
		return 5
	default:
		return 0
	}
}

func scoreFromIssues(issues []model.AuditIssue) int {
	score := 100
	for _, is := range issues {
		score -= severityPenalty(is.Severity)
	}
	if score < 0 {
		score = 0
	}
	return score
}

func checkSEO(site *SiteInfo) (int, []model.AuditIssue) {
	body := site.Page.Body
	var issues []model.AuditIssue

	m := titleRe.FindStringSubmatch(body)
	switch {
	case m == nil || strings.TrimSpace(m[1]) == "":
		issues = append(issues, issue(model.CategorySEO, model.SeverityHigh,
			"Missing page title",
			"The page has no <title> element, which search engines use as the result headline.",
			"Add a unique, descriptive title of 30-60 characters.",
			1, model.ComplexitySimple))
	case len(strings.TrimSpace(m[1])) > 70:
		issues = append(issues, issue(model.CategorySEO, model.SeverityLow,
			"Page title too long",
			"Titles over 70 characters get truncated in search results.",
			"Shorten the title to 30-60 characters.",
			0.5, model.ComplexitySimple))
	}

	if !metaDescRe.MatchString(body) {
		issues = append(issues, issue(model.CategorySEO, model.SeverityHigh,
			"Missing meta description",
			"Without a meta description, search engines pick an arbitrary snippet.",
			"Add a meta description of 120-160 characters summarizing the page.",
			1, model.ComplexitySimple))
	}

	if len(h1Re.FindAllString(body, -1)) == 0 {
		issues = append(issues, issue(model.CategorySEO, model.SeverityMedium,
			"No H1 heading",
			"The page has no top-level heading signalling its main topic.",
			"Add exactly one H1 containing the primary keyword.",
			0.5, model.ComplexitySimple))
	}

	if !canonicalRe.MatchString(body) {
		issues = append(issues, issue(model.CategorySEO, model.SeverityLow,
			"Missing canonical link",
			"Duplicate URLs can split ranking signals without a canonical hint.",
			"Add a <link rel=\"canonical\"> pointing at the preferred URL.",
			0.5, model.ComplexitySimple))
	}

	if !site.HasRobots {
		issues = append(issues, issue(model.CategorySEO, model.SeverityLow,
			"Missing robots.txt",
			"Crawlers look for /robots.txt to learn crawl rules.",
			"Publish a robots.txt allowing the pages you want indexed.",
			0.5, model.ComplexitySimple))
	}
	if !site.HasSitemap {
		issues = append(issues, issue(model.CategorySEO, model.SeverityLow,
			"Missing sitemap.xml",
			"A sitemap helps search engines discover all pages.",
			"Generate and publish a sitemap.xml, then reference it from robots.txt.",
			1, model.ComplexitySimple))
	}

	imgs := imgRe.FindAllString(body, -1)
	missingAlt := 0
	for _, img := range imgs {
		if !altRe.MatchString(img) {
			missingAlt++
		}
	}
	if len(imgs) > 0 && missingAlt*2 > len(imgs) {
		issues = append(issues, issue(model.CategorySEO, model.SeverityMedium,
			"Most images lack alt text",
			"Image search and accessibility both depend on alt attributes.",
			"Add descriptive alt text to content images.",
			2, model.ComplexityMedium))
	}

	return scoreFromIssues(issues), issues
}

func checkSecurity(site *SiteInfo) (int, []model.AuditIssue) {
	p := site.Page
	var issues []model.AuditIssue

	if !p.HTTPS {
		issues = append(issues, issue(model.CategorySecurity, model.SeverityCritical,
			"Site not served over HTTPS",
			"Traffic can be read and modified in transit; browsers flag the site as not secure.",
			"Obtain a TLS certificate and redirect all HTTP traffic to HTTPS.",
			4, model.ComplexityMedium))
	}

	headerChecks := []struct {
		header string
		title  string
		desc   string
		rec    string
		sev    model.Severity
	}{
		{"Strict-Transport-Security", "Missing HSTS header",
			"Without HSTS, first visits can be downgraded to plain HTTP.",
			"Send Strict-Transport-Security with a max-age of at least six months.",
			model.SeverityMedium},
		{"Content-Security-Policy", "Missing Content-Security-Policy",
			"A CSP limits where scripts and other resources may load from, blunting XSS.",
			"Define a Content-Security-Policy for scripts, styles, and frames.",
			model.SeverityMedium},
		{"X-Frame-Options", "Missing X-Frame-Options",
			"The page can be embedded in hostile frames for clickjacking.",
			"Send X-Frame-Options: DENY or a frame-ancestors CSP directive.",
			model.SeverityLow},
		{"X-Content-Type-Options", "Missing X-Content-Type-Options",
			"Browsers may MIME-sniff responses into executable types.",
			"Send X-Content-Type-Options: nosniff.",
			model.SeverityLow},
	}
	for _, hc := range headerChecks {
		if p.Header.Get(hc.header) == "" {
			issues = append(issues, issue(model.CategorySecurity, hc.sev,
				hc.title, hc.desc, hc.rec, 0.5, model.ComplexitySimple))
		}
	}

	for _, c := range p.Cookies {
		if !c.Secure || !c.HttpOnly {
			issues = append(issues, issue(model.CategorySecurity, model.SeverityMedium,
				"Cookies without Secure/HttpOnly flags",
				"Session cookies sent without Secure or HttpOnly can leak over HTTP or to scripts.",
				"Set Secure and HttpOnly on all session cookies.",
				1, model.ComplexitySimple))
			break
		}
	}

	return scoreFromIssues(issues), issues
}

var (
	cookieBannerMarkers = []string{"cookie-banner", "cookie-consent", "cookieconsent", "cc-banner", "gdpr", "consent-manager"}
	privacyLinkMarkers  = []string{"privacy-policy", "privacy_policy", "/privacy", "datenschutz", "confidentialitate"}
	trackerMarkers      = []string{"google-analytics.com", "googletagmanager.com", "connect.facebook.net", "fbq(", "gtag("}
)

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func checkGDPR(site *SiteInfo) (int, []model.AuditIssue) {
	body := strings.ToLower(site.Page.Body)
	var issues []model.AuditIssue

	hasTrackers := containsAny(body, trackerMarkers)
	hasBanner := containsAny(body, cookieBannerMarkers)

	if hasTrackers && !hasBanner {
		issues = append(issues, issue(model.CategoryGDPR, model.SeverityCritical,
			"Trackers load without a consent banner",
			"Analytics or marketing trackers run before any consent is collected.",
			"Gate trackers behind a consent-management banner.",
			6, model.ComplexityComplex))
	} else if !hasBanner {
		issues = append(issues, issue(model.CategoryGDPR, model.SeverityMedium,
			"No cookie consent banner found",
			"EU visitors must be able to refuse non-essential cookies.",
			"Add a consent banner covering all non-essential cookies.",
			4, model.ComplexityMedium))
	}

	if !containsAny(body, privacyLinkMarkers) {
		issues = append(issues, issue(model.CategoryGDPR, model.SeverityHigh,
			"No privacy policy link",
			"A reachable privacy policy is a baseline GDPR transparency requirement.",
			"Link a privacy policy from every page footer.",
			3, model.ComplexityMedium))
	}

	return scoreFromIssues(issues), issues
}

func checkAccessibility(site *SiteInfo) (int, []model.AuditIssue) {
	body := site.Page.Body
	var issues []model.AuditIssue

	imgs := imgRe.FindAllString(body, -1)
	missingAlt := 0
	for _, img := range imgs {
		if !altRe.MatchString(img) {
			missingAlt++
		}
	}
	if missingAlt > 0 {
		sev := model.SeverityMedium
		if missingAlt*2 > len(imgs) {
			sev = model.SeverityHigh
		}
		issues = append(issues, issue(model.CategoryAccessibility, sev,
			"Images missing alt text",
			"Screen readers cannot describe images without alt attributes.",
			"Add alt text to content images; use empty alt for decorative ones.",
			float64(missingAlt)*0.25+0.5, model.ComplexityMedium))
	}

	if !langAttrRe.MatchString(body) {
		issues = append(issues, issue(model.CategoryAccessibility, model.SeverityMedium,
			"Missing lang attribute",
			"Screen readers need <html lang> to pick the right pronunciation.",
			"Set lang on the html element.",
			0.25, model.ComplexitySimple))
	}

	inputs := len(inputRe.FindAllString(body, -1))
	labels := len(labelRe.FindAllString(body, -1))
	if inputs > 0 && labels == 0 {
		issues = append(issues, issue(model.CategoryAccessibility, model.SeverityHigh,
			"Form inputs without labels",
			"Inputs without associated labels are unusable with assistive technology.",
			"Associate every input with a label element or aria-label.",
			2, model.ComplexityMedium))
	}

	if !ariaRe.MatchString(body) && !h1Re.MatchString(body) {
		issues = append(issues, issue(model.CategoryAccessibility, model.SeverityLow,
			"No landmark or heading structure",
			"Without headings or ARIA landmarks, navigating by structure is impossible.",
			"Add a heading hierarchy and main/nav landmarks.",
			2, model.ComplexityMedium))
	}

	return scoreFromIssues(issues), issues
}

func checkMobileUX(site *SiteInfo) (int, []model.AuditIssue) {
	body := site.Page.Body
	var issues []model.AuditIssue

	if !viewportRe.MatchString(body) {
		issues = append(issues, issue(model.CategoryMobileUX, model.SeverityCritical,
			"Missing viewport meta tag",
			"Without a viewport tag, mobile browsers render the desktop layout zoomed out.",
			"Add <meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">.",
			0.5, model.ComplexitySimple))
	}

	if strings.Contains(strings.ToLower(body), "user-scalable=no") {
		issues = append(issues, issue(model.CategoryMobileUX, model.SeverityMedium,
			"Zoom disabled on mobile",
			"user-scalable=no prevents visually impaired users from zooming.",
			"Remove user-scalable=no from the viewport tag.",
			0.25, model.ComplexitySimple))
	}

	return scoreFromIssues(issues), issues
}

// checkPerformanceHeuristic scores performance from response time and page
// weight when no PageSpeed API key is configured.
func checkPerformanceHeuristic(site *SiteInfo) (int, []model.AuditIssue) {
	p := site.Page
	var issues []model.AuditIssue

	if p.ResponseTime > 3*time.Second {
		issues = append(issues, issue(model.CategoryPerformance, model.SeverityHigh,
			"Slow server response",
			"The initial HTML took over three seconds to arrive.",
			"Add caching or a CDN in front of the origin server.",
			4, model.ComplexityComplex))
	} else if p.ResponseTime > time.Second {
		issues = append(issues, issue(model.CategoryPerformance, model.SeverityMedium,
			"Sluggish server response",
			"The initial HTML took over one second to arrive.",
			"Profile the backend and cache rendered pages.",
			2, model.ComplexityMedium))
	}

	if p.ContentLength > 1<<20 {
		issues = append(issues, issue(model.CategoryPerformance, model.SeverityMedium,
			"Very heavy HTML document",
			"The HTML document alone exceeds 1 MiB.",
			"Move inline assets out of the document and paginate long content.",
			3, model.ComplexityMedium))
	}

	return scoreFromIssues(issues), issues
}
