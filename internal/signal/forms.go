package signal

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FormConfidence grades how likely a form is the site's contact form.
type FormConfidence string

const (
	FormHigh   FormConfidence = "high"
	FormMedium FormConfidence = "medium"
	FormLow    FormConfidence = "low"
)

const (
	keywordPoints   = 10
	emailTextBonus  = 15
	highFormScore   = 30
	mediumFormScore = 15
)

var formKeywords = []string{
	"contact", "kontakt", "contacto", "contatto", "contato", "message",
	"enquiry", "inquiry", "feedback", "get-in-touch", "wpcf7", "wpforms",
}

var contactLinkKeywords = []string{
	"contact", "kontakt", "contacto", "contatto", "contato", "nous-contacter",
	"get-in-touch", "write-for-us", "impressum",
}

var captchaClasses = []string{"g-recaptcha", "h-captcha", "cf-turnstile"}

var captchaScripts = []string{"recaptcha/api.js", "hcaptcha.com", "challenges.cloudflare.com/turnstile"}

// Canonical field order.
var formFieldOrder = []string{"name", "email", "phone", "subject", "message", "company"}

// FormResult describes the best contact form found on a page.
type FormResult struct {
	URL        string
	Fields     []string
	HasCaptcha bool
	Confidence FormConfidence
	Score      int
}

// DetectForm scores every form on the page and returns the best candidate,
// or nil when none looks like a contact form. Login and search forms are
// ignored.
func DetectForm(doc *html.Node, pageURL string) *FormResult {
	var best *FormResult
	walk(doc, func(n *html.Node) bool {
		if !isElement(n, atom.Form) {
			return true
		}
		if r := scoreForm(n); r != nil && (best == nil || r.Score > best.Score) {
			best = r
		}
		return false
	})
	if best == nil {
		return nil
	}
	best.URL = pageURL
	best.HasCaptcha = HasCaptcha(doc)
	return best
}

func scoreForm(form *html.Node) *FormResult {
	fields := make(map[string]bool)
	hasEmail, hasTextarea := false, false
	skip := false

	walk(form, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch n.DataAtom {
		case atom.Input:
			typ := strings.ToLower(attr(n, "type"))
			if typ == "password" || typ == "search" {
				skip = true
			}
			if typ == "hidden" || typ == "submit" || typ == "button" {
				return true
			}
			if f := classifyField(n); f != "" {
				fields[f] = true
				if f == "email" {
					hasEmail = true
				}
			}
		case atom.Textarea:
			hasTextarea = true
			fields["message"] = true
			if f := classifyField(n); f != "" && f != "message" {
				fields[f] = true
			}
		case atom.Select:
			if f := classifyField(n); f != "" {
				fields[f] = true
			}
		}
		return true
	})
	if skip || strings.EqualFold(attr(form, "role"), "search") {
		return nil
	}

	score := 0
	for _, a := range []string{"action", "id", "class", "name"} {
		val := strings.ToLower(attr(form, a))
		if val == "" {
			continue
		}
		for _, kw := range formKeywords {
			if strings.Contains(val, kw) {
				score += keywordPoints
			}
		}
	}
	if hasEmail && hasTextarea {
		score += emailTextBonus
	}
	if score == 0 {
		return nil
	}

	r := &FormResult{Score: score, Confidence: FormLow}
	switch {
	case score >= highFormScore:
		r.Confidence = FormHigh
	case score >= mediumFormScore:
		r.Confidence = FormMedium
	}
	for _, f := range formFieldOrder {
		if fields[f] {
			r.Fields = append(r.Fields, f)
		}
	}
	return r
}

// classifyField maps an input to one of the canonical field names using its
// type, name, id and placeholder.
func classifyField(n *html.Node) string {
	typ := strings.ToLower(attr(n, "type"))
	switch typ {
	case "email":
		return "email"
	case "tel":
		return "phone"
	}
	hint := strings.ToLower(attr(n, "name") + " " + attr(n, "id") + " " + attr(n, "placeholder"))
	switch {
	case strings.Contains(hint, "mail"):
		return "email"
	case strings.Contains(hint, "phone"), strings.Contains(hint, "tel"):
		return "phone"
	case strings.Contains(hint, "subject"), strings.Contains(hint, "sujet"), strings.Contains(hint, "betreff"):
		return "subject"
	case strings.Contains(hint, "message"), strings.Contains(hint, "comment"), strings.Contains(hint, "nachricht"):
		return "message"
	case strings.Contains(hint, "company"), strings.Contains(hint, "organi"), strings.Contains(hint, "societe"):
		return "company"
	case strings.Contains(hint, "name"), strings.Contains(hint, "nom"):
		return "name"
	}
	return ""
}

// HasCaptcha reports whether any known captcha marker is present.
func HasCaptcha(doc *html.Node) bool {
	found := false
	walk(doc, func(n *html.Node) bool {
		if found || n.Type != html.ElementNode {
			return !found
		}
		if hasAttr(n, "data-sitekey") {
			found = true
			return false
		}
		class := strings.ToLower(attr(n, "class"))
		for _, c := range captchaClasses {
			if strings.Contains(class, c) {
				found = true
				return false
			}
		}
		if n.DataAtom == atom.Script || n.DataAtom == atom.Iframe {
			src := strings.ToLower(attr(n, "src"))
			for _, s := range captchaScripts {
				if strings.Contains(src, s) {
					found = true
					return false
				}
			}
		}
		return true
	})
	return found
}

// FindContactLink returns the absolute URL of the first same-site link that
// looks like a contact page, or "".
func FindContactLink(doc *html.Node, pageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	var link string
	walk(doc, func(n *html.Node) bool {
		if link != "" {
			return false
		}
		if !isElement(n, atom.A) {
			return true
		}
		href := strings.TrimSpace(attr(n, "href"))
		lowerHref := strings.ToLower(href)
		if href == "" || strings.HasPrefix(lowerHref, "mailto:") || strings.HasPrefix(lowerHref, "javascript:") || strings.HasPrefix(href, "#") {
			return false
		}
		text := strings.ToLower(textContent(n))
		if !containsAny(lowerHref, contactLinkKeywords) && !containsAny(text, contactLinkKeywords) {
			return false
		}
		ref, err := url.Parse(href)
		if err != nil {
			return false
		}
		abs := base.ResolveReference(ref)
		if !sameSite(abs.Hostname(), base.Hostname()) {
			return false
		}
		abs.Fragment = ""
		link = abs.String()
		return false
	})
	return link
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func sameSite(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a == b
}
