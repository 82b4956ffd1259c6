package signal

import (
	"context"
	"errors"
	"net"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Confidence per discovery method.
const (
	ConfidenceMailto     = 0.9
	ConfidenceText       = 0.6
	ConfidenceObfuscated = 0.3
)

// EmailCandidate is an address found on the site.
type EmailCandidate struct {
	Email      string
	Name       string
	Via        model.DiscoveredVia
	Confidence float64
	Validation model.Validation
}

var (
	emailRe      = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	obfuscatedRe = regexp.MustCompile(`(?i)\b([a-z0-9._%+\-]+)\s*[\[\(\{]\s*at\s*[\]\)\}]\s*([a-z0-9\-]+(?:\s*[\[\(\{]\s*dot\s*[\]\)\}]\s*[a-z0-9\-]+)+)\b`)
	dotRe        = regexp.MustCompile(`(?i)\s*[\[\(\{]\s*dot\s*[\]\)\}]\s*`)
)

var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// ExtractEmails collects addresses from mailto links, visible text and
// "[at]"/"[dot]" obfuscations. Each address appears once, with the highest
// confidence it was seen at.
func ExtractEmails(doc *html.Node) []EmailCandidate {
	found := make(map[string]*EmailCandidate)
	var order []string

	add := func(raw, name string, via model.DiscoveredVia, conf float64) {
		email := model.NormalizeEmail(raw)
		if i := strings.IndexByte(email, '?'); i >= 0 {
			email = email[:i]
		}
		if email == "" || looksLikeAsset(email) {
			return
		}
		if existing, ok := found[email]; ok {
			if conf > existing.Confidence {
				existing.Confidence = conf
				existing.Via = via
			}
			if existing.Name == "" {
				existing.Name = name
			}
			return
		}
		found[email] = &EmailCandidate{Email: email, Name: name, Via: via, Confidence: conf}
		order = append(order, email)
	}

	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return false
		}
		if isElement(n, atom.A) {
			href := attr(n, "href")
			if strings.HasPrefix(strings.ToLower(href), "mailto:") {
				add(href, mailtoName(n), model.ViaMailto, ConfidenceMailto)
			}
		}
		if n.Type == html.TextNode {
			for _, m := range emailRe.FindAllString(n.Data, -1) {
				add(m, "", model.ViaText, ConfidenceText)
			}
			for _, m := range obfuscatedRe.FindAllStringSubmatch(n.Data, -1) {
				host := dotRe.ReplaceAllString(m[2], ".")
				add(m[1]+"@"+host, "", model.ViaObfuscated, ConfidenceObfuscated)
			}
		}
		return true
	})

	out := make([]EmailCandidate, 0, len(order))
	for _, e := range order {
		out = append(out, *found[e])
	}
	return out
}

// mailtoName uses the link text or title as a display name unless it is
// just the address again.
func mailtoName(a *html.Node) string {
	for _, candidate := range []string{textContent(a), attr(a, "title"), attr(a, "aria-label")} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || strings.Contains(candidate, "@") || len(candidate) > 60 {
			continue
		}
		lower := strings.ToLower(candidate)
		if strings.Contains(lower, "email") || strings.Contains(lower, "contact") || strings.Contains(lower, "write") {
			continue
		}
		return candidate
	}
	return ""
}

func looksLikeAsset(email string) bool {
	for _, s := range assetSuffixes {
		if strings.HasSuffix(email, s) {
			return true
		}
	}
	return false
}

// MXResolver is the subset of net.Resolver used for validation.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

var disposableDomains = map[string]bool{
	"mailinator.com": true, "guerrillamail.com": true, "10minutemail.com": true,
	"tempmail.com": true, "temp-mail.org": true, "yopmail.com": true,
	"trashmail.com": true, "sharklasers.com": true, "getnada.com": true,
	"dispostable.com": true, "maildrop.cc": true, "throwawaymail.com": true,
}

var freemailDomains = map[string]bool{
	"gmail.com": true, "googlemail.com": true, "yahoo.com": true, "yahoo.fr": true,
	"hotmail.com": true, "hotmail.fr": true, "outlook.com": true, "live.com": true,
	"aol.com": true, "icloud.com": true, "gmx.de": true, "gmx.net": true,
	"web.de": true, "orange.fr": true, "free.fr": true, "libero.it": true,
	"protonmail.com": true, "proton.me": true,
}

var roleLocalParts = map[string]bool{
	"info": true, "contact": true, "admin": true, "hello": true, "support": true,
	"sales": true, "office": true, "webmaster": true, "team": true, "press": true,
	"marketing": true, "redaction": true, "kontakt": true,
}

var noReplyLocalParts = map[string]bool{
	"noreply": true, "no-reply": true, "donotreply": true, "do-not-reply": true,
	"mailer-daemon": true, "postmaster": true,
}

// DefaultLookupTimeout bounds one MX lookup.
const DefaultLookupTimeout = 15 * time.Second

// Validator classifies candidate addresses.
type Validator struct {
	resolver MXResolver
	timeout  time.Duration
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithLookupTimeout sets the per-lookup MX timeout.
func WithLookupTimeout(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewValidator creates a Validator. A nil resolver skips MX checks.
func NewValidator(resolver MXResolver, opts ...ValidatorOption) *Validator {
	v := &Validator{resolver: resolver, timeout: DefaultLookupTimeout}
	for _, o := range opts {
		o(v)
	}
	return v
}

// withTimeout returns a copy of v whose lookups use d.
func (v *Validator) withTimeout(d time.Duration) *Validator {
	cp := *v
	WithLookupTimeout(d)(&cp)
	return &cp
}

// Validate returns the deliverability verdict for email found on siteDomain.
func (v *Validator) Validate(ctx context.Context, email, siteDomain string) model.Validation {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.ValidationInvalid
	}
	at := strings.LastIndexByte(email, '@')
	local, domain := email[:at], email[at+1:]
	if !strings.Contains(domain, ".") {
		return model.ValidationInvalid
	}
	if noReplyLocalParts[local] {
		return model.ValidationInvalid
	}
	if disposableDomains[domain] {
		return model.ValidationDisposable
	}
	if roleLocalParts[local] || freemailDomains[domain] {
		return model.ValidationRisky
	}
	if domain == siteDomain || strings.HasSuffix(domain, "."+siteDomain) {
		return model.ValidationVerified
	}
	if v.resolver == nil {
		return model.ValidationRisky
	}

	lctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	records, err := v.resolver.LookupMX(lctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return model.ValidationInvalid
		}
		return model.ValidationRisky
	}
	if len(records) == 0 {
		return model.ValidationInvalid
	}
	return model.ValidationVerified
}

// ValidateAll fills in Validation for each candidate and orders them by
// confidence, highest first. Ties keep discovery order.
func (v *Validator) ValidateAll(ctx context.Context, candidates []EmailCandidate, siteDomain string) []EmailCandidate {
	out := make([]EmailCandidate, len(candidates))
	for i, c := range candidates {
		c.Validation = v.Validate(ctx, c.Email, siteDomain)
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}
