package signal

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/language"
)

// DetectLanguage returns the ISO 639-1 code declared by the page, checking
// <html lang>, the content-language meta tag, og:locale and finally the
// Content-Language response header. It returns "" when nothing usable is
// declared.
func DetectLanguage(doc *html.Node, contentLanguage string) string {
	var htmlLang, metaLang, ogLocale string
	walk(doc, func(n *html.Node) bool {
		switch {
		case isElement(n, atom.Html):
			htmlLang = attr(n, "lang")
			if htmlLang == "" {
				htmlLang = attr(n, "xml:lang")
			}
		case isElement(n, atom.Meta):
			if strings.EqualFold(attr(n, "http-equiv"), "content-language") {
				metaLang = attr(n, "content")
			}
			if strings.EqualFold(attr(n, "property"), "og:locale") {
				ogLocale = attr(n, "content")
			}
		case isElement(n, atom.Body):
			return false
		}
		return true
	})

	for _, candidate := range []string{htmlLang, metaLang, ogLocale, contentLanguage} {
		if code := baseLanguage(candidate); code != "" {
			return code
		}
	}
	return ""
}

// baseLanguage reduces a BCP 47 tag ("fr-CA", "pt_BR") to its base language.
func baseLanguage(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, ','); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No || base.String() == "und" {
		return ""
	}
	return base.String()
}

var tldLanguages = map[string]string{
	"fr": "fr", "de": "de", "at": "de", "es": "es", "mx": "es", "ar": "es",
	"cl": "es", "it": "it", "pt": "pt", "br": "pt", "nl": "nl", "uk": "en",
	"ie": "en", "au": "en", "nz": "en", "us": "en", "pl": "pl", "se": "sv",
	"dk": "da", "no": "no", "fi": "fi", "cz": "cs", "gr": "el", "jp": "ja",
}

// LanguageFromDomain guesses a language from the top-level domain. Generic
// and multilingual TLDs (.com, .ch, .be, .ca) return "".
func LanguageFromDomain(domain string) string {
	return tldLanguages[topLevel(domain)]
}

// SupportedLanguage reports whether code is in the supported set.
func SupportedLanguage(code string, supported []string) bool {
	for _, s := range supported {
		if strings.EqualFold(s, code) {
			return true
		}
	}
	return false
}

func topLevel(domain string) string {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	if i := strings.LastIndexByte(domain, '.'); i >= 0 {
		return domain[i+1:]
	}
	return ""
}
