package challenge

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Provider names the anti-bot vendor behind a challenge.
type Provider string

// Known providers.
const (
	ProviderNone       Provider = ""
	ProviderRecaptcha  Provider = "recaptcha"
	ProviderHCaptcha   Provider = "hcaptcha"
	ProviderTurnstile  Provider = "turnstile"
	ProviderCloudflare Provider = "cloudflare"
	ProviderGeneric    Provider = "generic"
)

// Detection is the result of inspecting one page.
type Detection struct {
	Detected bool
	Provider Provider
	SiteKey  string
	// Signal is the selector or phrase that matched.
	Signal string
}

type signature struct {
	provider Provider
	selector string
}

var defaultSignatures = []signature{
	{ProviderRecaptcha, `iframe[src*="recaptcha"]`},
	{ProviderRecaptcha, `.g-recaptcha`},
	{ProviderHCaptcha, `iframe[src*="hcaptcha"]`},
	{ProviderHCaptcha, `.h-captcha`},
	{ProviderTurnstile, `.cf-turnstile`},
	{ProviderTurnstile, `iframe[src*="challenges.cloudflare.com"]`},
	{ProviderCloudflare, `#challenge-form`},
	{ProviderCloudflare, `#cf-challenge-running`},
	{ProviderGeneric, `#captcha`},
	{ProviderGeneric, `form[action*="captcha"]`},
	{ProviderGeneric, `[class*="captcha-modal"]`},
}

var defaultKeywords = []string{
	"verify you are human",
	"checking your browser",
	"are you a robot",
	"confirm you are not a robot",
	"unusual traffic from your computer",
	"please complete the security check",
}

// Detector recognizes challenge pages from their HTML. Detect has no side
// effects and is safe for concurrent use.
type Detector struct {
	signatures []signature
	keywords   []string
}

// NewDetector returns a Detector with the built-in signatures plus any extra
// selectors and verification phrases.
func NewDetector(extraSelectors, extraKeywords []string) *Detector {
	sigs := append([]signature(nil), defaultSignatures...)
	for _, sel := range extraSelectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			sigs = append(sigs, signature{ProviderGeneric, sel})
		}
	}
	keywords := make([]string, 0, len(defaultKeywords)+len(extraKeywords))
	for _, kw := range append(append([]string(nil), defaultKeywords...), extraKeywords...) {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &Detector{signatures: sigs, keywords: keywords}
}

// Detect inspects html for known challenge signatures.
func (d *Detector) Detect(html string) Detection {
	if d == nil || strings.TrimSpace(html) == "" {
		return Detection{}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return d.detectKeywords(strings.ToLower(html))
	}
	siteKey, _ := doc.Find("[data-sitekey]").First().Attr("data-sitekey")
	for _, sig := range d.signatures {
		if doc.Find(sig.selector).Length() > 0 {
			return Detection{Detected: true, Provider: sig.provider, SiteKey: siteKey, Signal: sig.selector}
		}
	}
	det := d.detectKeywords(strings.ToLower(doc.Find("body").Text()))
	if det.Detected {
		det.SiteKey = siteKey
	}
	return det
}

func (d *Detector) detectKeywords(text string) Detection {
	for _, kw := range d.keywords {
		if strings.Contains(text, kw) {
			return Detection{Detected: true, Provider: ProviderGeneric, Signal: kw}
		}
	}
	return Detection{}
}
