package cleaner

import (
	"net/url"
	"strings"
)

// The detection heuristic is reverse-engineered from the exporter's output,
// not a specified contract: the exporter drops a small linked image in the
// far corner of every page or layout. If the exporter changes its placement
// these constants are the one place to adjust.
const (
	// BrandDomain is the hyperlink host that identifies the overlay.
	BrandDomain = "gamma.app"

	// CornerThreshold is the fraction of container width and height the
	// element's anchor corner must lie beyond, on both axes. Strictly
	// greater-than: an element at exactly 0.70 does not match.
	CornerThreshold = 0.70

	// OverlapTolerance (points) expands a PDF link annotation rectangle
	// before testing it against an image placement rectangle, absorbing the
	// sub-point rounding exporters introduce between the two.
	OverlapTolerance = 2.0
)

// Rule is the watermark predicate. The zero value matches nothing useful;
// use DefaultRule. Fields exist so tests can construct variants; they are
// build-time policy, not runtime configuration.
type Rule struct {
	Domain           string
	CornerThreshold  float64
	OverlapTolerance float64
}

// DefaultRule returns the predicate for the known exporter branding.
func DefaultRule() Rule {
	return Rule{
		Domain:           BrandDomain,
		CornerThreshold:  CornerThreshold,
		OverlapTolerance: OverlapTolerance,
	}
}

// LinkMatches reports whether a hyperlink points at the branding domain:
// the host must equal the domain or be a subdomain of it. Substring hits
// elsewhere in the URL (path, query, look-alike hosts) do not count.
func (r Rule) LinkMatches(raw string) bool {
	if raw == "" {
		return false
	}
	host := hostOf(raw)
	if host == "" {
		return false
	}
	domain := strings.ToLower(r.Domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// PositionMatches reports whether an element anchored at (x0, y0) inside a
// width x height container lies in the corner region. Both axes must pass.
func (r Rule) PositionMatches(x0, y0, width, height float64) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	return x0/width > r.CornerThreshold && y0/height > r.CornerThreshold
}

// Matches is the full predicate: corner position and branding link.
func (r Rule) Matches(x0, y0, width, height float64, link string) bool {
	return r.PositionMatches(x0, y0, width, height) && r.LinkMatches(link)
}

// hostOf extracts the lowercased hostname from a URL, tolerating missing
// schemes ("gamma.app/abc" as written by some exporters).
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Host == "" && !strings.Contains(raw, "://") {
		u, err = url.Parse("https://" + raw)
		if err != nil {
			return ""
		}
	}
	return strings.ToLower(u.Hostname())
}
