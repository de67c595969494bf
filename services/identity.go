package services

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

var (
	// adCodeRegexp captures the ad code in links like /d/anuncio/sofa-IDHgT5a.html.
	adCodeRegexp = regexp.MustCompile(`-ID([0-9A-Za-z]+)\.html$`)
	// numericIDRegexp captures a long numeric ad id in the path, used by
	// sibling sites and older link formats.
	numericIDRegexp = regexp.MustCompile(`(?:^|[/\-_])(\d{6,})(?:[/.\-_]|$)`)
)

// ListingID derives the stable identity of an ad.
//
// A source-native id parsed from the link path is preferred: "ID<code>" for
// the ad code suffix, "N<digits>" for a numeric id. Otherwise the id is
// "fp-" plus the first 32 hex chars of SHA-256 over the trimmed, case-folded
// title and canonical link joined by a newline. Changing this derivation
// re-keys every stored listing.
func ListingID(title, link string) string {
	if u, err := url.Parse(link); err == nil {
		if m := adCodeRegexp.FindStringSubmatch(u.Path); m != nil {
			return "ID" + m[1]
		}
		if m := numericIDRegexp.FindStringSubmatch(u.Path); m != nil {
			return "N" + m[1]
		}
	}
	return Fingerprint(title, link)
}

// Fingerprint hashes the normalised title and link.
func Fingerprint(title, link string) string {
	key := strings.ToLower(normaliseText(title)) + "\n" + strings.ToLower(strings.TrimSpace(link))
	sum := sha256.Sum256([]byte(key))
	return "fp-" + hex.EncodeToString(sum[:16])
}

// CanonicalLink resolves href against base and drops the query string and
// fragment, which the source uses for tracking and search context. Hrefs that
// only point back at the index page itself ("#", "?page=2") yield "".
func CanonicalLink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "?") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if b, err := url.Parse(base); err == nil && base != "" {
		ref = b.ResolveReference(ref)
		if samePage(b, ref) {
			return ""
		}
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.RawQuery = ""
	ref.Fragment = ""
	ref.RawFragment = ""
	return ref.String()
}

func samePage(a, b *url.URL) bool {
	return strings.EqualFold(a.Host, b.Host) &&
		strings.TrimSuffix(a.Path, "/") == strings.TrimSuffix(b.Path, "/")
}
