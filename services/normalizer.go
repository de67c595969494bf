package services

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"olx-watcher/models"
	"olx-watcher/utils"
)

const (
	defaultPrice    = "Price not available"
	defaultLocation = "Location not available"
	defaultDate     = "Unknown"
)

// Selectors locate listing fields inside the index markup. They lean on
// data attributes and element structure because the source's class names are
// generated and change between deploys.
type Selectors struct {
	Card         string
	Title        string
	Link         string
	Price        string
	LocationDate string
	Image        string
	// NoImageMarker identifies the placeholder thumbnail.
	NoImageMarker string
}

// DefaultSelectors matches the current OLX listing index.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:          `div[data-cy="l-card"]`,
		Title:         "h4, h6, [data-cy='ad-card-title'] h4",
		Link:          "a[href]",
		Price:         `[data-testid="ad-price"]`,
		LocationDate:  `[data-testid="location-date"]`,
		Image:         "img",
		NoImageMarker: "no_thumbnail",
	}
}

// ParseSkip records an entry that could not become a candidate.
type ParseSkip struct {
	Page   int
	Index  int
	Reason string
}

func (s ParseSkip) Error() string {
	return "parse skip: " + s.Reason
}

// EntryResult is the outcome for one card: exactly one of Listing or Skip is set.
type EntryResult struct {
	Listing *models.Listing
	Skip    *ParseSkip
}

// PageResult collects the candidates and skips of one page in document order.
type PageResult struct {
	Candidates []models.Listing
	Skipped    []ParseSkip
}

// Normalizer extracts candidate listings from rendered index pages.
// Parsing is a pure function of the page: no clock, no randomness.
type Normalizer struct {
	logger *utils.Logger
	sel    Selectors
}

// NewNormalizer creates a Normalizer with the given selectors.
func NewNormalizer(logger *utils.Logger, sel Selectors) *Normalizer {
	return &Normalizer{logger: logger, sel: sel}
}

// Parse turns a RawPage into candidates, dropping entries without a title or link.
func (n *Normalizer) Parse(page models.RawPage) PageResult {
	var res PageResult
	for _, e := range n.ParseEntries(page) {
		if e.Skip != nil {
			res.Skipped = append(res.Skipped, *e.Skip)
			continue
		}
		res.Candidates = append(res.Candidates, *e.Listing)
	}

	n.logger.Info("[normalizer] Page %d: %d candidates, %d skipped",
		page.Number, len(res.Candidates), len(res.Skipped))
	return res
}

// ParseEntries returns one tagged result per card on the page.
func (n *Normalizer) ParseEntries(page models.RawPage) []EntryResult {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		n.logger.Warn("[normalizer] Page %d unreadable: %v", page.Number, err)
		return []EntryResult{{Skip: &ParseSkip{Page: page.Number, Reason: "unreadable_markup"}}}
	}

	base := page.FinalURL
	if base == "" {
		base = page.URL
	}

	cards := doc.Find(n.sel.Card)
	results := make([]EntryResult, 0, cards.Length())
	cards.Each(func(i int, card *goquery.Selection) {
		results = append(results, n.parseCard(page.Number, i, base, card))
	})
	return results
}

func (n *Normalizer) parseCard(pageNum, idx int, base string, card *goquery.Selection) EntryResult {
	skip := func(reason string) EntryResult {
		n.logger.Debug("[normalizer] Page %d entry %d skipped: %s", pageNum, idx, reason)
		return EntryResult{Skip: &ParseSkip{Page: pageNum, Index: idx, Reason: reason}}
	}

	titleEl := card.Find(n.sel.Title).First()
	title := normaliseText(titleEl.Text())
	if title == "" {
		return skip("missing_title")
	}

	// The title heading sits inside the ad anchor; fall back to the first
	// anchor in the card.
	href, ok := titleEl.Closest("a").Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		href, _ = card.Find(n.sel.Link).First().Attr("href")
	}
	link := CanonicalLink(base, href)
	if link == "" {
		return skip("missing_link")
	}

	price := normaliseText(card.Find(n.sel.Price).First().Text())
	if price == "" {
		price = defaultPrice
	}

	location, date := splitLocationDate(normaliseText(card.Find(n.sel.LocationDate).First().Text()))

	return EntryResult{Listing: &models.Listing{
		ID:       ListingID(title, link),
		Title:    title,
		Price:    price,
		Location: location,
		Date:     date,
		Link:     link,
		ImageURL: n.imageURL(base, card),
	}}
}

func (n *Normalizer) imageURL(base string, card *goquery.Selection) *string {
	img := card.Find(n.sel.Image).First()
	src, _ := img.Attr("src")
	if strings.TrimSpace(src) == "" {
		src, _ = img.Attr("data-src")
	}
	src = strings.TrimSpace(src)
	if src == "" || (n.sel.NoImageMarker != "" && strings.Contains(src, n.sel.NoImageMarker)) {
		return nil
	}
	resolved := resolveURL(base, src)
	if resolved == "" {
		return nil
	}
	return &resolved
}

// splitLocationDate splits "Lisboa, Areeiro - Hoje às 10:15" into its parts.
func splitLocationDate(s string) (string, string) {
	if s == "" {
		return defaultLocation, defaultDate
	}
	location, date, found := strings.Cut(s, " - ")
	location = strings.TrimSpace(location)
	date = strings.TrimSpace(date)
	if location == "" {
		location = defaultLocation
	}
	if !found || date == "" {
		date = defaultDate
	}
	return location, date
}

// resolveURL resolves ref against base, keeping the query string since image
// CDNs carry sizing there.
func resolveURL(base, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if b, err := url.Parse(base); err == nil && base != "" {
		u = b.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
