package olx

import (
	"net/url"
	"strconv"
	"strings"

	"olx-watcher/models"
)

// BuildPageURL returns the listing index URL for the given 1-based page.
//
// Category and Search become path segments under the base URL, following the
// source's /<category>/q-<terms>/ convention; the page number is a query
// parameter. Existing base query parameters (distance filters etc.) are kept.
func BuildPageURL(q models.SourceQuery, page int) (string, error) {
	u, err := url.Parse(q.BaseURL)
	if err != nil {
		return "", err
	}

	path := strings.TrimSuffix(u.Path, "/")
	if c := strings.Trim(q.Category, "/ "); c != "" {
		path += "/" + c
	}
	if s := slugTerms(q.Search); s != "" {
		path += "/q-" + s
	}
	u.Path = path + "/"
	u.RawPath = ""

	values := u.Query()
	values.Set("page", strconv.Itoa(page))
	u.RawQuery = values.Encode()

	return u.String(), nil
}

// slugTerms turns free-text search terms into the hyphenated form the source
// expects in its path.
func slugTerms(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}
