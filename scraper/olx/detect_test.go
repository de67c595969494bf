package olx

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olx-watcher/models"
)

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		html    string
		entries int
		blocked bool
		reason  string
	}{
		{"cloudflare title", "Just a moment...", "<html></html>", 0, true, "blocked_title:just a moment"},
		{"challenge form", "OLX", `<div id="challenge-form"></div>`, 0, true, "cloudflare_challenge"},
		{"captcha widget", "OLX", `<div class="g-recaptcha"></div>`, 0, true, "captcha"},
		{"rate limited", "OLX", "<p>Too Many Requests</p>", 0, true, "429_rate_limited"},
		{"listing page with captcha script", "Anúncios", `<script src="g-recaptcha.js"></script>`, 12, false, ""},
		{"empty results", "Anúncios", "<p>Não encontrámos anúncios</p>", 0, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, blocked := detectBlock(tt.title, tt.html, tt.entries)
			assert.Equal(t, tt.blocked, blocked)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestClassifyRenderError(t *testing.T) {
	assert.Equal(t, KindTimeout, classifyRenderError(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, classifyRenderError(fmt.Errorf("navigate: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindUnreachable, classifyRenderError(errors.New("net::ERR_CONNECTION_REFUSED")))
	assert.Equal(t, KindBlocked, classifyRenderError(errors.New("net::ERR_BLOCKED_BY_RESPONSE")))
}

func TestFetchErrorMessage(t *testing.T) {
	err := &FetchError{Kind: KindBlocked, Page: 2, Reason: "captcha"}
	assert.Equal(t, "fetch page 2: blocked (captcha)", err.Error())

	wrapped := &FetchError{Kind: KindTimeout, Page: 1, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
}

func TestBuildPageURL(t *testing.T) {
	q := models.SourceQuery{BaseURL: "https://www.olx.pt/coracaodejesus/?search%5Bdist%5D=15"}

	got, err := BuildPageURL(q, 2)
	require.NoError(t, err)
	assert.Equal(t, "https://www.olx.pt/coracaodejesus/?page=2&search%5Bdist%5D=15", got)

	q.Category = "moveis"
	q.Search = "  Mesa  Antiga "
	got, err = BuildPageURL(q, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://www.olx.pt/coracaodejesus/moveis/q-mesa-antiga/?page=1&search%5Bdist%5D=15", got)
}

func TestBuildPageURLInvalid(t *testing.T) {
	_, err := BuildPageURL(models.SourceQuery{BaseURL: "://bad"}, 1)
	assert.Error(t, err)
}
