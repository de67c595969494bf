package olx

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"olx-watcher/models"
	"olx-watcher/utils"
)

// DefaultEntrySelector matches one ad card on the listing index.
const DefaultEntrySelector = `div[data-cy="l-card"]`

// PageHandler receives each fetched page in order. Returning an error stops
// pagination and Fetch returns that error unchanged.
type PageHandler func(page models.RawPage) error

// Fetcher retrieves listing index pages through a rendering Browser.
type Fetcher struct {
	browser       Browser
	logger        *utils.Logger
	entrySelector string
	pageDelay     time.Duration
	now           func() time.Time
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithEntrySelector overrides the card selector used for stabilisation and
// the end-of-results check.
func WithEntrySelector(sel string) Option {
	return func(f *Fetcher) { f.entrySelector = sel }
}

// WithPageDelay sets the minimum spacing between page loads.
func WithPageDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.pageDelay = d }
}

// New creates a Fetcher.
func New(browser Browser, logger *utils.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		browser:       browser,
		logger:        logger,
		entrySelector: DefaultEntrySelector,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// EntrySelector returns the card selector the fetcher waits for.
func (f *Fetcher) EntrySelector() string { return f.entrySelector }

// Fetch walks the listing index from page 1 up to q.MaxPages, handing each
// page to handle before loading the next. It stops early on a page with no
// entries or on a page whose final URL was already visited.
//
// A browser session is opened for the call and always released. Failures are
// reported as *FetchError; ctx cancellation is honoured between pages and
// returned as ctx.Err(). Nothing is retried here.
func (f *Fetcher) Fetch(ctx context.Context, q models.SourceQuery, handle PageHandler) error {
	session, err := f.browser.Open(ctx)
	if err != nil {
		return &FetchError{Kind: KindUnreachable, Page: 1, Reason: "browser_launch", Err: err}
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			f.logger.Debug("[olx] Browser close: %v", cerr)
		}
	}()

	var limiter *rate.Limiter
	if f.pageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(f.pageDelay), 1)
	}
	visited := utils.NewStringSet()

	for page := 1; page <= q.MaxPages; page++ {
		// Cooperative checkpoint between pages.
		if err := ctx.Err(); err != nil {
			return err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return err
			}
		}

		pageURL, err := BuildPageURL(q, page)
		if err != nil {
			return &FetchError{Kind: KindUnreachable, Page: page, Reason: "bad_url", Err: err}
		}
		f.logger.Info("[olx] Fetching page %d: %s", page, pageURL)

		raw, err := f.renderPage(ctx, session, q, page, pageURL)
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) {
				f.logger.Warn("[olx] %v", fe)
			}
			return err
		}

		if raw.FinalURL != "" && !visited.Add(raw.FinalURL) {
			f.logger.Info("[olx] Page %d resolved to already visited %s, stopping", page, raw.FinalURL)
			return nil
		}

		if raw.EntryCount == 0 {
			f.logger.Info("[olx] Page %d returned 0 entries, end of results", page)
			return nil
		}

		f.logger.Debug("[olx] Page %d rendered with %d entries", page, raw.EntryCount)
		if err := handle(raw); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) renderPage(ctx context.Context, session Session, q models.SourceQuery, page int, pageURL string) (models.RawPage, error) {
	renderCtx := ctx
	if q.PageLoadTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, q.PageLoadTimeout)
		defer cancel()
	}

	rendered, err := session.Render(renderCtx, pageURL, f.entrySelector)
	if err != nil {
		// The run itself was cancelled: not a page failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.RawPage{}, ctxErr
		}
		return models.RawPage{}, &FetchError{Kind: classifyRenderError(err), Page: page, URL: pageURL, Err: err}
	}

	if reason, blocked := detectBlock(rendered.Title, rendered.HTML, rendered.Entries); blocked {
		return models.RawPage{}, &FetchError{Kind: KindBlocked, Page: page, URL: pageURL, Reason: reason}
	}

	finalURL := rendered.FinalURL
	if finalURL == "" {
		finalURL = pageURL
	}
	return models.RawPage{
		Number:     page,
		URL:        pageURL,
		FinalURL:   finalURL,
		Title:      rendered.Title,
		HTML:       rendered.HTML,
		EntryCount: rendered.Entries,
		FetchedAt:  f.now(),
	}, nil
}
