package olx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"

	"olx-watcher/utils"
)

// Rendered is what a session hands back for one page once its DOM settled.
type Rendered struct {
	FinalURL string
	Title    string
	HTML     string
	Entries  int
}

// Browser opens rendering sessions. A session is owned by a single run.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session renders pages inside one browser instance.
type Session interface {
	// Render navigates to url and blocks until the listing DOM is stable or
	// ctx expires. entrySelector identifies one listing card.
	Render(ctx context.Context, url, entrySelector string) (*Rendered, error)
	Close() error
}

// ChromeOptions configures the headless Chrome used by ChromeBrowser.
type ChromeOptions struct {
	ChromeBin string
	UserAgent string
	// PollInterval is how often the DOM is probed while waiting for it to settle.
	PollInterval time.Duration
	// StableRounds is how many consecutive identical probes count as settled.
	StableRounds int
	// EmptyWait is how long a complete document must show no cards before
	// the page counts as empty rather than still hydrating.
	EmptyWait time.Duration
}

// ChromeBrowser drives headless Chrome through chromedp.
type ChromeBrowser struct {
	opts   ChromeOptions
	logger *utils.Logger
}

// NewChromeBrowser creates a Browser backed by a local Chrome/Chromium binary.
func NewChromeBrowser(opts ChromeOptions, logger *utils.Logger) *ChromeBrowser {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.StableRounds <= 0 {
		opts.StableRounds = 3
	}
	if opts.EmptyWait <= 0 {
		opts.EmptyWait = 10 * time.Second
	}
	return &ChromeBrowser{opts: opts, logger: logger}
}

// Open launches a browser process. The returned session must be closed.
func (b *ChromeBrowser) Open(ctx context.Context) (Session, error) {
	chromeBin := b.opts.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	b.logger.Debug("[olx] Using browser binary: %q", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1920, 1080),
	)
	if b.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.opts.UserAgent))
	}
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	// The session outlives per-page deadlines, so it is detached from ctx
	// cancellation and torn down only by Close.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	// First Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, eris.Wrap(err, "launch browser")
	}

	return &chromeSession{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		opts:          b.opts,
		logger:        b.logger,
	}, nil
}

type chromeSession struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	opts          ChromeOptions
	logger        *utils.Logger
}

type domProbe struct {
	Ready   string `json:"ready"`
	Entries int    `json:"entries"`
	Size    int    `json:"size"`
}

func (s *chromeSession) Render(ctx context.Context, url, entrySelector string) (*Rendered, error) {
	// One tab per page; closing it drops the page's memory before the next.
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	// Propagate the caller's deadline and cancellation into the tab.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tabCtx, cancelDeadline = context.WithDeadline(tabCtx, deadline)
		defer cancelDeadline()
	}

	if err := chromedp.Run(tabCtx, chromedp.Navigate(url)); err != nil {
		return nil, s.ctxErr(ctx, err)
	}

	probe, err := s.waitStable(ctx, tabCtx, entrySelector)
	if err != nil {
		return nil, err
	}

	out := &Rendered{Entries: probe.Entries}
	if err := chromedp.Run(tabCtx,
		chromedp.Location(&out.FinalURL),
		chromedp.Title(&out.Title),
		chromedp.OuterHTML("html", &out.HTML, chromedp.ByQuery),
	); err != nil {
		return nil, s.ctxErr(ctx, err)
	}
	return out, nil
}

// waitStable polls the DOM until settleTracker reports it settled.
func (s *chromeSession) waitStable(ctx, tabCtx context.Context, entrySelector string) (domProbe, error) {
	sel, err := json.Marshal(entrySelector)
	if err != nil {
		return domProbe{}, err
	}
	js := fmt.Sprintf(`(function() {
		return {
			ready: document.readyState,
			entries: document.querySelectorAll(%s).length,
			size: document.body ? document.body.innerHTML.length : 0
		};
	})()`, sel)

	tracker := settleTracker{rounds: s.opts.StableRounds, emptyWait: s.opts.EmptyWait}
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		var cur domProbe
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(js, &cur)); err != nil {
			return domProbe{}, s.ctxErr(ctx, err)
		}
		if tracker.observe(cur, time.Now()) {
			return cur, nil
		}

		select {
		case <-tabCtx.Done():
			return domProbe{}, s.ctxErr(ctx, tabCtx.Err())
		case <-ticker.C:
		}
	}
}

// settleTracker decides when a rendered index is done loading.
//
// With cards present the page is settled once the card count and body size
// hold for rounds probes, or the card count alone holds for twice that, since
// some pages rotate banners forever. With no cards the complete document must
// stay empty for emptyWait, so a grid that hydrates late is not read as the end
// of results.
type settleTracker struct {
	rounds    int
	emptyWait time.Duration

	last        domProbe
	same        int
	sameEntries int
	emptySince  time.Time
}

func (t *settleTracker) observe(cur domProbe, now time.Time) bool {
	prev := t.last
	t.last = cur
	if cur.Ready != "complete" {
		t.same, t.sameEntries = 0, 0
		t.emptySince = time.Time{}
		return false
	}

	if cur.Entries == 0 {
		t.same, t.sameEntries = 0, 0
		if t.emptySince.IsZero() {
			t.emptySince = now
		}
		return now.Sub(t.emptySince) >= t.emptyWait
	}
	t.emptySince = time.Time{}

	if cur.Entries == prev.Entries {
		t.sameEntries++
	} else {
		t.sameEntries = 0
	}
	if cur.Entries == prev.Entries && cur.Size == prev.Size {
		t.same++
	} else {
		t.same = 0
	}
	return t.same >= t.rounds || t.sameEntries >= 2*t.rounds
}

// ctxErr prefers the caller's context error so deadline expiry is reported as
// such rather than as a closed-target error from chromedp.
func (s *chromeSession) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close shuts the browser down. Safe to call more than once.
func (s *chromeSession) Close() error {
	var err error
	if s.browserCtx != nil {
		err = chromedp.Cancel(s.browserCtx)
		s.browserCtx = nil
	}
	s.cancelBrowser()
	s.cancelAlloc()
	return err
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
