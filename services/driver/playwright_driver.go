package driver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	apxerrors "github.com/apxor/browserpool/errors"
	"github.com/apxor/browserpool/logger"
	"github.com/apxor/browserpool/models/scraperequest"
	"github.com/apxor/browserpool/models/scraperesult"
)

/*
Playwright-based BrowserDriver. One Playwright browser process is shared by
every context (spec.md I5): contexts are playwright.BrowserContext values
created from a single playwright.Browser, never a separate browser per
context. Persistent contexts round-trip cookies/local storage through a
storage_state.json file inside the context's owned storage directory —
the pool treats that directory as opaque; this is the driver's own format.
*/

// PlaywrightDriver launches a single Chromium process and hands out
// isolated browser contexts from it.
type PlaywrightDriver struct {
	headless bool

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightDriver returns a driver that has not yet launched a browser.
func NewPlaywrightDriver(headless bool) *PlaywrightDriver {
	return &PlaywrightDriver{headless: headless}
}

func (d *PlaywrightDriver) Launch(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("starting playwright: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-gpu",
		},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("launching chromium: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
	}

	d.pw = pw
	d.browser = browser
	logger.Info("playwright driver launched", zap.Bool("headless", d.headless))
	return nil
}

func (d *PlaywrightDriver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		d.browser.Close()
		d.browser = nil
	}
	if d.pw != nil {
		d.pw.Stop()
		d.pw = nil
	}
	logger.Info("playwright driver shut down")
	return nil
}

// playwrightHandle wraps one browser context plus its lead page.
type playwrightHandle struct {
	id          string
	bctx        playwright.BrowserContext
	page        playwright.Page
	storagePath string
}

func (h *playwrightHandle) ID() string { return h.id }

func (d *PlaywrightDriver) activeBrowser() (playwright.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return nil, apxerrors.ErrTargetClosed
	}
	return d.browser, nil
}

func (d *PlaywrightDriver) NewContext(ctx context.Context, params NewContextParams) (Handle, error) {
	browser, err := d.activeBrowser()
	if err != nil {
		return nil, err
	}

	opts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1920, Height: 1080},
	}
	if params.Proxy != "" {
		opts.Proxy = &playwright.Proxy{Server: params.Proxy}
	}

	storageStateFile := ""
	if params.StoragePath != "" {
		storageStateFile = filepath.Join(params.StoragePath, "storage_state.json")
		if fileExists(storageStateFile) {
			opts.StorageStatePath = playwright.String(storageStateFile)
		}
	}

	bctx, err := browser.NewContext(opts)
	if err != nil {
		if isTargetClosed(err) {
			return nil, apxerrors.ErrTargetClosed
		}
		return nil, fmt.Errorf("creating browser context: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		if isTargetClosed(err) {
			return nil, apxerrors.ErrTargetClosed
		}
		return nil, fmt.Errorf("creating page: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
	}

	return &playwrightHandle{
		id:          fmt.Sprintf("ctx-%d", time.Now().UnixNano()),
		bctx:        bctx,
		page:        page,
		storagePath: params.StoragePath,
	}, nil
}

func (d *PlaywrightDriver) CloseContext(ctx context.Context, h Handle) error {
	ph, ok := h.(*playwrightHandle)
	if !ok || ph == nil {
		return nil
	}

	if ph.storagePath != "" {
		storageStateFile := filepath.Join(ph.storagePath, "storage_state.json")
		if _, err := ph.bctx.StorageState(storageStateFile); err != nil {
			logger.Warn("failed to persist storage state", zap.Error(err), zap.String("context_id", ph.id))
		}
	}

	return ph.bctx.Close()
}

func (d *PlaywrightDriver) Execute(ctx context.Context, h Handle, req *scraperequest.Request) (*scraperesult.Result, error) {
	ph, ok := h.(*playwrightHandle)
	if !ok || ph == nil {
		return nil, apxerrors.ErrDriverError
	}

	timeout := executeDeadline(req)
	ph.page.SetDefaultTimeout(float64(timeout.Milliseconds()))
	ph.page.SetDefaultNavigationTimeout(float64(timeout.Milliseconds()))

	if req.WantsBlockedResources() {
		ph.page.Route("**/*.{png,jpg,jpeg,gif,svg,woff,woff2,ttf,css}", func(route playwright.Route) {
			route.Abort()
		})
	}

	resp, err := ph.page.Goto(req.URL, playwright.PageGotoOptions{
		WaitUntil: waitUntilState(req.WaitFor),
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if isTargetClosed(err) {
			return nil, apxerrors.ErrTargetClosed
		}
		if strings.Contains(err.Error(), "Timeout") {
			return scraperesult.Failed(req.URL, ph.id, apxerrors.ErrScrapeTimeout), apxerrors.ErrScrapeTimeout
		}
		return scraperesult.Failed(req.URL, ph.id, apxerrors.Wrap(apxerrors.ErrDriverError, err.Error())), apxerrors.Wrap(apxerrors.ErrDriverError, err.Error())
	}

	result := &scraperesult.Result{Success: true, URL: req.URL, ContextID: ph.id}
	if resp != nil {
		status := resp.Status()
		result.Status = &status
	}

	if req.Script != "" {
		scriptResult, err := ph.page.Evaluate(req.Script)
		if err != nil {
			if isTargetClosed(err) {
				return nil, apxerrors.ErrTargetClosed
			}
			return scraperesult.Failed(req.URL, ph.id, apxerrors.Wrap(apxerrors.ErrDriverError, err.Error())), apxerrors.Wrap(apxerrors.ErrDriverError, err.Error())
		}
		result.ScriptResult = scriptResult
	}

	if req.WantsContent() {
		content, err := ph.page.Content()
		if err != nil {
			if isTargetClosed(err) {
				return nil, apxerrors.ErrTargetClosed
			}
			return scraperesult.Failed(req.URL, ph.id, apxerrors.Wrap(apxerrors.ErrDriverError, err.Error())), apxerrors.Wrap(apxerrors.ErrDriverError, err.Error())
		}
		result.Content = &content
	}

	if req.Screenshot {
		shot, err := ph.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
		if err != nil {
			if isTargetClosed(err) {
				return nil, apxerrors.ErrTargetClosed
			}
			return scraperesult.Failed(req.URL, ph.id, apxerrors.Wrap(apxerrors.ErrDriverError, err.Error())), apxerrors.Wrap(apxerrors.ErrDriverError, err.Error())
		}
		encoded := encodeBase64(shot)
		result.Screenshot = &encoded
	}

	return result, nil
}

func waitUntilState(w scraperequest.WaitUntil) *playwright.WaitUntilState {
	var state playwright.WaitUntilState
	switch w {
	case scraperequest.WaitDOMContentLoaded:
		state = playwright.WaitUntilStateDomcontentloaded
	case scraperequest.WaitNetworkIdle:
		state = playwright.WaitUntilStateNetworkidle
	default:
		state = playwright.WaitUntilStateLoad
	}
	return &state
}

// isTargetClosed reports whether err represents a browser-process-level
// failure rather than an ordinary navigation error (spec.md §4.6).
func isTargetClosed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"target closed", "target page, context or browser has been closed", "browser has been closed", "connection closed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
