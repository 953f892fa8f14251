package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"guideflow/internal/logging"
	"guideflow/internal/utils"
)

// ChromeOptions configures the chromedp-backed driver.
type ChromeOptions struct {
	Headless    bool
	UserDataDir string
	// WindowWidth/WindowHeight set the viewport; zero uses 1280x900.
	WindowWidth  int
	WindowHeight int
}

// ChromeDriver drives a dedicated Chrome instance. One driver per session;
// the browser is never shared.
type ChromeDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      logging.Logger
}

// NewChromeDriver launches a browser and returns the driver bound to it.
func NewChromeDriver(opts ChromeOptions) (*ChromeDriver, error) {
	width, height := opts.WindowWidth, opts.WindowHeight
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 900
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(width, height),
	)
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so construction fails fast when Chrome is
	// missing.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return &ChromeDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		logger:      utils.NewComponentLogger("ChromeDriver"),
	}, nil
}

// Close shuts the browser down.
func (d *ChromeDriver) Close() error {
	d.cancel()
	d.allocCancel()
	return nil
}

func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := d.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(d.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

// Navigate implements Driver.
func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body")); err != nil {
		return &DriverError{Kind: ErrNavigationFailed, Message: fmt.Sprintf("navigate %s", url), Err: err}
	}
	return nil
}

// markTargetJS locates an element by accessible label and tags it with a
// data attribute so subsequent chromedp selectors can address it. Returns
// "ok", "not_found", "not_visible", or "type_mismatch".
const markTargetJS = `(function(label, wantField) {
	const norm = s => (s || '').trim().toLowerCase();
	const target = norm(label);
	const visible = el => !!(el.offsetParent || el.getClientRects().length);
	document.querySelectorAll('[data-guideflow-target]').forEach(el => el.removeAttribute('data-guideflow-target'));

	const labelText = el => {
		if (el.id) {
			const lab = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (lab) return lab.textContent;
		}
		const wrap = el.closest('label');
		if (wrap) return wrap.textContent;
		return el.getAttribute('aria-label') || el.getAttribute('placeholder') || el.getAttribute('name') || el.textContent || el.value;
	};

	const selector = wantField ? 'input, select, textarea, [contenteditable]' : 'button, a, input[type=submit], input[type=button], [role=button], [role=option], [role=menuitem], li, label, span, div';
	let fallback = null;
	for (const el of document.querySelectorAll(selector)) {
		const text = norm(labelText(el));
		if (!text) continue;
		if (text === target || text.includes(target)) {
			if (!visible(el)) { fallback = fallback || el; continue; }
			if (wantField && el.tagName === 'SELECT') {
				el.setAttribute('data-guideflow-target', '1');
				return 'type_mismatch';
			}
			el.setAttribute('data-guideflow-target', '1');
			return 'ok';
		}
	}
	return fallback ? 'not_visible' : 'not_found';
})(%q, %t)`

func (d *ChromeDriver) markTarget(ctx context.Context, label string, wantField bool) error {
	var status string
	expr := fmt.Sprintf(markTargetJS, label, wantField)
	if err := d.run(ctx, chromedp.Evaluate(expr, &status)); err != nil {
		return &DriverError{Kind: ErrOther, Message: "locate " + label, Err: err}
	}
	switch status {
	case "ok":
		return nil
	case "not_visible":
		return &DriverError{Kind: ErrNotVisible, Message: fmt.Sprintf("element %q is not visible", label)}
	case "type_mismatch":
		return &DriverError{Kind: ErrTypeMismatch, Message: fmt.Sprintf("element %q is a picker, not a text field", label)}
	default:
		return &DriverError{Kind: ErrNotFound, Message: fmt.Sprintf("no element matches %q", label)}
	}
}

// Click implements Driver.
func (d *ChromeDriver) Click(ctx context.Context, label string) error {
	if err := d.markTarget(ctx, label, false); err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.Click(`[data-guideflow-target]`, chromedp.ByQuery)); err != nil {
		return &DriverError{Kind: ErrOther, Message: "click " + label, Err: err}
	}
	return nil
}

// Type implements Driver.
func (d *ChromeDriver) Type(ctx context.Context, label, text string) error {
	if err := d.markTarget(ctx, label, true); err != nil {
		return err
	}
	err := d.run(ctx,
		chromedp.Click(`[data-guideflow-target]`, chromedp.ByQuery),
		chromedp.Clear(`[data-guideflow-target]`, chromedp.ByQuery),
		chromedp.SendKeys(`[data-guideflow-target]`, text, chromedp.ByQuery),
	)
	if err != nil {
		return &DriverError{Kind: ErrOther, Message: "type into " + label, Err: err}
	}
	return nil
}

// Press implements Driver.
func (d *ChromeDriver) Press(ctx context.Context, key string) error {
	seq, ok := namedKeys[strings.ToLower(key)]
	if !ok {
		if len([]rune(key)) != 1 {
			return &DriverError{Kind: ErrOther, Message: fmt.Sprintf("unknown key %q", key)}
		}
		seq = key
	}
	if err := d.run(ctx, chromedp.KeyEvent(seq)); err != nil {
		return &DriverError{Kind: ErrOther, Message: "press " + key, Err: err}
	}
	return nil
}

var namedKeys = map[string]string{
	"enter":     kb.Enter,
	"escape":    kb.Escape,
	"esc":       kb.Escape,
	"tab":       kb.Tab,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"arrowup":   kb.ArrowUp,
	"arrowdown": kb.ArrowDown,
	"pageup":    kb.PageUp,
	"pagedown":  kb.PageDown,
}

// Screenshot implements Driver.
func (d *ChromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, &DriverError{Kind: ErrOther, Message: "screenshot", Err: err}
	}
	return buf, nil
}

// DOMHTML implements Driver.
func (d *ChromeDriver) DOMHTML(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", &DriverError{Kind: ErrOther, Message: "capture DOM", Err: err}
	}
	return html, nil
}

// CurrentURL implements Driver.
func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", &DriverError{Kind: ErrOther, Message: "read location", Err: err}
	}
	return url, nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// quiescenceJS resolves once no DOM mutations occur for quietMs or capMs
// elapses, then waits a double animation-frame barrier so layout from the
// last mutation has been painted.
const quiescenceJS = `new Promise(resolve => {
	const quiet = %d, cap = %d;
	let timer = null;
	const done = () => {
		observer.disconnect();
		requestAnimationFrame(() => requestAnimationFrame(() => resolve(true)));
	};
	const arm = () => {
		if (timer) clearTimeout(timer);
		timer = setTimeout(done, quiet);
	};
	const observer = new MutationObserver(arm);
	observer.observe(document.documentElement, {childList: true, subtree: true, attributes: true, characterData: true});
	arm();
	setTimeout(done, cap);
})`

// WaitQuiescent implements Driver. Network quiescence is approximated by
// waiting for document.readyState === "complete" bounded by the page-load
// timeout; DOM quiescence runs the MutationObserver wait in the page.
func (d *ChromeDriver) WaitQuiescent(ctx context.Context, opts QuiescenceOptions) error {
	loadTimeout := opts.PageLoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = 30 * time.Second
	}
	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	pollErr := d.run(loadCtx, chromedp.Poll(`document.readyState === "complete"`, nil,
		chromedp.WithPollingInterval(50*time.Millisecond)))
	if pollErr != nil && loadCtx.Err() != nil {
		d.logger.Warn("page load wait hit %s cap, continuing", loadTimeout)
	} else if pollErr != nil {
		return &DriverError{Kind: ErrTimeout, Message: "wait for page load", Err: pollErr}
	}

	quiet := opts.QuietWindow
	if quiet <= 0 {
		quiet = 350 * time.Millisecond
	}
	cap := opts.Cap
	if cap <= 0 {
		cap = 1200 * time.Millisecond
	}
	expr := fmt.Sprintf(quiescenceJS, quiet.Milliseconds(), cap.Milliseconds())
	var settled bool
	if err := d.run(ctx, chromedp.Evaluate(expr, &settled, awaitPromise)); err != nil {
		return &DriverError{Kind: ErrTimeout, Message: "wait for DOM quiescence", Err: err}
	}
	return nil
}
