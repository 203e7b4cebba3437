// internal/actuator/cdp.go
package actuator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/api/schemas"
	"github.com/tarvos-labs/deskpilot/internal/config"
)

// appTargets maps the application names the oracle proposes for open_app to
// navigable targets in the browser workspace.
var appTargets = map[string]string{
	"gmail":     "https://mail.google.com",
	"mail":      "https://mail.google.com",
	"calendar":  "https://calendar.google.com",
	"docs":      "https://docs.google.com",
	"sheets":    "https://sheets.google.com",
	"drive":     "https://drive.google.com",
	"youtube":   "https://www.youtube.com",
	"maps":      "https://maps.google.com",
	"github":    "https://github.com",
	"wikipedia": "https://www.wikipedia.org",
	"browser":   "about:blank",
}

// CDPActuator drives a Chrome instance over the DevTools Protocol. It
// implements both the Actuator and Capturer surfaces: raw input dispatch for
// actions and CaptureScreenshot for observations.
type CDPActuator struct {
	logger *zap.Logger
	cfg    config.ActuatorConfig

	// browserCtx is the session's master context; per-action contexts derive
	// their timeouts from the caller's context, not from this one.
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc

	width  int
	height int
}

var (
	_ schemas.Actuator = (*CDPActuator)(nil)
	_ schemas.Capturer = (*CDPActuator)(nil)
)

// NewCDPActuator launches (or attaches to) a browser and measures the
// viewport for coordinate validation.
func NewCDPActuator(ctx context.Context, cfg config.ActuatorConfig, logger *zap.Logger) (*CDPActuator, error) {
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", false),
			chromedp.WindowSize(1920, 1080),
		)
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	a := &CDPActuator{
		logger:        logger.Named("actuator.cdp"),
		cfg:           cfg,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}

	var dims []int
	if err := chromedp.Run(browserCtx,
		chromedp.Evaluate("[window.innerWidth, window.innerHeight]", &dims),
	); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}
	if len(dims) == 2 && dims[0] > 0 && dims[1] > 0 {
		a.width, a.height = dims[0], dims[1]
	} else {
		a.width, a.height = 1920, 1080
	}

	a.logger.Info("Browser session ready", zap.Int("width", a.width), zap.Int("height", a.height))
	return a, nil
}

// Bounds reports the display dimensions used for coordinate validation.
func (a *CDPActuator) Bounds() (int, int) { return a.width, a.height }

// Close tears the browser session down.
func (a *CDPActuator) Close() {
	if a.cancelBrowser != nil {
		a.cancelBrowser()
	}
	if a.cancelAlloc != nil {
		a.cancelAlloc()
	}
}

// Execute turns one abstract action into CDP input events. Failures are
// reported as *ActuatorError; timing always reflects the full dispatch.
func (a *CDPActuator) Execute(ctx context.Context, action schemas.Action) (schemas.ExecResult, error) {
	start := time.Now()
	err := a.dispatch(ctx, action)
	result := schemas.ExecResult{
		RawSuccess: err == nil,
		Latency:    time.Since(start),
	}
	return result, err
}

func (a *CDPActuator) dispatch(ctx context.Context, action schemas.Action) error {
	switch action.Kind {
	case schemas.ActionClick:
		return a.click(ctx, action.X, action.Y, input.Left, 1)
	case schemas.ActionDoubleClick:
		return a.click(ctx, action.X, action.Y, input.Left, 2)
	case schemas.ActionRightClick:
		return a.click(ctx, action.X, action.Y, input.Right, 1)
	case schemas.ActionDrag:
		return a.drag(ctx, action)
	case schemas.ActionScroll:
		return a.scroll(ctx, action)
	case schemas.ActionTypeText:
		return a.typeText(ctx, action.Text)
	case schemas.ActionHotkey:
		return a.hotkey(ctx, action.Keys)
	case schemas.ActionWait:
		return a.run(ctx, time.Duration(action.DurationMs)*time.Millisecond+a.cfg.ActionTimeout,
			chromedp.Sleep(time.Duration(action.DurationMs)*time.Millisecond))
	case schemas.ActionOpenApp:
		return a.openApp(ctx, action.App)
	case schemas.ActionExplore, schemas.ActionVerify, schemas.ActionDone:
		// Bookkeeping kinds carry no input events; the next capture
		// satisfies them.
		return nil
	default:
		return &schemas.ActuatorError{
			Reason: schemas.ActuatorTargetUnreachable,
			Err:    fmt.Errorf("unsupported action kind %q", action.Kind),
		}
	}
}

func (a *CDPActuator) click(ctx context.Context, x, y int, button input.MouseButton, clicks int) error {
	fx, fy := float64(x), float64(y)
	press := input.DispatchMouseEvent(input.MousePressed, fx, fy).
		WithButton(button).
		WithClickCount(int64(clicks))
	release := input.DispatchMouseEvent(input.MouseReleased, fx, fy).
		WithButton(button).
		WithClickCount(int64(clicks))
	return a.run(ctx, a.cfg.ActionTimeout, press, release)
}

func (a *CDPActuator) drag(ctx context.Context, action schemas.Action) error {
	fx, fy := float64(action.X), float64(action.Y)
	tx, ty := float64(action.ToX), float64(action.ToY)
	return a.run(ctx, a.cfg.ActionTimeout,
		input.DispatchMouseEvent(input.MousePressed, fx, fy).WithButton(input.Left).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseMoved, (fx+tx)/2, (fy+ty)/2),
		input.DispatchMouseEvent(input.MouseMoved, tx, ty),
		input.DispatchMouseEvent(input.MouseReleased, tx, ty).WithButton(input.Left).WithClickCount(1),
	)
}

func (a *CDPActuator) scroll(ctx context.Context, action schemas.Action) error {
	// Positive Amount scrolls up; CDP wheel deltas grow downward.
	wheel := input.DispatchMouseEvent(input.MouseWheel, float64(a.width)/2, float64(a.height)/2).
		WithDeltaX(0).
		WithDeltaY(float64(-action.Amount))
	return a.run(ctx, a.cfg.ActionTimeout, wheel)
}

func (a *CDPActuator) typeText(ctx context.Context, text string) error {
	// KeyEvent synthesizes per-rune key events; a short gap between runes
	// keeps change handlers in slow UIs from dropping characters.
	actions := make([]chromedp.Action, 0, 2*len(text))
	for _, r := range text {
		actions = append(actions, chromedp.KeyEvent(string(r)))
		if a.cfg.TypeDelay > 0 {
			actions = append(actions, chromedp.Sleep(a.cfg.TypeDelay))
		}
	}
	timeout := a.cfg.ActionTimeout + time.Duration(len(text))*a.cfg.TypeDelay
	return a.run(ctx, timeout, actions...)
}

func (a *CDPActuator) hotkey(ctx context.Context, keys []string) error {
	modifiers, key, err := comboToCDP(keys)
	if err != nil {
		return &schemas.ActuatorError{Reason: schemas.ActuatorTargetUnreachable, Err: err}
	}
	keyDown := input.DispatchKeyEvent(input.KeyDown).WithModifiers(modifiers).WithKey(key)
	keyUp := input.DispatchKeyEvent(input.KeyUp).WithModifiers(modifiers).WithKey(key)
	return a.run(ctx, a.cfg.ActionTimeout, keyDown, keyUp)
}

func (a *CDPActuator) openApp(ctx context.Context, app string) error {
	name := strings.ToLower(strings.TrimSpace(app))
	target, ok := appTargets[name]
	if !ok {
		// Unknown names that look like URLs are navigated directly.
		if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
			target = name
		} else {
			return &schemas.ActuatorError{
				Reason: schemas.ActuatorTargetUnreachable,
				Err:    fmt.Errorf("no target known for application %q", app),
			}
		}
	}
	return a.run(ctx, a.cfg.ActionTimeout, chromedp.Navigate(target))
}

// Capture takes a screenshot of the current viewport.
func (a *CDPActuator) Capture(ctx context.Context) (schemas.Observation, error) {
	var buf []byte
	err := a.run(ctx, a.cfg.ActionTimeout, chromedp.ActionFunc(func(cctx context.Context) error {
		var cerr error
		buf, cerr = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(cctx)
		return cerr
	}))
	if err != nil {
		return schemas.Observation{}, &schemas.CaptureError{
			Reason: schemas.CaptureDisplayUnavailable,
			Err:    err,
		}
	}
	return schemas.NewObservation(buf, a.width, a.height), nil
}

// run executes CDP actions against the browser session with a per-call
// timeout derived from the caller's context.
func (a *CDPActuator) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	opCtx, cancel := context.WithTimeout(a.browserCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(opCtx, actions...) }()

	select {
	case err := <-done:
		if err != nil {
			if opCtx.Err() == context.DeadlineExceeded {
				return &schemas.ActuatorError{
					Reason: schemas.ActuatorDeviceBusy,
					Err:    fmt.Errorf("dispatch timed out after %v: %w", timeout, err),
				}
			}
			return &schemas.ActuatorError{Reason: schemas.ActuatorTargetUnreachable, Err: err}
		}
		return nil
	case <-ctx.Done():
		// The in-flight dispatch runs to its own timeout; cancellation is
		// honored between actions, not mid-action.
		err := <-done
		if err != nil {
			return &schemas.ActuatorError{Reason: schemas.ActuatorTargetUnreachable, Err: err}
		}
		return nil
	}
}
