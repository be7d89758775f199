package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BaSui01/autoheal/config"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeDPBrowser 基于 chromedp 的 Browser 实现
type ChromeDPBrowser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	config      config.BrowserConfig
	logger      *zap.Logger

	mu      sync.Mutex
	lastURL string
}

// NewChromeDPBrowser 启动 Chrome 并创建首个标签页
func NewChromeDPBrowser(cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDPBrowser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "chromedp_browser"))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	b := &ChromeDPBrowser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		config:      cfg,
		logger:      logger,
	}
	if err := b.newTab(); err != nil {
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Info("chromedp browser started",
		zap.Bool("headless", cfg.Headless),
		zap.Int("viewport_w", cfg.ViewportWidth),
		zap.Int("viewport_h", cfg.ViewportHeight))

	if cfg.StartURL != "" {
		if err := b.Navigate(context.Background(), cfg.StartURL); err != nil {
			_ = b.Close()
			return nil, err
		}
	}
	return b, nil
}

// newTab 创建新的标签页上下文，调用方负责持有锁或处于构造阶段
func (b *ChromeDPBrowser) newTab() error {
	tabCtx, tabCancel := chromedp.NewContext(b.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			b.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return err
	}
	b.tabCtx, b.tabCancel = tabCtx, tabCancel
	return nil
}

// run 在当前标签页上执行动作，并让调用方的 ctx 控制取消与超时
func (b *ChromeDPBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	b.mu.Lock()
	tab := b.tabCtx
	b.mu.Unlock()

	runCtx, cancel := context.WithCancel(tab)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Execute 执行浏览器命令
func (b *ChromeDPBrowser) Execute(ctx context.Context, cmd BrowserCommand) (*BrowserResult, error) {
	start := time.Now()
	result := &BrowserResult{Action: cmd.Action}

	var err error
	switch cmd.Action {
	case ActionNavigate:
		err = b.Navigate(ctx, cmd.Value)
	case ActionClick:
		if err = b.requireElement(ctx, cmd.Selector); err == nil {
			err = b.run(ctx, chromedp.Click(cmd.Selector, chromedp.ByQuery, chromedp.NodeVisible))
		}
	case ActionType:
		if err = b.requireElement(ctx, cmd.Selector); err == nil {
			err = b.run(ctx,
				chromedp.Clear(cmd.Selector, chromedp.ByQuery),
				chromedp.SendKeys(cmd.Selector, cmd.Value, chromedp.ByQuery),
			)
		}
	case ActionSelect:
		if err = b.requireElement(ctx, cmd.Selector); err == nil {
			err = b.run(ctx, chromedp.SetValue(cmd.Selector, cmd.Value, chromedp.ByQuery))
		}
	case ActionHover:
		err = b.hover(ctx, cmd.Selector)
	case ActionScroll:
		dy := 300.0 // 默认向下滚动
		if v, perr := strconv.ParseFloat(cmd.Options["delta_y"], 64); perr == nil {
			dy = v
		}
		err = b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseWheel, 0, 0).
				WithDeltaX(0).
				WithDeltaY(dy).Do(ctx)
		}))
	case ActionScreenshot:
		result.Screenshot, err = b.Screenshot(ctx)
	case ActionWait:
		err = b.run(ctx, chromedp.WaitVisible(cmd.Selector, chromedp.ByQuery))
	case ActionExtract:
		var text string
		if err = b.requireElement(ctx, cmd.Selector); err == nil {
			err = b.run(ctx, chromedp.Text(cmd.Selector, &text, chromedp.ByQuery))
		}
		if err == nil {
			result.Data, err = json.Marshal(map[string]string{"text": text})
		}
	case ActionEvaluate:
		var out any
		if err = b.EvaluateScript(ctx, cmd.Value, &out); err == nil {
			result.Data, err = json.Marshal(out)
		}
	case ActionBack:
		err = b.run(ctx, chromedp.NavigateBack())
	case ActionForward:
		err = b.run(ctx, chromedp.NavigateForward())
	case ActionRefresh:
		err = b.Reload(ctx)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedAction, cmd.Action)
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	result.Success = true
	if url, urlErr := b.CurrentURL(ctx); urlErr == nil {
		result.URL = url
	}
	return result, nil
}

func (b *ChromeDPBrowser) requireElement(ctx context.Context, selector string) error {
	res, err := b.Resolve(ctx, selector)
	if err != nil {
		return err
	}
	return checkResolution(res, selector)
}

func (b *ChromeDPBrowser) hover(ctx context.Context, selector string) error {
	res, err := b.Resolve(ctx, selector)
	if err != nil {
		return err
	}
	if err := checkResolution(res, selector); err != nil {
		return err
	}
	box := res.Element.BoundingBox
	if box == nil {
		return fmt.Errorf("%w: %s has no layout", ErrElementNotInteractable, selector)
	}
	x, y := box.Center()
	return b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	}))
}

// GetState 获取页面状态
func (b *ChromeDPBrowser) GetState(ctx context.Context) (*PageState, error) {
	state := &PageState{
		Viewport: Viewport{Width: b.config.ViewportWidth, Height: b.config.ViewportHeight},
	}
	err := b.run(ctx,
		chromedp.Location(&state.URL),
		chromedp.Title(&state.Title),
		chromedp.OuterHTML("html", &state.HTML, chromedp.ByQuery),
		chromedp.Evaluate(snapshotScript(), &state.Elements),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture page state: %w", err)
	}
	return state, nil
}

// Resolve 在实时页面上查询选择器
func (b *ChromeDPBrowser) Resolve(ctx context.Context, selector string) (*Resolution, error) {
	var raw resolveResult
	if err := b.run(ctx, chromedp.Evaluate(resolveScript(selector), &raw)); err != nil {
		return nil, err
	}
	return raw.toResolution()
}

// EvaluateScript 执行 JS 表达式
func (b *ChromeDPBrowser) EvaluateScript(ctx context.Context, script string, out any) error {
	return b.run(ctx, chromedp.Evaluate(script, out))
}

// Screenshot 截取视口截图（PNG）
func (b *ChromeDPBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := b.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// Navigate 导航到 URL
func (b *ChromeDPBrowser) Navigate(ctx context.Context, url string) error {
	b.logger.Debug("navigating", zap.String("url", url))
	if b.config.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.NavigationTimeout)
		defer cancel()
	}
	if err := b.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	b.mu.Lock()
	b.lastURL = url
	b.mu.Unlock()
	return nil
}

// Reload 刷新页面
func (b *ChromeDPBrowser) Reload(ctx context.Context) error {
	return b.run(ctx, chromedp.Reload())
}

// CurrentURL 获取当前 URL
func (b *ChromeDPBrowser) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := b.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to get URL: %w", err)
	}
	return url, nil
}

// ClearCookies 清除浏览器 Cookie
func (b *ChromeDPBrowser) ClearCookies(ctx context.Context) error {
	return b.run(ctx, network.ClearBrowserCookies())
}

// ClearCache 清除浏览器缓存
func (b *ChromeDPBrowser) ClearCache(ctx context.Context) error {
	return b.run(ctx, network.ClearBrowserCache())
}

// RestartContext 关闭当前标签页，新建标签页并回到最后的 URL
func (b *ChromeDPBrowser) RestartContext(ctx context.Context) error {
	url, err := b.CurrentURL(ctx)
	if err != nil || url == "" || url == "about:blank" {
		b.mu.Lock()
		url = b.lastURL
		b.mu.Unlock()
	}

	b.mu.Lock()
	oldCancel := b.tabCancel
	err = b.newTab()
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to open new tab: %w", err)
	}
	oldCancel()

	b.logger.Info("browser context restarted", zap.String("url", url))
	if url == "" {
		return nil
	}
	return b.Navigate(ctx, url)
}

// Close 关闭浏览器
func (b *ChromeDPBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Info("closing chromedp browser")
	if b.tabCancel != nil {
		b.tabCancel()
	}
	b.allocCancel()
	return nil
}
