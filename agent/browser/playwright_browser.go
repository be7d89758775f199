package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BaSui01/autoheal/config"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// PlaywrightBrowser 基于 playwright-go 的 Browser 实现
//
// playwright 调用本身不接受 context；超时由 ctx 的截止时间换算为
// playwright 的毫秒超时参数传入。
type PlaywrightBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	config  config.BrowserConfig
	logger  *zap.Logger

	mu      sync.Mutex
	context playwright.BrowserContext
	page    playwright.Page
	lastURL string
}

// NewPlaywrightBrowser 启动 Chromium 并打开页面
func NewPlaywrightBrowser(cfg config.BrowserConfig, logger *zap.Logger) (*PlaywrightBrowser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	b := &PlaywrightBrowser{
		pw:      pw,
		browser: browser,
		config:  cfg,
		logger:  logger.With(zap.String("component", "playwright_browser")),
	}
	if err := b.newPage(); err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, err
	}

	b.logger.Info("playwright browser started",
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

// newPage 创建新的浏览器上下文与页面，调用方负责持有锁或处于构造阶段
func (b *PlaywrightBrowser) newPage() error {
	opts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: b.config.ViewportWidth, Height: b.config.ViewportHeight},
	}
	if b.config.UserAgent != "" {
		opts.UserAgent = playwright.String(b.config.UserAgent)
	}
	bctx, err := b.browser.NewContext(opts)
	if err != nil {
		return fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return fmt.Errorf("new page: %w", err)
	}
	if b.config.NavigationTimeout > 0 {
		page.SetDefaultNavigationTimeout(float64(b.config.NavigationTimeout.Milliseconds()))
	}
	b.context, b.page = bctx, page
	return nil
}

func (b *PlaywrightBrowser) currentPage() playwright.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page
}

// timeoutMS 将 ctx 剩余时间换算为 playwright 超时（毫秒）
func timeoutMS(ctx context.Context, fallback time.Duration) *float64 {
	d := fallback
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
		if d < time.Millisecond {
			d = time.Millisecond
		}
	}
	if d <= 0 {
		return nil
	}
	return playwright.Float(float64(d.Milliseconds()))
}

// Execute 执行浏览器命令
func (b *PlaywrightBrowser) Execute(ctx context.Context, cmd BrowserCommand) (*BrowserResult, error) {
	start := time.Now()
	result := &BrowserResult{Action: cmd.Action}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	page := b.currentPage()
	timeout := timeoutMS(ctx, 0)

	var err error
	switch cmd.Action {
	case ActionNavigate:
		err = b.Navigate(ctx, cmd.Value)
	case ActionClick:
		if err = b.requireElement(ctx, cmd.Selector); err == nil {
			err = page.Locator(cmd.Selector).First().Click(playwright.LocatorClickOptions{Timeout: timeout})
		}
	case ActionType:
		if err = b.requireElement(ctx, cmd.Selector); err == nil {
			err = page.Locator(cmd.Selector).First().Fill(cmd.Value, playwright.LocatorFillOptions{Timeout: timeout})
		}
	case ActionSelect:
		if err = b.requireElement(ctx, cmd.Selector); err == nil {
			_, err = page.Locator(cmd.Selector).First().SelectOption(
				playwright.SelectOptionValues{Values: &[]string{cmd.Value}},
				playwright.LocatorSelectOptionOptions{Timeout: timeout},
			)
		}
	case ActionHover:
		if err = b.requireElement(ctx, cmd.Selector); err == nil {
			err = page.Locator(cmd.Selector).First().Hover(playwright.LocatorHoverOptions{Timeout: timeout})
		}
	case ActionScroll:
		dy := 300.0 // 默认向下滚动
		if v, perr := strconv.ParseFloat(cmd.Options["delta_y"], 64); perr == nil {
			dy = v
		}
		err = page.Mouse().Wheel(0, dy)
	case ActionScreenshot:
		result.Screenshot, err = b.Screenshot(ctx)
	case ActionWait:
		err = page.Locator(cmd.Selector).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: timeout,
		})
	case ActionExtract:
		var text string
		if err = b.requireElement(ctx, cmd.Selector); err == nil {
			text, err = page.Locator(cmd.Selector).First().InnerText(playwright.LocatorInnerTextOptions{Timeout: timeout})
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
		_, err = page.GoBack(playwright.PageGoBackOptions{Timeout: timeout})
	case ActionForward:
		_, err = page.GoForward(playwright.PageGoForwardOptions{Timeout: timeout})
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
	result.URL = page.URL()
	return result, nil
}

func (b *PlaywrightBrowser) requireElement(ctx context.Context, selector string) error {
	res, err := b.Resolve(ctx, selector)
	if err != nil {
		return err
	}
	return checkResolution(res, selector)
}

// GetState 获取页面状态
func (b *PlaywrightBrowser) GetState(ctx context.Context) (*PageState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page := b.currentPage()

	state := &PageState{
		URL:      page.URL(),
		Viewport: Viewport{Width: b.config.ViewportWidth, Height: b.config.ViewportHeight},
	}
	var err error
	if state.Title, err = page.Title(); err != nil {
		return nil, fmt.Errorf("failed to read title: %w", err)
	}
	if state.HTML, err = page.Content(); err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	if err := b.EvaluateScript(ctx, snapshotScript(), &state.Elements); err != nil {
		return nil, fmt.Errorf("failed to snapshot elements: %w", err)
	}
	return state, nil
}

// Resolve 在实时页面上查询选择器
func (b *PlaywrightBrowser) Resolve(ctx context.Context, selector string) (*Resolution, error) {
	var raw resolveResult
	if err := b.EvaluateScript(ctx, resolveScript(selector), &raw); err != nil {
		return nil, err
	}
	return raw.toResolution()
}

// EvaluateScript 执行 JS 表达式，结果经 JSON 解码到 out
func (b *PlaywrightBrowser) EvaluateScript(ctx context.Context, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := b.currentPage().Evaluate(script)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode script result: %w", err)
	}
	return json.Unmarshal(data, out)
}

// Screenshot 截取视口截图（PNG）
func (b *PlaywrightBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	buf, err := b.currentPage().Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypePng,
		Timeout: timeoutMS(ctx, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// Navigate 导航到 URL
func (b *PlaywrightBrowser) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.logger.Debug("navigating", zap.String("url", url))
	_, err := b.currentPage().Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   timeoutMS(ctx, b.config.NavigationTimeout),
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	b.mu.Lock()
	b.lastURL = url
	b.mu.Unlock()
	return nil
}

// Reload 刷新页面
func (b *PlaywrightBrowser) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.currentPage().Reload(playwright.PageReloadOptions{
		Timeout: timeoutMS(ctx, b.config.NavigationTimeout),
	})
	return err
}

// CurrentURL 获取当前 URL
func (b *PlaywrightBrowser) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.currentPage().URL(), nil
}

// ClearCookies 清除浏览器上下文的 Cookie
func (b *PlaywrightBrowser) ClearCookies(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	bctx := b.context
	b.mu.Unlock()
	return bctx.ClearCookies()
}

// ClearCache 通过 CDP 会话清除浏览器缓存
func (b *PlaywrightBrowser) ClearCache(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	bctx, page := b.context, b.page
	b.mu.Unlock()

	session, err := bctx.NewCDPSession(page)
	if err != nil {
		return fmt.Errorf("open CDP session: %w", err)
	}
	defer func() { _ = session.Detach() }()

	_, err = session.Send("Network.clearBrowserCache", nil)
	return err
}

// RestartContext 关闭当前上下文，新建上下文并回到最后的 URL
func (b *PlaywrightBrowser) RestartContext(ctx context.Context) error {
	b.mu.Lock()
	url := b.page.URL()
	if url == "" || url == "about:blank" {
		url = b.lastURL
	}
	old := b.context
	err := b.newPage()
	b.mu.Unlock()
	if err != nil {
		return err
	}
	_ = old.Close()

	b.logger.Info("browser context restarted", zap.String("url", url))
	if url == "" {
		return nil
	}
	return b.Navigate(ctx, url)
}

// Close 关闭浏览器
func (b *PlaywrightBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Info("closing playwright browser")
	if b.context != nil {
		_ = b.context.Close()
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
	return b.pw.Stop()
}
