// MockBrowser 基于静态 HTML 文档的浏览器模拟实现。
//
// 选择器通过 goquery 文档解析，支持按调用顺序注入错误、替换页面内容与脚本结果。
package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/BaSui01/autoheal/agent/browser"
)

// DefaultURL 是模拟页面的初始地址
const DefaultURL = "https://app.example.test/login"

// Browser method names recorded by MockBrowser.
const (
	CallExecute        = "Execute"
	CallGetState       = "GetState"
	CallResolve        = "Resolve"
	CallEvaluate       = "EvaluateScript"
	CallScreenshot     = "Screenshot"
	CallNavigate       = "Navigate"
	CallReload         = "Reload"
	CallCurrentURL     = "CurrentURL"
	CallClearCookies   = "ClearCookies"
	CallClearCache     = "ClearCache"
	CallRestartContext = "RestartContext"
	CallClose          = "Close"
)

// MockBrowser 是 browser.Browser 的模拟实现
type MockBrowser struct {
	mu sync.Mutex

	doc        *browser.Document
	html       string
	url        string
	viewport   browser.Viewport
	screenshot []byte

	// 错误注入
	executeErrs []error          // Execute 依次返回的错误，nil 表示走正常逻辑
	methodErrs  map[string]error // 指定方法总是返回的错误

	executeFunc func(ctx context.Context, cmd browser.BrowserCommand) (*browser.BrowserResult, error)
	scriptFunc  func(ctx context.Context, script string) (any, error)

	calls []string
}

// NewMockBrowser 创建基于 html 的模拟浏览器
func NewMockBrowser(html string) *MockBrowser {
	m := &MockBrowser{
		url:        DefaultURL,
		viewport:   browser.Viewport{Width: 1280, Height: 720},
		methodErrs: make(map[string]error),
	}
	m.setHTML(html)
	return m
}

func (m *MockBrowser) setHTML(html string) {
	doc, err := browser.ParseDocument(m.url, html, m.viewport)
	if err != nil {
		panic(fmt.Sprintf("mocks: invalid fixture HTML: %v", err))
	}
	m.doc = doc
	m.html = html
}

// WithHTML 替换页面内容（模拟 DOM 变化）
func (m *MockBrowser) WithHTML(html string) *MockBrowser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setHTML(html)
	return m
}

// WithScreenshot 设置截图内容
func (m *MockBrowser) WithScreenshot(png []byte) *MockBrowser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenshot = png
	return m
}

// WithExecuteErrors 设置 Execute 依次返回的错误
func (m *MockBrowser) WithExecuteErrors(errs ...error) *MockBrowser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeErrs = append(m.executeErrs, errs...)
	return m
}

// WithError 让指定方法总是返回 err
func (m *MockBrowser) WithError(method string, err error) *MockBrowser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methodErrs[method] = err
	return m
}

// WithExecuteFunc 自定义 Execute 行为
func (m *MockBrowser) WithExecuteFunc(fn func(ctx context.Context, cmd browser.BrowserCommand) (*browser.BrowserResult, error)) *MockBrowser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeFunc = fn
	return m
}

// WithScriptFunc 自定义脚本执行结果，返回值按 JSON 解码到调用方的 out
func (m *MockBrowser) WithScriptFunc(fn func(ctx context.Context, script string) (any, error)) *MockBrowser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scriptFunc = fn
	return m
}

// --- browser.Browser 实现 ---

// Execute 在文档上校验目标元素后返回成功
func (m *MockBrowser) Execute(ctx context.Context, cmd browser.BrowserCommand) (*browser.BrowserResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, CallExecute)
	var queued error
	hasQueued := len(m.executeErrs) > 0
	if hasQueued {
		queued = m.executeErrs[0]
		m.executeErrs = m.executeErrs[1:]
	}
	fn := m.executeFunc
	forced := m.methodErrs[CallExecute]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if queued != nil {
		return nil, queued
	}
	if forced != nil {
		return nil, forced
	}
	if fn != nil {
		return fn(ctx, cmd)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch cmd.Action {
	case browser.ActionNavigate:
		m.url = cmd.Value
	case browser.ActionClick, browser.ActionType, browser.ActionHover, browser.ActionSelect, browser.ActionExtract:
		res, err := m.doc.Resolve(cmd.Selector)
		if err != nil {
			return nil, err
		}
		if !res.Found() {
			return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, cmd.Selector)
		}
		if !res.Element.Visible || !res.Element.Interactable {
			return nil, fmt.Errorf("%w: %s", browser.ErrElementNotInteractable, cmd.Selector)
		}
		if cmd.Action == browser.ActionExtract {
			data, _ := json.Marshal(res.Element.Text)
			return &browser.BrowserResult{Success: true, Action: cmd.Action, Data: data, URL: m.url}, nil
		}
	}
	return &browser.BrowserResult{Success: true, Action: cmd.Action, URL: m.url}, nil
}

// GetState 返回文档状态
func (m *MockBrowser) GetState(ctx context.Context) (*browser.PageState, error) {
	if err := m.enter(ctx, CallGetState); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.doc.State()
	state.URL = m.url
	return state, nil
}

// Resolve 在文档上解析选择器
func (m *MockBrowser) Resolve(ctx context.Context, selector string) (*browser.Resolution, error) {
	if err := m.enter(ctx, CallResolve); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Resolve(selector)
}

// EvaluateScript 调用自定义脚本函数
func (m *MockBrowser) EvaluateScript(ctx context.Context, script string, out any) error {
	if err := m.enter(ctx, CallEvaluate); err != nil {
		return err
	}
	m.mu.Lock()
	fn := m.scriptFunc
	m.mu.Unlock()
	if fn == nil {
		return errors.New("mocks: no script handler configured")
	}
	v, err := fn(ctx, script)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Screenshot 返回预设截图
func (m *MockBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	if err := m.enter(ctx, CallScreenshot); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screenshot == nil {
		return nil, errors.New("mocks: no screenshot configured")
	}
	return m.screenshot, nil
}

// Navigate 记录导航地址
func (m *MockBrowser) Navigate(ctx context.Context, url string) error {
	if err := m.enter(ctx, CallNavigate); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	return nil
}

// Reload 刷新页面
func (m *MockBrowser) Reload(ctx context.Context) error { return m.enter(ctx, CallReload) }

// CurrentURL 返回当前地址
func (m *MockBrowser) CurrentURL(ctx context.Context) (string, error) {
	if err := m.enter(ctx, CallCurrentURL); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url, nil
}

// ClearCookies 清除 Cookie
func (m *MockBrowser) ClearCookies(ctx context.Context) error { return m.enter(ctx, CallClearCookies) }

// ClearCache 清除缓存
func (m *MockBrowser) ClearCache(ctx context.Context) error { return m.enter(ctx, CallClearCache) }

// RestartContext 重建页面
func (m *MockBrowser) RestartContext(ctx context.Context) error {
	return m.enter(ctx, CallRestartContext)
}

// Close 关闭浏览器
func (m *MockBrowser) Close() error { return m.enter(context.Background(), CallClose) }

// enter 记录调用并返回注入的错误
func (m *MockBrowser) enter(ctx context.Context, method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.methodErrs[method]
}

// --- 调用记录 ---

// Calls 返回按顺序记录的方法调用
func (m *MockBrowser) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回指定方法的调用次数
func (m *MockBrowser) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

var _ browser.Browser = (*MockBrowser)(nil)
