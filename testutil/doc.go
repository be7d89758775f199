// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 autoheal 测试的共享工具和辅助函数。

# 概述

testutil 包为各引擎的单元测试提供统一的辅助能力，避免各包重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor，支持超时轮询等待条件满足
  - 数据工具: MustJSON / Samples，简化历史样本构造
  - 截图构造: PNG / Region，生成视觉策略使用的灰度截图
  - 页面夹具: LoginPageHTML 等静态页面

# 子包

  - testutil/mocks: Mock 实现，包括 MockBrowser（基于 HTML 文档的浏览器）、
    MockCompleter（补全服务）、MockHistoryStore（历史存储），
    均支持 Builder 模式与错误注入

# 使用示例

	ctx := testutil.TestContext(t)
	b := mocks.NewMockBrowser(testutil.LoginPageHTML)
	res, err := b.Resolve(ctx, ".btn-login")
*/
package testutil
