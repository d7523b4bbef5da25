// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 botstream 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertErrorCode
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 流辅助: ReadAllContext 读尽 body，ChunkedReader 模拟部分读，
    RandomBytes 生成可复现的测试数据
  - 基准辅助: BenchmarkHelper 封装 testing.B 常用操作

# 使用示例

	ctx := testutil.TestContext(t)
	resp, err := conn.SendRequest(ctx, req)
	require.NoError(t, err)
	body := testutil.ReadAllContext(t, ctx, resp.Streams[0])
*/
package testutil
