// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package classifier 将执行失败映射为错误类别、置信度与默认恢复动作。

# 核心能力

  - 有序启发式规则：基于错误类型名与小写消息的子串/正则匹配
  - 每条规则携带固定置信度（0.75 - 0.95），未命中时返回 Unknown (0.5)
  - 提示信息（动作、选择器、URL）用于细化含糊的超时错误
  - 不可变的 类别 → 默认动作 表，作为学习排序之前的先验

# 使用方式

	c := classifier.New(classifier.WithLogger(logger))
	cls := c.Classify(err, &classifier.Hints{Action: "click"})
	if cls.IsRecoverable() {
		// 交给恢复引擎
	}
*/
package classifier
