// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package healing 在原选择器失效后重新生成可用的元素定位。

# 策略

修复由一组相互独立、无副作用的策略函数组成，每个策略产出零个或多个候选：

  - text：可见文本与期望文本的归一化编辑距离相似度
  - aria：无障碍名称（aria-label / title / placeholder / alt）相似度
  - attributes：失效选择器的 id/class/属性片段与元素属性的 Jaccard 重合度
  - position：与上次已知包围盒中心的归一化欧氏距离
  - visual：前后截图对应区域的 8x8 灰度缩略图比较，细化位置候选
  - llm：页面结构摘要交给语言模型生成选择器（失败不影响其他策略）

策略并发执行，候选按选择器去重合并；多策略命中的候选按权重加权并获得一致性加成。
排名靠前的候选在实时页面上重新解析，只有唯一、可见、可交互且置信度达到阈值的
候选才会作为修复结果返回。每次修复尝试都会写入历史存储。
*/
package healing
