// Package config 提供 autoheal 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → AUTOHEAL_* 环境变量 的顺序合并，
// 加载完成后立即执行 Validate，非法配置在构造期失败。
// 配置对象在注入各引擎后视为不可变。
package config
