// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 botstream 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（BOTSTREAM_ 前缀）的顺序合成，
// Watcher 监听配置文件变更并在校验通过后重载。
package config
