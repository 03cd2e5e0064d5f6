package embedded

import (
	"embed"
)

// Content 包含内嵌的默认配置和签名规则。
// 外部文件不存在时作为回退使用。
//
//go:embed config/*.yaml
//go:embed rules/*.yar
var Content embed.FS

// DefaultConfig 是内嵌默认配置在 Content 中的路径
const DefaultConfig = "config/panoptes.yaml"

// RulesDir 是内嵌规则目录
const RulesDir = "rules"
