package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidBlock = errors.New("invalid plugin result block")

// ValidateBlock 检查类型化的块：Result 不能为 nil（空切片合法）。
// plugin 只要求是字符串，空名字同样接受。合法时顺便把越界的 severity 归一为 info。
func ValidateBlock(b *Block) error {
	if b == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}
	if b.Result == nil {
		return fmt.Errorf("%w: missing result", ErrInvalidBlock)
	}
	for i := range b.Result {
		b.Result[i].Severity = ParseSeverity(b.Result[i].Severity.String())
	}
	return nil
}

// ValidateRaw 校验外部插件的原始输出（JSON 字节或已解码的值）。
// 只有包含字符串 plugin 与数组 result 的对象才被接受。
func ValidateRaw(raw any) (*Block, error) {
	switch t := raw.(type) {
	case []byte:
		var v any
		if err := json.Unmarshal(t, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
		}
		raw = v
	case json.RawMessage:
		return ValidateRaw([]byte(t))
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: not an object (%T)", ErrInvalidBlock, raw)
	}
	if _, ok := m["plugin"].(string); !ok {
		return nil, fmt.Errorf("%w: missing plugin", ErrInvalidBlock)
	}
	if _, ok := m["result"].([]any); !ok {
		return nil, fmt.Errorf("%w: missing result", ErrInvalidBlock)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	if err := ValidateBlock(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Predicate 判断一条 result 文本是否表示“无发现”
type Predicate func(result string) bool

// PrefixPredicate 以任一前缀开头即视为无发现；空前缀被忽略
func PrefixPredicate(prefixes ...string) Predicate {
	var ps []string
	for _, p := range prefixes {
		if p != "" {
			ps = append(ps, p)
		}
	}
	return func(result string) bool {
		for _, p := range ps {
			if strings.HasPrefix(result, p) {
				return true
			}
		}
		return false
	}
}

// CountFindings 统计 severity 不是 info 且不是“无发现”文本的条目数
func CountFindings(blocks []*Block, noFindings Predicate) int {
	n := 0
	for _, b := range blocks {
		if b == nil {
			continue
		}
		for _, f := range b.Result {
			if f.Severity == SeverityInfo {
				continue
			}
			if noFindings != nil && noFindings(f.Result) {
				continue
			}
			n++
		}
	}
	return n
}

// SeverityCounts 按等级统计所有条目
func SeverityCounts(blocks []*Block) map[string]int {
	counts := map[string]int{}
	for _, name := range severityNames {
		counts[name] = 0
	}
	for _, b := range blocks {
		if b == nil {
			continue
		}
		for _, f := range b.Result {
			counts[f.Severity.String()]++
		}
	}
	return counts
}
