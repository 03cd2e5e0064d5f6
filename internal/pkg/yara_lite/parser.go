// Package yara_lite 是一个纯 Go 的简化 YARA 规则解析与匹配器，
// 支持 meta、文本/正则字符串以及 any/all/N of them 条件。
package yara_lite

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Rule 代表一个简化的 YARA 规则
type Rule struct {
	Name        string
	Tags        []string
	Meta        map[string]string
	Strings     []*regexp.Regexp
	StringNames []string
	// MinMatches 为满足条件所需的最少命中字符串数；-1 表示全部
	MinMatches int
}

// Severity 取 meta 中的 severity，缺省为 info
func (r Rule) Severity() string {
	if s := r.Meta["severity"]; s != "" {
		return s
	}
	return "info"
}

// Match 是一条规则的命中结果
type Match struct {
	Rule        string
	Severity    string
	Description string
	Strings     []string
	Snippets    []string
}

// Scanner 是 YARA-Lite 扫描器
type Scanner struct {
	Rules []Rule
}

// NewScanner 加载 fsys 中 ruleDir 下所有 .yar 文件。
// 单个文件解析失败不会中断加载，错误合并后一并返回。
func NewScanner(fsys fs.FS, ruleDir string) (*Scanner, error) {
	entries, err := fs.ReadDir(fsys, ruleDir)
	if err != nil {
		return nil, err
	}

	scanner := &Scanner{}
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yar") {
			continue
		}
		// fs.FS 只接受正斜杠
		p := path.Join(ruleDir, entry.Name())
		f, err := fsys.Open(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules, err := Parse(f)
		f.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}
		scanner.Rules = append(scanner.Rules, rules...)
	}
	return scanner, errors.Join(errs...)
}

// Scan 返回命中的规则，按规则名排序
func (s *Scanner) Scan(content []byte) []Match {
	var matches []Match
	for _, rule := range s.Rules {
		var names, snippets []string
		for i, re := range rule.Strings {
			if loc := re.FindIndex(content); loc != nil {
				names = append(names, rule.StringNames[i])
				snippets = append(snippets, snippet(content, loc))
			}
		}
		if !satisfied(rule, len(names)) {
			continue
		}
		matches = append(matches, Match{
			Rule:        rule.Name,
			Severity:    rule.Severity(),
			Description: rule.Meta["description"],
			Strings:     names,
			Snippets:    snippets,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Rule < matches[j].Rule })
	return matches
}

func satisfied(rule Rule, hits int) bool {
	if hits == 0 {
		return false
	}
	if rule.MinMatches < 0 {
		return hits == len(rule.Strings)
	}
	return hits >= rule.MinMatches
}

func snippet(content []byte, loc []int) string {
	const max = 80
	end := loc[1]
	if end-loc[0] > max {
		end = loc[0] + max
	}
	return strings.ToValidUTF8(string(content[loc[0]:end]), "")
}

var (
	reRuleStart = regexp.MustCompile(`^(?:private\s+|global\s+)*rule\s+([\w]+)\s*(?::\s*([\w\s]+?))?\s*\{?$`)
	reString    = regexp.MustCompile(`^(\$[\w]*)\s*=\s*(.+)$`)
	reMeta      = regexp.MustCompile(`^([\w]+)\s*=\s*(.+)$`)
	reNOf       = regexp.MustCompile(`^(\d+)\s+of\s+(them|\(\s*\$\*\s*\))$`)
)

type section int

const (
	sectionNone section = iota
	sectionMeta
	sectionStrings
	sectionCondition
)

// Parse 解析一段 .yar 文本
func Parse(r io.Reader) ([]Rule, error) {
	var rules []Rule
	var current *Rule
	sec := sectionNone
	lineNo := 0

	flush := func() {
		if current != nil {
			rules = append(rules, *current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "import ") {
			continue
		}

		if m := reRuleStart.FindStringSubmatch(line); m != nil {
			flush()
			current = &Rule{Name: m[1], Meta: map[string]string{}, MinMatches: 1}
			if m[2] != "" {
				current.Tags = strings.Fields(m[2])
			}
			sec = sectionNone
			continue
		}
		if current == nil {
			continue
		}

		switch line {
		case "meta:":
			sec = sectionMeta
			continue
		case "strings:":
			sec = sectionStrings
			continue
		case "condition:":
			sec = sectionCondition
			continue
		case "{":
			continue
		case "}":
			flush()
			sec = sectionNone
			continue
		}

		switch sec {
		case sectionMeta:
			if m := reMeta.FindStringSubmatch(line); m != nil {
				current.Meta[m[1]] = unquote(m[2])
			}
		case sectionStrings:
			m := reString.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("line %d: malformed string definition", lineNo)
			}
			name := m[1]
			if name == "$" {
				name = fmt.Sprintf("$anon%d", len(current.Strings))
			}
			re, err := compileString(m[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", lineNo, name, err)
			}
			current.Strings = append(current.Strings, re)
			current.StringNames = append(current.StringNames, name)
		case sectionCondition:
			current.MinMatches = parseCondition(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return rules, nil
}

// parseCondition 只理解 any/all/N of them，其余条件按 any 处理
func parseCondition(cond string) int {
	cond = strings.TrimSpace(strings.TrimSuffix(cond, "}"))
	switch {
	case strings.HasPrefix(cond, "all of"):
		return -1
	case strings.HasPrefix(cond, "any of"):
		return 1
	}
	if m := reNOf.FindStringSubmatch(cond); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// compileString 把 "text" [nocase] 或 /regex/[is] 编译为正则
func compileString(raw string) (*regexp.Regexp, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, `"`):
		end := closingQuote(raw)
		if end < 0 {
			return nil, errors.New("unterminated string")
		}
		text := unescape(raw[1:end])
		mods := strings.ToLower(raw[end+1:])
		pattern := regexp.QuoteMeta(text)
		if strings.Contains(mods, "nocase") {
			pattern = "(?i)" + pattern
		}
		return regexp.Compile(pattern)
	case strings.HasPrefix(raw, "/"):
		end := strings.LastIndex(raw, "/")
		if end <= 0 {
			return nil, errors.New("unterminated regex")
		}
		pattern := raw[1:end]
		flags := ""
		for _, c := range raw[end+1:] {
			switch c {
			case 'i', 's':
				if !strings.ContainsRune(flags, c) {
					flags += string(c)
				}
			}
		}
		if strings.Contains(strings.ToLower(raw[end+1:]), "nocase") && !strings.Contains(flags, "i") {
			flags += "i"
		}
		if flags != "" {
			pattern = "(?" + flags + ")" + pattern
		}
		return regexp.Compile(pattern)
	}
	return nil, fmt.Errorf("unsupported string type %q", raw)
}

func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '"' {
		if end := closingQuote(v); end > 0 {
			return unescape(v[1:end])
		}
	}
	return v
}
