// Package ai 为发现项和整份报告生成简短的文本分析
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type Mode string

const (
	ModeOff    Mode = "off"
	ModeMock   Mode = "mock"
	ModeOpenAI Mode = "openai"
)

var (
	ErrNoAPIKey      = errors.New("ai: api key is required for openai mode")
	ErrEmptyResponse = errors.New("ai: empty response")
)

// Item 是一次单项分析请求
type Item struct {
	Target   string
	Plugin   string
	ItemID   string
	Evidence string
}

// Summarizer 为单个发现项或整份报告摘要生成分析文本
type Summarizer interface {
	Summarize(ctx context.Context, item Item) (string, error)
	Analyze(ctx context.Context, digest string) (string, error)
}

type Config struct {
	Mode    Mode
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// New 按模式构造 Summarizer
func New(cfg Config) (Summarizer, error) {
	switch Mode(strings.ToLower(string(cfg.Mode))) {
	case "", ModeOff:
		return Disabled{}, nil
	case ModeMock:
		return Mock{}, nil
	case ModeOpenAI:
		return NewOpenAI(cfg)
	}
	return nil, fmt.Errorf("ai: unknown mode %q", cfg.Mode)
}

// Disabled 不做任何分析
type Disabled struct{}

func (Disabled) Summarize(context.Context, Item) (string, error) { return AIDisabledText, nil }
func (Disabled) Analyze(context.Context, string) (string, error)  { return "", nil }

// Mock 截取证据前 240 个字符，用于离线演示
type Mock struct{}

const mockLimit = 240

func (Mock) Summarize(_ context.Context, item Item) (string, error) {
	return "[AI mock] " + truncate(item.Evidence, mockLimit), nil
}

func (Mock) Analyze(_ context.Context, digest string) (string, error) {
	return "[AI mock] " + truncate(digest, mockLimit), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// OpenAI 通过 OpenAI 兼容接口生成分析
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{client: openai.NewClientWithConfig(oc), model: model, timeout: timeout}, nil
}

const systemPrompt = "You are a concise offensive-security assistant. Answer briefly and directly."

func itemPrompt(item Item) string {
	return fmt.Sprintf(`Analyze the following web security check result and answer briefly.
If the risk is low, omit impact, recommendations and explanations.
Risk (HIGH, MED or LOW)
- Impact (1-2 lines: why the missing or weak control is a vulnerability, common attack vectors)
- Explanation (1 line: what the technique is)
- Recommendations and configuration best practices (short bullets)
Target: %s
Plugin: %s
Item UUID: %s
Result:
%s`, item.Target, item.Plugin, item.ItemID, item.Evidence)
}

func reportPrompt(digest string) string {
	return fmt.Sprintf(`Below is a digest of the findings of an automated web security scan.
Write a short executive analysis: the most likely attack paths, the most urgent fixes, and
which findings look like false positives. Keep it brief.

%s`, digest)
}

func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("ai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (o *OpenAI) Summarize(ctx context.Context, item Item) (string, error) {
	return o.complete(ctx, itemPrompt(item))
}

func (o *OpenAI) Analyze(ctx context.Context, digest string) (string, error) {
	return o.complete(ctx, reportPrompt(digest))
}
