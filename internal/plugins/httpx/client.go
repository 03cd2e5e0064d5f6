// Package httpx 是探测插件共用的 HTTP 客户端
package httpx

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/25smoking/Panoptes/internal/core"
)

const (
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (compatible; Panoptes/1.0)"
	DefaultMaxBody   = 1 << 20
)

// Client 按插件配置构造：timeout、insecure、user_agent、rate_per_second、max_body、follow_redirects
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBody   int64
}

func New(cfg core.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Bool("insecure", true) {
		//nolint:gosec // 扫描目标常使用自签名证书
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	hc := &http.Client{
		Timeout:   cfg.Duration("timeout", DefaultTimeout),
		Transport: transport,
	}
	if !cfg.Bool("follow_redirects", true) {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	c := &Client{
		http:      hc,
		userAgent: cfg.String("user_agent", DefaultUserAgent),
		maxBody:   int64(cfg.Int("max_body", DefaultMaxBody)),
	}
	if rps := cfg.Float("rate_per_second", 0); rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c
}

// Response 保存状态、头部和截断后的响应体
type Response struct {
	URL        string
	Status     int
	StatusLine string
	Header     http.Header
	Body       []byte
}

func (c *Client) Do(ctx context.Context, method, rawURL string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{
		URL:        resp.Request.URL.String(),
		Status:     resp.StatusCode,
		StatusLine: fmt.Sprintf("%s %s", resp.Proto, resp.Status),
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL)
}

func (c *Client) Head(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, http.MethodHead, rawURL)
}

// NormalizeTarget 没有协议时补上 http://
func NormalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "http://" + target
	}
	return target
}

// Host 提取目标的主机名（不含端口）
func Host(target string) string {
	u, err := url.Parse(NormalizeTarget(target))
	if err != nil || u.Hostname() == "" {
		h := strings.SplitN(strings.TrimSpace(target), "/", 2)[0]
		if host, _, err := net.SplitHostPort(h); err == nil {
			return host
		}
		return h
	}
	return u.Hostname()
}

// Join 把路径拼接到目标根下，完整 URL 原样返回
func Join(target, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(NormalizeTarget(target), "/") + "/" + strings.TrimLeft(path, "/")
}
