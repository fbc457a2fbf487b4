package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"offramp-core/pkg/logger"
)

// ErrCircuitOpen 熔断器打开，请求未发出
var ErrCircuitOpen = errors.New("circuit breaker open")

// StatusError 非 2xx 响应
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("http %d: %s", e.Code, body)
}

// ClientError 4xx 说明请求本身有问题，重试没有意义
func (e *StatusError) ClientError() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// Client 带熔断的 JSON HTTP 客户端，供各外部服务适配器共用
type Client struct {
	name string
	http *http.Client
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger
}

// NewClient httpClient 为 nil 时使用带超时的默认客户端
func NewClient(name string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	log := logger.Named("provider").Named(name)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 4xx 是调用方的问题，不计入熔断
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.ClientError())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("熔断器状态变更", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		name: name,
		http: httpClient,
		cb:   gobreaker.NewCircuitBreaker(settings),
		log:  log,
	}
}

// NewRequest 构造请求，body 非 nil 时编码为 JSON
func NewRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do 发送请求并把 2xx 响应解码到 out；非 2xx 返回 *StatusError
func (c *Client) Do(req *http.Request, out interface{}) error {
	start := time.Now()
	_, err := c.cb.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{Code: resp.StatusCode, Body: body}
		}
		if out == nil || len(body) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", c.name, err)
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}
	if err != nil {
		c.log.Debug("请求失败",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}
	return err
}
