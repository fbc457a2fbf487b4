package rates

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"offramp-core/internal/provider"
	"offramp-core/pkg/cache"
	"offramp-core/pkg/config"
	"offramp-core/pkg/logger"
)

// Static 固定汇率，开发环境与测试使用
type Static struct {
	rate decimal.Decimal
}

func NewStatic(rate string) (*Static, error) {
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid static rate %q: %w", rate, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("static rate must be positive, got %s", d)
	}
	return &Static{rate: d}, nil
}

func (s *Static) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	return s.rate, nil
}

// HTTP 从外部报价接口获取汇率: GET {url}?base=USDC&quote=NGN -> {"rate":"1600.5"}
type HTTP struct {
	url  string
	http *provider.Client
}

func NewHTTP(rawURL string, httpClient *http.Client, timeout time.Duration) *HTTP {
	return &HTTP{url: rawURL, http: provider.NewClient("rates", httpClient, timeout)}
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

func (h *HTTP) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("base", base)
	q.Set("quote", quote)

	sep := "?"
	if strings.Contains(h.url, "?") {
		sep = "&"
	}
	req, err := provider.NewRequest(ctx, http.MethodGet, h.url+sep+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	var resp rateResponse
	if err := h.http.Do(req, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rates: non-positive rate %s for %s/%s", resp.Rate, base, quote)
	}
	return resp.Rate, nil
}

// Source 汇率源
type Source interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// Cached 在 Source 前加一层缓存，Refresh 由定时任务调用
type Cached struct {
	source Source
	cache  cache.Cache
	ttl    time.Duration
	log    *zap.Logger
}

func NewCached(source Source, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{source: source, cache: c, ttl: ttl, log: logger.Named("rates")}
}

func cacheKey(base, quote string) string {
	return "rate:" + strings.ToUpper(base) + ":" + strings.ToUpper(quote)
}

func (c *Cached) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	var cached string
	err := c.cache.Get(ctx, cacheKey(base, quote), &cached)
	if err == nil {
		if d, perr := decimal.NewFromString(cached); perr == nil {
			return d, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.log.Warn("读取汇率缓存失败", zap.Error(err))
	}
	return c.Refresh(ctx, base, quote)
}

// Refresh 强制从源获取并写入缓存
func (c *Cached) Refresh(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	rate, err := c.source.Rate(ctx, base, quote)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.cache.Set(ctx, cacheKey(base, quote), rate.String(), c.ttl); err != nil {
		c.log.Warn("写入汇率缓存失败", zap.Error(err))
	}
	return rate, nil
}

// New 按配置组装汇率源：固定汇率优先，否则走 HTTP 并加缓存
func New(cfg config.RatesConfig, c cache.Cache) (Source, error) {
	if cfg.Static != "" {
		return NewStatic(cfg.Static)
	}
	if cfg.URL == "" {
		return nil, errors.New("rates: either static or url must be configured")
	}
	return NewCached(NewHTTP(cfg.URL, nil, 10*time.Second), c, cfg.CacheTTL), nil
}
