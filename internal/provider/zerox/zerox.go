package zerox

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"offramp-core/internal/provider"
	"offramp-core/internal/service/offramp"
	"offramp-core/pkg/config"
)

var ErrNoLiquidity = errors.New("0x: no liquidity for pair")

// Client 0x Swap API v2 (allowance-holder)
type Client struct {
	baseURL string
	apiKey  string
	http    *provider.Client
}

func New(cfg config.SwapConfig, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    provider.NewClient("0x", httpClient, cfg.Timeout),
	}
}

type quoteResponse struct {
	LiquidityAvailable *bool  `json:"liquidityAvailable"`
	BuyAmount          string `json:"buyAmount"`
	MinBuyAmount       string `json:"minBuyAmount"`
	Transaction        struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Gas   string `json:"gas"`
		Value string `json:"value"`
	} `json:"transaction"`
	Issues struct {
		Allowance *struct {
			Actual  string `json:"actual"`
			Spender string `json:"spender"`
		} `json:"allowance"`
	} `json:"issues"`
}

// Quote 实现 offramp.Aggregator
func (c *Client) Quote(ctx context.Context, req offramp.QuoteRequest) (*offramp.Quote, error) {
	q := url.Values{}
	q.Set("chainId", strconv.FormatInt(req.ChainID, 10))
	q.Set("sellToken", req.SellToken.Hex())
	q.Set("buyToken", req.BuyToken.Hex())
	q.Set("sellAmount", req.SellAmount.String())
	q.Set("taker", req.Taker.Hex())
	if req.SlippageBps > 0 {
		q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	}

	httpReq, err := provider.NewRequest(ctx, http.MethodGet, c.baseURL+"/swap/allowance-holder/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("0x-api-key", c.apiKey)
	httpReq.Header.Set("0x-version", "v2")

	var resp quoteResponse
	if err := c.http.Do(httpReq, &resp); err != nil {
		return nil, err
	}
	return resp.toQuote()
}

func (r *quoteResponse) toQuote() (*offramp.Quote, error) {
	if r.LiquidityAvailable != nil && !*r.LiquidityAvailable {
		return nil, ErrNoLiquidity
	}
	if !common.IsHexAddress(r.Transaction.To) {
		return nil, fmt.Errorf("0x: invalid transaction target %q", r.Transaction.To)
	}
	data, err := hexutil.Decode(r.Transaction.Data)
	if err != nil {
		return nil, fmt.Errorf("0x: invalid calldata: %w", err)
	}
	buy, err := parseInt(r.BuyAmount, "buyAmount")
	if err != nil {
		return nil, err
	}
	value, err := parseInt(r.Transaction.Value, "value")
	if err != nil {
		return nil, err
	}
	var gas uint64
	if r.Transaction.Gas != "" {
		if gas, err = strconv.ParseUint(r.Transaction.Gas, 10, 64); err != nil {
			return nil, fmt.Errorf("0x: invalid gas %q", r.Transaction.Gas)
		}
	}

	quote := &offramp.Quote{
		To:        common.HexToAddress(r.Transaction.To),
		Data:      data,
		Value:     value,
		Gas:       gas,
		BuyAmount: buy,
	}
	if a := r.Issues.Allowance; a != nil && common.IsHexAddress(a.Spender) {
		quote.AllowanceTarget = common.HexToAddress(a.Spender)
	}
	return quote, nil
}

func parseInt(s, field string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("0x: invalid %s %q", field, s)
	}
	return v, nil
}
