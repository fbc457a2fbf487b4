package paystack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"offramp-core/internal/provider"
	"offramp-core/internal/service/offramp"
	"offramp-core/pkg/config"
)

// Client Paystack 转账接口，实现 offramp.PayoutGateway
type Client struct {
	baseURL string
	secret  string
	http    *provider.Client
}

func New(cfg config.PayoutConfig, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  cfg.SecretKey,
		http:    provider.NewClient("paystack", httpClient, cfg.Timeout),
	}
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type recipientData struct {
	RecipientCode string `json:"recipient_code"`
	Details       struct {
		AccountNumber string `json:"account_number"`
		BankCode      string `json:"bank_code"`
	} `json:"details"`
}

type transferData struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
}

type createRecipientBody struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type transferBody struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"` // 最小单位 (kobo)
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
	Currency  string `json:"currency"`
}

func (c *Client) CreateRecipient(ctx context.Context, r offramp.Recipient) (string, error) {
	body := createRecipientBody{
		Type:          "nuban",
		Name:          r.AccountName,
		AccountNumber: r.AccountNumber,
		BankCode:      r.BankCode,
		Currency:      r.Currency,
	}
	var resp envelope[recipientData]
	if err := c.do(ctx, http.MethodPost, "/transferrecipient", body, &resp); err != nil {
		if isClientError(err) && mentions(err, "already exist") {
			return "", fmt.Errorf("%w: %w", offramp.ErrRecipientExists, err)
		}
		return "", classify(err)
	}
	if !resp.Status || resp.Data.RecipientCode == "" {
		return "", fmt.Errorf("%w: %s", offramp.ErrPayoutRejected, resp.Message)
	}
	return resp.Data.RecipientCode, nil
}

// FindRecipient 按账号和银行代码在已有收款人中查找
func (c *Client) FindRecipient(ctx context.Context, r offramp.Recipient) (string, error) {
	for page := 1; page <= 10; page++ {
		var resp envelope[[]recipientData]
		path := fmt.Sprintf("/transferrecipient?perPage=100&page=%d", page)
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return "", classify(err)
		}
		for _, item := range resp.Data {
			if item.Details.AccountNumber == r.AccountNumber && item.Details.BankCode == r.BankCode {
				return item.RecipientCode, nil
			}
		}
		if len(resp.Data) < 100 {
			break
		}
	}
	return "", fmt.Errorf("recipient %s/%s not found", r.BankCode, r.AccountNumber)
}

func (c *Client) InitiateTransfer(ctx context.Context, req offramp.TransferRequest) (*offramp.TransferResult, error) {
	body := transferBody{
		Source:    "balance",
		Amount:    minorUnits(req.Amount),
		Recipient: req.RecipientCode,
		Reference: req.Reference,
		Reason:    req.Reason,
		Currency:  req.Currency,
	}
	var resp envelope[transferData]
	err := c.do(ctx, http.MethodPost, "/transfer", body, &resp)
	if err != nil {
		// 同一 reference 已提交过，查询原转账
		if isClientError(err) && mentions(err, "duplicate") {
			return c.verify(ctx, req.Reference)
		}
		return nil, classify(err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: %s", offramp.ErrPayoutRejected, resp.Message)
	}
	return toResult(resp.Data, req.Reference), nil
}

func (c *Client) verify(ctx context.Context, reference string) (*offramp.TransferResult, error) {
	var resp envelope[transferData]
	if err := c.do(ctx, http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, classify(err)
	}
	return toResult(resp.Data, reference), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := provider.NewRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	return c.http.Do(req, out)
}

func toResult(d transferData, reference string) *offramp.TransferResult {
	ref := d.Reference
	if ref == "" {
		ref = reference
	}
	status := offramp.TransferStatus(strings.ToLower(d.Status))
	switch status {
	case offramp.TransferSuccess, offramp.TransferPending, offramp.TransferOTP,
		offramp.TransferFailed, offramp.TransferReversed:
	default:
		// received / queued 等中间态
		status = offramp.TransferPending
	}
	return &offramp.TransferResult{TransferCode: d.TransferCode, Reference: ref, Status: status}
}

// minorUnits 两位小数法币金额转为最小单位
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// classify 4xx 视为永久拒绝，其余交给调用方重试
func classify(err error) error {
	if isClientError(err) {
		return fmt.Errorf("%w: %w", offramp.ErrPayoutRejected, err)
	}
	return err
}

func isClientError(err error) bool {
	var se *provider.StatusError
	return errors.As(err, &se) && se.ClientError()
}

func mentions(err error, words ...string) bool {
	var se *provider.StatusError
	if !errors.As(err, &se) {
		return false
	}
	body := strings.ToLower(string(se.Body))
	for _, w := range words {
		if strings.Contains(body, w) {
			return true
		}
	}
	return false
}
