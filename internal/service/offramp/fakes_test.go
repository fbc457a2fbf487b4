package offramp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"offramp-core/internal/model"
	"offramp-core/pkg/erc20"
)

var routerSelector = []byte{0xde, 0xad, 0xbe, 0xef}

// routerCalldata 测试路由合约的调用数据: sellToken, buyToken, sellAmount, buyAmount
func routerCalldata(sell, buy common.Address, sellAmount, buyAmount *big.Int) []byte {
	data := append([]byte{}, routerSelector...)
	data = append(data, common.LeftPadBytes(sell.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(buy.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(sellAmount.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(buyAmount.Bytes(), 32)...)
	return data
}

// fakeChain 内存中的 EVM 链: 校验签名与 nonce、扣除 gas、执行 ERC-20 与路由调用并产生 Transfer 日志
type fakeChain struct {
	mu         sync.Mutex
	chainID    *big.Int
	signer     types.Signer
	gasPrice   *big.Int
	router     common.Address
	native     map[common.Address]*big.Int
	tokens     map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
	nonces     map[common.Address]uint64
	receipts   map[common.Hash]*types.Receipt
	sent       []*types.Transaction
	senders    []common.Address

	beforeSend  func(from common.Address, tx *types.Transaction) error
	readErr     map[common.Address]error // 零地址表示原生币
	failReads   map[common.Address]int   // 接下来若干次代币余额读取失败
	mangleLogs  func(tx *types.Transaction, logs []*types.Log) []*types.Log
	receiptHook func(hash common.Hash) error
}

func newFakeChain(chainID int64, router common.Address) *fakeChain {
	id := big.NewInt(chainID)
	return &fakeChain{
		chainID:    id,
		signer:     types.LatestSignerForChainID(id),
		gasPrice:   big.NewInt(1_000_000_000),
		router:     router,
		native:     make(map[common.Address]*big.Int),
		tokens:     make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		nonces:     make(map[common.Address]uint64),
		receipts:   make(map[common.Hash]*types.Receipt),
		readErr:    make(map[common.Address]error),
		failReads:  make(map[common.Address]int),
	}
}

func (c *fakeChain) fund(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addNative(addr, wei)
}

func (c *fakeChain) mint(token, addr common.Address, raw *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addToken(token, addr, raw)
}

func (c *fakeChain) nativeOf(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balance(addr))
}

func (c *fakeChain) tokenOf(token, addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.tokenBalance(token, addr))
}

func (c *fakeChain) sentBy(addr common.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.senders {
		if s == addr {
			n++
		}
	}
	return n
}

func (c *fakeChain) sentTo(to common.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tx := range c.sent {
		if tx.To() != nil && *tx.To() == to {
			n++
		}
	}
	return n
}

func (c *fakeChain) setReceipt(hash common.Hash, r *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[hash] = r
}

func (c *fakeChain) receipt(hash common.Hash) *types.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[hash]
}

func (c *fakeChain) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr[common.Address{}]; err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.balance(account)), nil
}

func (c *fakeChain) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr[token]; err != nil {
		return nil, err
	}
	if c.failReads[token] > 0 {
		c.failReads[token]--
		return nil, errors.New("rpc unavailable")
	}
	return new(big.Int).Set(c.tokenBalance(token, owner)), nil
}

func (c *fakeChain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.allowance(token, owner, spender)), nil
}

func (c *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if len(msg.Data) == 0 {
		return nativeTransferGas, nil
	}
	return 60000, nil
}

func (c *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.beforeSend != nil {
		if err := c.beforeSend(from, tx); err != nil {
			return err
		}
	}
	if tx.Nonce() != c.nonces[from] {
		return fmt.Errorf("nonce mismatch: have %d want %d", tx.Nonce(), c.nonces[from])
	}
	gasUsed := uint64(nativeTransferGas)
	if len(tx.Data()) > 0 {
		gasUsed = 50000
	}
	if tx.Gas() < gasUsed {
		return errors.New("intrinsic gas too low")
	}
	maxCost := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
	maxCost.Add(maxCost, tx.Value())
	if c.balance(from).Cmp(maxCost) < 0 {
		return fmt.Errorf("insufficient funds for gas * price + value: have %s want %s", c.balance(from), maxCost)
	}

	c.nonces[from]++
	c.subNative(from, new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), tx.GasPrice()))

	receipt := &types.Receipt{
		TxHash:      tx.Hash(),
		Status:      types.ReceiptStatusSuccessful,
		GasUsed:     gasUsed,
		BlockNumber: big.NewInt(int64(len(c.sent) + 1)),
	}
	logs, err := c.apply(from, tx)
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		if c.mangleLogs != nil {
			logs = c.mangleLogs(tx, logs)
		}
		receipt.Logs = logs
	}
	c.receipts[tx.Hash()] = receipt
	c.sent = append(c.sent, tx)
	c.senders = append(c.senders, from)
	return nil
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receiptHook != nil {
		if err := c.receiptHook(hash); err != nil {
			return nil, err
		}
	}
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *fakeChain) apply(from common.Address, tx *types.Transaction) ([]*types.Log, error) {
	to := *tx.To()
	var logs []*types.Log
	var err error

	data := tx.Data()
	switch {
	case len(data) == 0:
	case to == c.router:
		logs, err = c.routerCall(from, data, tx.Value())
	default:
		logs, err = c.tokenCall(to, from, data)
	}
	if err != nil {
		return nil, err
	}

	if v := tx.Value(); v.Sign() > 0 {
		c.subNative(from, v)
		c.addNative(to, v)
	}
	return logs, nil
}

func (c *fakeChain) routerCall(from common.Address, data []byte, value *big.Int) ([]*types.Log, error) {
	if len(data) != 4+32*4 || !bytes.Equal(data[:4], routerSelector) {
		return nil, errors.New("router: bad calldata")
	}
	sell := common.BytesToAddress(data[4:36])
	buy := common.BytesToAddress(data[36:68])
	sellAmount := new(big.Int).SetBytes(data[68:100])
	buyAmount := new(big.Int).SetBytes(data[100:132])

	var logs []*types.Log
	if sell == NativeTokenAddress {
		if value.Cmp(sellAmount) != 0 {
			return nil, errors.New("router: value mismatch")
		}
	} else {
		if c.allowance(sell, from, c.router).Cmp(sellAmount) < 0 {
			return nil, errors.New("router: insufficient allowance")
		}
		if c.tokenBalance(sell, from).Cmp(sellAmount) < 0 {
			return nil, errors.New("router: insufficient balance")
		}
		c.setAllowance(sell, from, c.router, new(big.Int).Sub(c.allowance(sell, from, c.router), sellAmount))
		c.addToken(sell, from, new(big.Int).Neg(sellAmount))
		c.addToken(sell, c.router, sellAmount)
		logs = append(logs, erc20.TransferLog(sell, from, c.router, sellAmount))
	}
	c.addToken(buy, from, buyAmount)
	logs = append(logs, erc20.TransferLog(buy, c.router, from, buyAmount))
	return logs, nil
}

func (c *fakeChain) tokenCall(token, from common.Address, data []byte) ([]*types.Log, error) {
	if len(data) < 4 {
		return nil, errors.New("token: short calldata")
	}
	method, err := erc20.ABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "transfer":
		to := args[0].(common.Address)
		amount := args[1].(*big.Int)
		if c.tokenBalance(token, from).Cmp(amount) < 0 {
			return nil, errors.New("token: transfer amount exceeds balance")
		}
		c.addToken(token, from, new(big.Int).Neg(amount))
		c.addToken(token, to, amount)
		return []*types.Log{erc20.TransferLog(token, from, to, amount)}, nil
	case "approve":
		c.setAllowance(token, from, args[0].(common.Address), args[1].(*big.Int))
		return nil, nil
	}
	return nil, fmt.Errorf("token: unsupported method %s", method.Name)
}

func (c *fakeChain) balance(addr common.Address) *big.Int {
	if b, ok := c.native[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (c *fakeChain) addNative(addr common.Address, v *big.Int) {
	c.native[addr] = new(big.Int).Add(c.balance(addr), v)
}

func (c *fakeChain) subNative(addr common.Address, v *big.Int) {
	c.native[addr] = new(big.Int).Sub(c.balance(addr), v)
}

func (c *fakeChain) tokenBalance(token, owner common.Address) *big.Int {
	if b, ok := c.tokens[token][owner]; ok {
		return b
	}
	return new(big.Int)
}

func (c *fakeChain) addToken(token, owner common.Address, v *big.Int) {
	if c.tokens[token] == nil {
		c.tokens[token] = make(map[common.Address]*big.Int)
	}
	c.tokens[token][owner] = new(big.Int).Add(c.tokenBalance(token, owner), v)
}

func (c *fakeChain) allowance(token, owner, spender common.Address) *big.Int {
	if a, ok := c.allowances[token][owner][spender]; ok {
		return a
	}
	return new(big.Int)
}

func (c *fakeChain) setAllowance(token, owner, spender common.Address, v *big.Int) {
	if c.allowances[token] == nil {
		c.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if c.allowances[token][owner] == nil {
		c.allowances[token][owner] = make(map[common.Address]*big.Int)
	}
	c.allowances[token][owner][spender] = new(big.Int).Set(v)
}

// fakeAggregator 按固定价格报价，路由到 fakeChain.router
type fakeAggregator struct {
	mu       sync.Mutex
	router   common.Address
	price    func(req QuoteRequest) *big.Int
	failures int
	calls    int
	requests []QuoteRequest
}

func newFakeAggregator(router common.Address) *fakeAggregator {
	return &fakeAggregator{
		router: router,
		price: func(req QuoteRequest) *big.Int {
			return new(big.Int).Set(req.SellAmount)
		},
	}
}

func (a *fakeAggregator) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.requests = append(a.requests, req)
	if a.failures > 0 {
		a.failures--
		return nil, errors.New("quote unavailable")
	}

	buy := a.price(req)
	q := &Quote{
		To:        a.router,
		Data:      routerCalldata(req.SellToken, req.BuyToken, req.SellAmount, buy),
		Gas:       150000,
		BuyAmount: buy,
	}
	if req.SellToken == NativeTokenAddress {
		q.Value = new(big.Int).Set(req.SellAmount)
	} else {
		q.AllowanceTarget = a.router
	}
	return q, nil
}

func (a *fakeAggregator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// fakeGateway 按 Reference 幂等的支付网关
type fakeGateway struct {
	mu            sync.Mutex
	recipients    map[string]string
	transfers     map[string]*TransferResult
	amounts       map[string]decimal.Decimal
	status        TransferStatus
	transferErrs  []error
	createCalls   int
	transferCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		recipients: make(map[string]string),
		transfers:  make(map[string]*TransferResult),
		amounts:    make(map[string]decimal.Decimal),
		status:     TransferSuccess,
	}
}

func recipientKey(r Recipient) string {
	return r.BankCode + "/" + r.AccountNumber
}

func (g *fakeGateway) CreateRecipient(ctx context.Context, r Recipient) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if _, ok := g.recipients[recipientKey(r)]; ok {
		return "", ErrRecipientExists
	}
	code := fmt.Sprintf("RCP_%d", len(g.recipients)+1)
	g.recipients[recipientKey(r)] = code
	return code, nil
}

func (g *fakeGateway) FindRecipient(ctx context.Context, r Recipient) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	code, ok := g.recipients[recipientKey(r)]
	if !ok {
		return "", errors.New("recipient not found")
	}
	return code, nil
}

func (g *fakeGateway) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transferCalls++
	if len(g.transferErrs) > 0 {
		err := g.transferErrs[0]
		g.transferErrs = g.transferErrs[1:]
		return nil, err
	}
	if res, ok := g.transfers[req.Reference]; ok {
		return res, nil
	}
	res := &TransferResult{
		TransferCode: fmt.Sprintf("TRF_%d", len(g.transfers)+1),
		Reference:    req.Reference,
		Status:       g.status,
	}
	g.transfers[req.Reference] = res
	g.amounts[req.Reference] = req.Amount
	return res, nil
}

func (g *fakeGateway) transferCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.transfers)
}

// memoryStore 带 CAS 与 "每个钱包仅一笔进行中交易" 约束的内存实现
type memoryStore struct {
	mu   sync.Mutex
	rows map[string]model.OfframpTransaction
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]model.OfframpTransaction)}
}

func (s *memoryStore) activeConflict(tx *model.OfframpTransaction) bool {
	if tx.Status.Terminal() {
		return false
	}
	for id, row := range s.rows {
		if id != tx.ID && !row.Status.Terminal() && strings.EqualFold(row.WalletAddress, tx.WalletAddress) {
			return true
		}
	}
	return false
}

func (s *memoryStore) Create(ctx context.Context, tx *model.OfframpTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeConflict(tx) {
		return ErrWalletBusy
	}
	s.rows[tx.ID] = *tx
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*model.OfframpTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (s *memoryStore) FindActiveByWallet(ctx context.Context, wallet string) (*model.OfframpTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if !row.Status.Terminal() && strings.EqualFold(row.WalletAddress, wallet) {
			r := row
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) Save(ctx context.Context, tx *model.OfframpTransaction, expected model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[tx.ID]
	if !ok {
		return ErrNotFound
	}
	if row.Status != expected {
		return ErrStaleState
	}
	if s.activeConflict(tx) {
		return ErrWalletBusy
	}
	s.rows[tx.ID] = *tx
	return nil
}

func (s *memoryStore) ListStalled(ctx context.Context, before time.Time, limit int) ([]model.OfframpTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OfframpTransaction
	for _, row := range s.rows {
		if !row.Status.Terminal() && row.UpdatedAt.Before(before) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Status == model.StatusPending, out[j].Status == model.StatusPending
		if pi != pj {
			return pj
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type rateFunc func(ctx context.Context, base, quote string) (decimal.Decimal, error)

func (f rateFunc) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	return f(ctx, base, quote)
}

func fixedRate(v string) rateFunc {
	return func(context.Context, string, string) (decimal.Decimal, error) {
		return decimal.RequireFromString(v), nil
	}
}
