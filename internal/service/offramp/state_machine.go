package offramp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"offramp-core/internal/model"
	"offramp-core/pkg/logger"
	"offramp-core/pkg/monitor"
	"offramp-core/pkg/utils/lock"
)

const (
	// consolidationGas 归集 (ERC-20 transfer) 预留的 gas
	consolidationGas = 100000
	// swapPendingWindow 已广播的兑换交易超过这个时间仍查不到回执，视为被丢弃
	swapPendingWindow = 30 * time.Minute
)

type Options struct {
	Currency   string
	LockTTL    time.Duration // 需要大于一次完整流水线的耗时
	StallAfter time.Duration
	Clock      func() time.Time
	NewID      func() string
}

// Deps 状态机依赖的组件
type Deps struct {
	Store        Store
	Networks     Networks
	Provisioner  *WalletProvisioner
	Scanner      *TokenScanner
	Funder       *GasFunder
	Swapper      *SwapOrchestrator
	Consolidator *Consolidator
	Verifier     *SettlementVerifier
	Fees         *FeeCalculator
	Rates        RateProvider
	Payouts      *PayoutDispatcher
	Locker       lock.DistributedLock
}

// StateMachine 出金流水线。同一钱包同一时刻只允许一个流水线运行
type StateMachine struct {
	store        Store
	networks     Networks
	provisioner  *WalletProvisioner
	scanner      *TokenScanner
	funder       *GasFunder
	swapper      *SwapOrchestrator
	consolidator *Consolidator
	verifier     *SettlementVerifier
	fees         *FeeCalculator
	rates        RateProvider
	payouts      *PayoutDispatcher
	locker       lock.DistributedLock

	opts Options
	log  *zap.Logger
}

func NewStateMachine(deps Deps, opts Options) *StateMachine {
	if opts.Currency == "" {
		opts.Currency = "NGN"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.StallAfter <= 0 {
		opts.StallAfter = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &StateMachine{
		store:        deps.Store,
		networks:     deps.Networks,
		provisioner:  deps.Provisioner,
		scanner:      deps.Scanner,
		funder:       deps.Funder,
		swapper:      deps.Swapper,
		consolidator: deps.Consolidator,
		verifier:     deps.Verifier,
		fees:         deps.Fees,
		rates:        deps.Rates,
		payouts:      deps.Payouts,
		locker:       deps.Locker,
		opts:         opts,
		log:          logger.Named("offramp"),
	}
}

type CreateAddressInput struct {
	UserID        *string
	Network       model.Network
	AccountNumber string
	BankCode      string
	BankName      string
	AccountName   string
	Currency      string
}

// CreateAddress 为一笔出金分配托管地址。同一钱包已有进行中的交易时:
// 网络与收款账户一致则直接返回该交易，否则返回 ErrWalletBusy
func (m *StateMachine) CreateAddress(ctx context.Context, in CreateAddressInput) (*model.OfframpTransaction, error) {
	if _, err := m.networks.Get(in.Network); err != nil {
		return nil, err
	}

	id := m.opts.NewID()
	identifier := id
	if in.UserID != nil && *in.UserID != "" {
		identifier = *in.UserID
	}
	wallet, err := m.provisioner.Derive(identifier)
	if err != nil {
		return nil, err
	}
	address := wallet.Address.Hex()

	existing, err := m.store.FindActiveByWallet(ctx, address)
	switch {
	case err == nil:
		return m.reuse(existing, in)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = m.opts.Currency
	}
	now := m.opts.Clock()
	tx := &model.OfframpTransaction{
		ID:             id,
		UserID:         in.UserID,
		DerivationID:   identifier,
		DerivationPath: wallet.Path,
		WalletAddress:  address,
		Network:        in.Network,
		Currency:       currency,
		AccountNumber:  in.AccountNumber,
		BankCode:       in.BankCode,
		BankName:       in.BankName,
		AccountName:    in.AccountName,
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.Create(ctx, tx); err != nil {
		if errors.Is(err, ErrWalletBusy) {
			// 并发创建，以先写入的为准
			if existing, ferr := m.store.FindActiveByWallet(ctx, address); ferr == nil {
				return m.reuse(existing, in)
			}
		}
		return nil, err
	}

	monitor.Business.TransitionsTotal.WithLabelValues(string(model.StatusPending)).Inc()
	m.log.Info("已分配托管地址",
		zap.String("id", tx.ID),
		zap.String("network", string(tx.Network)),
		zap.String("wallet", address),
		zap.String("path", wallet.Path))
	return tx, nil
}

func (m *StateMachine) reuse(existing *model.OfframpTransaction, in CreateAddressInput) (*model.OfframpTransaction, error) {
	if existing.Network == in.Network && existing.AccountNumber == in.AccountNumber && existing.BankCode == in.BankCode {
		return existing, nil
	}
	return nil, fmt.Errorf("%w: %s (transaction %s)", ErrWalletBusy, existing.WalletAddress, existing.ID)
}

// Status 查询交易
func (m *StateMachine) Status(ctx context.Context, id string) (*model.OfframpTransaction, error) {
	return m.store.Get(ctx, id)
}

// ActiveForWallet 查询钱包上进行中的交易，供充值通知使用
func (m *StateMachine) ActiveForWallet(ctx context.Context, address string) (*model.OfframpTransaction, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: invalid address %q", ErrNotFound, address)
	}
	return m.store.FindActiveByWallet(ctx, common.HexToAddress(address).Hex())
}

// Stalled 返回长时间没有进展的非终态交易 ID
func (m *StateMachine) Stalled(ctx context.Context, limit int) ([]string, error) {
	rows, err := m.store.ListStalled(ctx, m.opts.Clock().Add(-m.opts.StallAfter), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// Advance 从当前状态推进流水线，直到终态或需要等待外部条件。
// 终态交易直接返回；同一钱包已有流水线在运行时返回 ErrPipelineBusy
func (m *StateMachine) Advance(ctx context.Context, id string) (*model.OfframpTransaction, error) {
	tx, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return tx, nil
	}

	release, err := m.lockWallet(ctx, tx.WalletAddress)
	if err != nil {
		return tx, err
	}
	defer release()

	// 持锁后重新读取，避免使用锁外的旧数据
	if tx, err = m.store.Get(ctx, id); err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return tx, nil
	}
	return m.run(ctx, tx)
}

// Restart 把失败的交易重置到最早未完成的阶段，不会执行流水线。
// 已完成、或已经向网关发起过出款的失败交易不能重启
func (m *StateMachine) Restart(ctx context.Context, id string) (*model.OfframpTransaction, error) {
	tx, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := restartable(tx); err != nil {
		return tx, err
	}

	release, err := m.lockWallet(ctx, tx.WalletAddress)
	if err != nil {
		return tx, err
	}
	defer release()

	if tx, err = m.store.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := restartable(tx); err != nil {
		return tx, err
	}
	if tx.Status != model.StatusFailed {
		return tx, nil
	}

	target := restartPoint(tx)
	err = m.transition(ctx, tx, target, func(t *model.OfframpTransaction) {
		switch target {
		case model.StatusUSDCReceived, model.StatusSwapping:
			t.ResetPayout()
		case model.StatusTokenReceived:
			// 兑换哈希保留: 兑换可能已在链上完成，重跑时会检测到
			swapHash := t.SwapTxHash
			t.ResetSwap()
			t.ResetPayout()
			t.SwapTxHash = swapHash
		default:
			t.ResetDeposit()
			t.ResetSwap()
			t.ResetPayout()
		}
		t.ErrorCode = ""
		t.ErrorMessage = ""
		t.FailedAt = nil
		t.RestartCount++
	})
	if err != nil {
		return tx, err
	}
	m.log.Info("交易已重启", zap.String("id", tx.ID), zap.String("resume_at", string(target)), zap.Int("restart_count", tx.RestartCount))
	return tx, nil
}

func restartable(tx *model.OfframpTransaction) error {
	switch {
	case tx.Status == model.StatusCompleted:
		return fmt.Errorf("%w: transaction %s is completed", ErrCannotRestart, tx.ID)
	case tx.Status == model.StatusFailed && tx.PayoutReference != nil:
		return fmt.Errorf("%w: payout %s already dispatched", ErrCannotRestart, *tx.PayoutReference)
	}
	return nil
}

// restartPoint 根据已持久化的数据决定从哪个阶段继续
func restartPoint(tx *model.OfframpTransaction) model.Status {
	switch {
	case tx.SettlementDone():
		return model.StatusUSDCReceived
	case tx.ConsolidationTxHash != nil && tx.SettlementRaw.IsPositive():
		return model.StatusSwapping
	case tx.TokenKnown():
		return model.StatusTokenReceived
	}
	return model.StatusPending
}

func (m *StateMachine) lockWallet(ctx context.Context, address string) (func(), error) {
	key := "offramp:wallet:" + strings.ToLower(address)
	token, err := m.locker.Acquire(ctx, key, m.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire wallet lock: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: %s", ErrPipelineBusy, address)
	}
	return func() {
		if err := m.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			m.log.Warn("释放钱包锁失败", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

type stepFunc func(ctx context.Context, net *Network, tx *model.OfframpTransaction) error

func (m *StateMachine) step(status model.Status) (string, stepFunc) {
	switch status {
	case model.StatusPending:
		return "detect", m.detect
	case model.StatusTokenReceived:
		return "begin_swap", m.beginSwap
	case model.StatusSwapping:
		return "settle", m.settle
	case model.StatusUSDCReceived:
		return "price", m.price
	case model.StatusPaying:
		return "payout", m.payout
	}
	return "unknown", func(context.Context, *Network, *model.OfframpTransaction) error {
		return fmt.Errorf("unknown status %q", status)
	}
}

func (m *StateMachine) run(ctx context.Context, tx *model.OfframpTransaction) (result *model.OfframpTransaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("流水线 panic", zap.String("id", tx.ID), zap.Any("panic", r), zap.Stack("stack"))
			result, err = m.fail(ctx, tx, fmt.Errorf("internal error: %v", r))
		}
	}()

	net, err := m.networks.Get(tx.Network)
	if err != nil {
		return m.fail(ctx, tx, err)
	}
	tx.Attempts++

	for !tx.Status.Terminal() {
		phase, fn := m.step(tx.Status)
		start := time.Now()
		err := fn(ctx, net, tx)
		monitor.Business.StepDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
		if err == nil {
			continue
		}
		if keepsStatus(err, phase) {
			m.log.Info("流水线暂停",
				zap.String("id", tx.ID),
				zap.String("status", string(tx.Status)),
				zap.String("reason", err.Error()))
			m.pause(ctx, tx, err)
			return tx, err
		}
		return m.fail(ctx, tx, err)
	}
	return tx, nil
}

// pause 状态不变，但记录本次尝试并刷新 updated_at，定时任务按 updated_at 轮转
func (m *StateMachine) pause(ctx context.Context, tx *model.OfframpTransaction, cause error) {
	if errors.Is(cause, ErrStaleState) {
		return
	}
	if err := m.checkpoint(context.WithoutCancel(ctx), tx, nil); err != nil {
		m.log.Warn("记录暂停状态失败", zap.String("id", tx.ID), zap.Error(err))
	}
}

// detect 扫描托管地址，选出本次处理的充值资产
func (m *StateMachine) detect(ctx context.Context, net *Network, tx *model.OfframpTransaction) error {
	holdings, err := m.scanner.Scan(ctx, net, common.HexToAddress(tx.WalletAddress))
	if err != nil {
		return err
	}
	deposit, ok := SelectDeposit(net, holdings)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrInsufficientBalance, tx.WalletAddress, net.Name)
	}

	now := m.opts.Clock()
	return m.transition(ctx, tx, model.StatusTokenReceived, func(t *model.OfframpTransaction) {
		t.TokenSymbol = deposit.Asset.Symbol
		t.TokenAddress = ""
		if !deposit.Asset.IsNative() {
			t.TokenAddress = deposit.Asset.Contract.Hex()
		}
		t.TokenDecimals = deposit.Asset.Decimals
		t.TokenRaw = decimal.NewFromBigInt(deposit.Raw, 0)
		t.TokenAmount = deposit.Amount
		t.TokenReceivedAt = &now
	})
}

func (m *StateMachine) beginSwap(ctx context.Context, _ *Network, tx *model.OfframpTransaction) error {
	return m.transition(ctx, tx, model.StatusSwapping, nil)
}

// settle 兑换 -> 归集 -> 校验到账 -> 回收 gas。每一步的结果都会持久化，重入时跳过已完成的步骤
func (m *StateMachine) settle(ctx context.Context, net *Network, tx *model.OfframpTransaction) error {
	wallet, err := m.walletFor(tx)
	if err != nil {
		return err
	}

	if tx.ConsolidationTxHash == nil {
		if !tx.SettlementRaw.IsPositive() {
			if err := m.acquireSettlement(ctx, net, tx, wallet); err != nil {
				return err
			}
		}
		if err := m.consolidate(ctx, net, tx, wallet); err != nil {
			return err
		}
	}

	hash := common.HexToHash(*tx.ConsolidationTxHash)
	if _, err := m.verifier.Verify(ctx, net, hash, net.Receiver, tx.SettlementRaw.BigInt()); err != nil {
		if errors.Is(err, ErrConsolidation) {
			// 归集交易已回滚，重启后需要重新归集
			tx.ConsolidationTxHash = nil
		}
		return err
	}

	recovered := m.recoverGas(ctx, net, wallet)
	now := m.opts.Clock()
	return m.transition(ctx, tx, model.StatusUSDCReceived, func(t *model.OfframpTransaction) {
		t.SettlementReceivedAt = &now
		if recovered != nil {
			h := recovered.Hex()
			t.GasRecoveryTxHash = &h
		}
		if t.SwapTxHash == nil {
			t.SwapTxHash = t.ConsolidationTxHash
		}
	})
}

func (m *StateMachine) walletFor(tx *model.OfframpTransaction) (*Wallet, error) {
	w, err := m.provisioner.Derive(tx.DerivationID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(w.Address.Hex(), tx.WalletAddress) {
		return nil, fmt.Errorf("%w: derived %s, recorded %s", ErrDerivation, w.Address.Hex(), tx.WalletAddress)
	}
	return w, nil
}

// acquireSettlement 得到托管地址上可归集的结算资产数量
func (m *StateMachine) acquireSettlement(ctx context.Context, net *Network, tx *model.OfframpTransaction, wallet *Wallet) error {
	asset, err := net.AssetOf(tx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSwap, err)
	}
	settlement := net.Settlement
	settled, err := net.Client.TokenBalance(ctx, settlement.Asset.Contract, wallet.Address)
	if err != nil {
		return fmt.Errorf("%w: read settlement balance: %w", ErrSwap, err)
	}
	recordSettlement := func(t *model.OfframpTransaction) {
		t.SettlementRaw = decimal.NewFromBigInt(settled, 0)
		t.SettlementAmount = settlement.Asset.Human(settled)
	}

	// 直接充值结算资产，无需兑换
	if asset.Same(settlement.Asset) {
		if settlement.IsDust(settled) {
			return fmt.Errorf("%w: %s balance %s below minimum", ErrInsufficientBalance, asset.Symbol, settled)
		}
		return m.checkpoint(ctx, tx, recordSettlement)
	}

	if err := m.pendingSwap(ctx, net, tx); err != nil {
		return err
	}

	spec, _ := net.SpecFor(asset)
	current, err := balanceOf(ctx, net.Client, asset, wallet.Address)
	if err != nil {
		return fmt.Errorf("%w: read %s balance: %w", ErrSwap, asset.Symbol, err)
	}
	if spec.IsDust(current) {
		if !settlement.IsDust(settled) {
			m.log.Info("兑换已在之前完成", zap.String("id", tx.ID), zap.String("settlement", settled.String()))
			return m.checkpoint(ctx, tx, recordSettlement)
		}
		return fmt.Errorf("%w: %s balance %s below minimum", ErrInsufficientBalance, asset.Symbol, current)
	}

	if !asset.IsNative() {
		if err := m.ensureGas(ctx, net, tx, wallet, net.GasBudget); err != nil {
			return err
		}
	}

	res, err := m.swapper.Swap(ctx, SwapRequest{
		Network: net,
		Wallet:  wallet,
		Asset:   asset,
		Raw:     current,
		OnSubmitted: func(h common.Hash) {
			hash := h.Hex()
			now := m.opts.Clock()
			if err := m.checkpoint(ctx, tx, func(t *model.OfframpTransaction) {
				t.SwapTxHash = &hash
				t.SwapSubmittedAt = &now
			}); err != nil {
				m.log.Warn("记录兑换哈希失败", zap.String("id", tx.ID), zap.String("hash", hash), zap.Error(err))
			}
		},
	})
	if res != nil {
		tx.SwapAttempts += res.Attempts
	}
	if err != nil {
		return err
	}
	if res.Skipped {
		return fmt.Errorf("%w: %s amount below swap minimum", ErrInsufficientBalance, asset.Symbol)
	}

	swapHash := res.TxHash.Hex()
	return m.checkpoint(ctx, tx, func(t *model.OfframpTransaction) {
		t.SwapTxHash = &swapHash
		t.SettlementRaw = decimal.NewFromBigInt(res.SettlementRaw, 0)
		t.SettlementAmount = settlement.Asset.Human(res.SettlementRaw)
	})
}

// pendingSwap 上一次广播的兑换交易还没有结果时返回 ErrSwapUnconfirmed，避免重复卖出
func (m *StateMachine) pendingSwap(ctx context.Context, net *Network, tx *model.OfframpTransaction) error {
	if tx.SwapTxHash == nil || tx.SwapSubmittedAt == nil {
		return nil
	}
	hash := *tx.SwapTxHash
	_, err := net.Client.TransactionReceipt(ctx, common.HexToHash(hash))
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, ethereum.NotFound):
		return fmt.Errorf("%w: receipt %s: %w", ErrSwapUnconfirmed, hash, err)
	case m.opts.Clock().Sub(*tx.SwapSubmittedAt) < swapPendingWindow:
		return fmt.Errorf("%w: %s still pending", ErrSwapUnconfirmed, hash)
	}
	m.log.Warn("兑换交易长时间未打包，视为已丢弃", zap.String("id", tx.ID), zap.String("hash", hash))
	return nil
}

func (m *StateMachine) ensureGas(ctx context.Context, net *Network, tx *model.OfframpTransaction, wallet *Wallet, gas uint64) error {
	cost, err := m.funder.EstimateCost(ctx, net, gas)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGasFunding, err)
	}
	hash, err := m.funder.EnsureGas(ctx, net, wallet.Address, cost)
	if err != nil {
		return err
	}
	if hash == nil {
		return nil
	}
	h := hash.Hex()
	return m.checkpoint(ctx, tx, func(t *model.OfframpTransaction) {
		t.GasFundingTxHash = &h
	})
}

func (m *StateMachine) consolidate(ctx context.Context, net *Network, tx *model.OfframpTransaction, wallet *Wallet) error {
	if err := m.ensureGas(ctx, net, tx, wallet, consolidationGas); err != nil {
		return err
	}

	hash, err := m.consolidator.Transfer(ctx, net, wallet, net.Settlement.Asset, tx.SettlementRaw.BigInt(), net.Receiver, func(h common.Hash) {
		s := h.Hex()
		if err := m.checkpoint(ctx, tx, func(t *model.OfframpTransaction) {
			t.ConsolidationTxHash = &s
		}); err != nil {
			m.log.Warn("记录归集哈希失败", zap.String("id", tx.ID), zap.String("hash", s), zap.Error(err))
		}
	})
	if err != nil {
		// 已广播但未确认的交易保留哈希，由校验步骤判断是否到账
		if errors.Is(err, ErrReverted) {
			tx.ConsolidationTxHash = nil
		}
		return err
	}

	s := hash.Hex()
	return m.checkpoint(ctx, tx, func(t *model.OfframpTransaction) {
		t.ConsolidationTxHash = &s
		if t.SwapTxHash == nil {
			t.SwapTxHash = &s
		}
	})
}

// recoverGas 失败不影响流水线
func (m *StateMachine) recoverGas(ctx context.Context, net *Network, wallet *Wallet) *common.Hash {
	hash, err := m.consolidator.Recover(ctx, net, wallet, net.GasReserve)
	if err != nil {
		m.log.Warn("回收 gas 失败", zap.String("wallet", wallet.Address.Hex()), zap.Error(err))
		return nil
	}
	return hash
}

// price 计算法币金额与手续费
func (m *StateMachine) price(ctx context.Context, net *Network, tx *model.OfframpTransaction) error {
	rate, err := m.rates.Rate(ctx, net.Settlement.Asset.Symbol, tx.Currency)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRateUnavailable, err)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("%w: non-positive rate %s", ErrRateUnavailable, rate)
	}

	fiat := tx.SettlementAmount.Mul(rate).RoundFloor(fiatPlaces)
	quote, err := m.fees.Quote(fiat)
	if err != nil {
		return err
	}
	feeToken := quote.Fee.Div(rate).Round(int32(net.Settlement.Asset.Decimals))

	now := m.opts.Clock()
	return m.transition(ctx, tx, model.StatusPaying, func(t *model.OfframpTransaction) {
		t.ExchangeRate = rate
		t.FiatAmount = quote.Fiat
		t.FeeAmount = quote.Fee
		t.FeeTokenAmount = feeToken
		t.PayableAmount = quote.Payable
		t.PayoutInitiatedAt = &now
	})
}

// payout 出款。网关使用交易 ID 派生的幂等键，重复执行不会重复出款
func (m *StateMachine) payout(ctx context.Context, _ *Network, tx *model.OfframpTransaction) error {
	if tx.SwapTxHash == nil || !tx.SettlementDone() {
		return fmt.Errorf("settlement not recorded for %s", tx.ID)
	}

	res, err := m.payouts.Payout(ctx, PayoutRequest{
		Recipient: Recipient{
			AccountNumber: tx.AccountNumber,
			BankCode:      tx.BankCode,
			AccountName:   tx.AccountName,
			Currency:      tx.Currency,
		},
		RecipientCode: tx.RecipientCode,
		Amount:        tx.PayableAmount,
		Reference:     tx.PayoutIdempotencyKey(),
		Reason:        "Offramp " + tx.ID,
		OnRecipient: func(code string) {
			if err := m.checkpoint(ctx, tx, func(t *model.OfframpTransaction) {
				t.RecipientCode = code
			}); err != nil {
				m.log.Warn("记录收款人失败", zap.String("id", tx.ID), zap.Error(err))
			}
		},
	})
	if res != nil && res.PayoutReference() != "" {
		ref := res.PayoutReference()
		tx.PayoutReference = &ref
	}
	if err != nil {
		return err
	}

	now := m.opts.Clock()
	if err := m.transition(ctx, tx, model.StatusCompleted, func(t *model.OfframpTransaction) {
		t.CompletedAt = &now
	}); err != nil {
		return err
	}
	monitor.Business.PayoutAmountTotal.WithLabelValues(tx.Currency).Add(tx.PayableAmount.InexactFloat64())
	return nil
}

// transition 以当前状态做 CAS 写入；成功后才修改内存中的 tx
func (m *StateMachine) transition(ctx context.Context, tx *model.OfframpTransaction, to model.Status, mutate func(*model.OfframpTransaction)) error {
	from := tx.Status
	next := *tx
	if mutate != nil {
		mutate(&next)
	}
	next.Status = to
	next.UpdatedAt = m.opts.Clock()

	if err := m.store.Save(ctx, &next, from); err != nil {
		return err
	}
	*tx = next

	if to != from {
		monitor.Business.TransitionsTotal.WithLabelValues(string(to)).Inc()
		m.log.Info("状态变更", zap.String("id", tx.ID), zap.String("from", string(from)), zap.String("to", string(to)))
	}
	return nil
}

// checkpoint 持久化中间结果，状态不变
func (m *StateMachine) checkpoint(ctx context.Context, tx *model.OfframpTransaction, mutate func(*model.OfframpTransaction)) error {
	return m.transition(ctx, tx, tx.Status, mutate)
}

// fail 记录失败原因，已经写入的中间结果保留
func (m *StateMachine) fail(ctx context.Context, tx *model.OfframpTransaction, cause error) (*model.OfframpTransaction, error) {
	if tx.Status.Terminal() {
		return tx, cause
	}
	now := m.opts.Clock()
	err := m.transition(context.WithoutCancel(ctx), tx, model.StatusFailed, func(t *model.OfframpTransaction) {
		t.ErrorCode = ErrorCode(cause)
		t.ErrorMessage = cause.Error()
		t.FailedAt = &now
	})
	if err != nil {
		m.log.Error("记录失败状态出错", zap.String("id", tx.ID), zap.Error(err))
		return tx, errors.Join(cause, err)
	}
	m.log.Warn("交易失败", zap.String("id", tx.ID), zap.String("error_code", tx.ErrorCode), zap.Error(cause))
	return tx, cause
}
