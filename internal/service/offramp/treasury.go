package offramp

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"offramp-core/pkg/logger"
	"offramp-core/pkg/monitor"
)

const (
	jobFund    = "fund"
	jobRecover = "recover"
)

type treasuryJob struct {
	ctx  context.Context
	kind string
	run  func(ctx context.Context) (common.Hash, error)
	done chan treasuryResult
}

type treasuryResult struct {
	hash common.Hash
	err  error
}

// Treasury 每条链一个，所有 treasury 相关的转账串行执行，避免 nonce 冲突
type Treasury struct {
	net         *Network
	provisioner *WalletProvisioner
	sender      *TxSender
	address     common.Address

	jobs  chan *treasuryJob
	once  sync.Once
	nonce *uint64 // 只在 loop 协程中读写
	log   *zap.Logger
}

func NewTreasury(net *Network, provisioner *WalletProvisioner, sender *TxSender) (*Treasury, error) {
	w, err := provisioner.Treasury()
	if err != nil {
		return nil, err
	}
	return &Treasury{
		net:         net,
		provisioner: provisioner,
		sender:      sender,
		address:     w.Address,
		jobs:        make(chan *treasuryJob, 64),
		log:         logger.Named("treasury").With(zap.String("network", string(net.Name))),
	}, nil
}

// Address 回收 gas 的目标地址
func (t *Treasury) Address() common.Address {
	return t.address
}

// Start 启动串行执行协程，重复调用无副作用
func (t *Treasury) Start(ctx context.Context) {
	t.once.Do(func() {
		go t.loop(ctx)
	})
}

func (t *Treasury) loop(ctx context.Context) {
	depth := monitor.Business.TreasuryQueueDepth.WithLabelValues(string(t.net.Name))
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-t.jobs:
			depth.Dec()
			if err := job.ctx.Err(); err != nil {
				job.done <- treasuryResult{err: err}
				continue
			}
			hash, err := job.run(job.ctx)
			monitor.Business.TreasuryJobsTotal.WithLabelValues(string(t.net.Name), job.kind).Inc()
			job.done <- treasuryResult{hash: hash, err: err}
		}
	}
}

func (t *Treasury) submit(ctx context.Context, kind string, run func(ctx context.Context) (common.Hash, error)) (common.Hash, error) {
	job := &treasuryJob{ctx: ctx, kind: kind, run: run, done: make(chan treasuryResult, 1)}

	select {
	case t.jobs <- job:
		monitor.Business.TreasuryQueueDepth.WithLabelValues(string(t.net.Name)).Inc()
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	}

	select {
	case res := <-job.done:
		return res.hash, res.err
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	}
}

// Fund 从 treasury 向托管地址转入原生币
func (t *Treasury) Fund(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	return t.submit(ctx, jobFund, func(ctx context.Context) (common.Hash, error) {
		w, err := t.provisioner.Treasury()
		if err != nil {
			return common.Hash{}, err
		}
		nonce, err := t.nextNonce(ctx, w.Address)
		if err != nil {
			return common.Hash{}, err
		}

		receipt, err := t.sender.Send(ctx, t.net, w.Signer(), TxRequest{
			To:       to,
			Value:    amount,
			GasLimit: nativeTransferGas,
			Nonce:    &nonce,
		})
		if err != nil {
			t.nonce = nil
			return common.Hash{}, fmt.Errorf("fund %s: %w", to.Hex(), err)
		}
		next := nonce + 1
		t.nonce = &next

		t.log.Info("已补充 gas", zap.String("to", to.Hex()), zap.String("amount", amount.String()), zap.String("hash", receipt.TxHash.Hex()))
		return receipt.TxHash, nil
	})
}

// Recover 托管地址把剩余原生币转回 treasury，与 Fund 共用队列
func (t *Treasury) Recover(ctx context.Context, from *Wallet, amount, gasPrice *big.Int) (common.Hash, error) {
	return t.submit(ctx, jobRecover, func(ctx context.Context) (common.Hash, error) {
		receipt, err := t.sender.Send(ctx, t.net, from.Signer(), TxRequest{
			To:       t.address,
			Value:    amount,
			GasLimit: nativeTransferGas,
			GasPrice: gasPrice,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("recover from %s: %w", from.Address.Hex(), err)
		}
		return receipt.TxHash, nil
	})
}

func (t *Treasury) nextNonce(ctx context.Context, addr common.Address) (uint64, error) {
	if t.nonce != nil {
		return *t.nonce, nil
	}
	n, err := t.net.Client.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("treasury nonce: %w", err)
	}
	return n, nil
}
