package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"offramp-core/internal/handler/request"
	"offramp-core/internal/handler/response"
	"offramp-core/internal/model"
	"offramp-core/internal/service/offramp"
	"offramp-core/pkg/errno"
	"offramp-core/pkg/logger"
	"offramp-core/pkg/validator"
)

// OfframpService 由 offramp.StateMachine 实现
type OfframpService interface {
	CreateAddress(ctx context.Context, in offramp.CreateAddressInput) (*model.OfframpTransaction, error)
	Status(ctx context.Context, id string) (*model.OfframpTransaction, error)
	Restart(ctx context.Context, id string) (*model.OfframpTransaction, error)
}

// Enqueuer 投递推进任务
type Enqueuer interface {
	EnqueueAdvance(ctx context.Context, txID, reason string) error
}

type OfframpHandler struct {
	svc      OfframpService
	enqueuer Enqueuer
	currency string
}

func NewOfframpHandler(svc OfframpService, enqueuer Enqueuer, currency string) *OfframpHandler {
	return &OfframpHandler{svc: svc, enqueuer: enqueuer, currency: currency}
}

// AdvanceResult 推进/重启接口的返回
type AdvanceResult struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
	Queued bool         `json:"queued"`
}

// CreateAddress 分配托管地址
// @Summary 分配出金托管地址
// @Description 为用户分配一个链上托管地址，用户向该地址转入代币后自动兑换并打款到银行账户
// @Tags Offramp
// @Accept json
// @Produce json
// @Param request body request.CreateAddressRequest true "Create Address Request"
// @Success 200 {object} response.Response
// @Router /api/v1/offramp/address [post]
func (h *OfframpHandler) CreateAddress(c *gin.Context) {
	var req request.CreateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	tx, err := h.svc.CreateAddress(c.Request.Context(), offramp.CreateAddressInput{
		UserID:        req.UserID,
		Network:       model.Network(req.Network),
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		BankName:      req.BankName,
		AccountName:   req.AccountName,
		Currency:      h.currency,
	})
	if err != nil {
		response.Error(c, toErrno(err))
		return
	}
	response.Success(c, tx)
}

// GetTransaction 查询交易
// @Summary 查询出金交易
// @Tags Offramp
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Response
// @Router /api/v1/offramp/{id} [get]
func (h *OfframpHandler) GetTransaction(c *gin.Context) {
	tx, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, toErrno(err))
		return
	}
	response.Success(c, tx)
}

// Advance 异步推进流水线
// @Summary 触发流水线推进
// @Description 投递推进任务后立即返回，进度通过查询接口或状态事件获取
// @Tags Offramp
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Response
// @Router /api/v1/offramp/{id}/advance [post]
func (h *OfframpHandler) Advance(c *gin.Context) {
	ctx := c.Request.Context()
	tx, err := h.svc.Status(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, toErrno(err))
		return
	}
	if tx.Status.Terminal() {
		response.Success(c, AdvanceResult{ID: tx.ID, Status: tx.Status})
		return
	}
	if err := h.enqueuer.EnqueueAdvance(ctx, tx.ID, "api"); err != nil {
		logger.Error("投递推进任务失败", zap.String("id", tx.ID), zap.Error(err))
		response.Error(c, errno.ErrServiceBusy)
		return
	}
	response.Success(c, AdvanceResult{ID: tx.ID, Status: tx.Status, Queued: true})
}

// Restart 重启失败的交易
// @Summary 重启失败的出金交易
// @Description 重置到最早未完成的阶段并投递推进任务。已完成或已出款的交易不能重启
// @Tags Admin
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/offramp/{id}/restart [post]
func (h *OfframpHandler) Restart(c *gin.Context) {
	ctx := c.Request.Context()
	tx, err := h.svc.Restart(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, toErrno(err))
		return
	}
	queued := false
	if !tx.Status.Terminal() {
		if err := h.enqueuer.EnqueueAdvance(ctx, tx.ID, "restart"); err != nil {
			// 已重置，定时任务会接手
			logger.Warn("重启后投递推进任务失败", zap.String("id", tx.ID), zap.Error(err))
		} else {
			queued = true
		}
	}
	response.Success(c, AdvanceResult{ID: tx.ID, Status: tx.Status, Queued: queued})
}

func toErrno(err error) error {
	switch {
	case errors.Is(err, offramp.ErrNotFound):
		return errno.ErrTransactionNotFound
	case errors.Is(err, offramp.ErrUnsupportedNetwork):
		return errno.ErrUnsupportedNetwork
	case errors.Is(err, offramp.ErrWalletBusy):
		return errno.ErrWalletBusy
	case errors.Is(err, offramp.ErrPipelineBusy):
		return errno.ErrPipelineBusy
	case errors.Is(err, offramp.ErrCannotRestart):
		return errno.ErrCannotRestart.WithMessage(err.Error())
	case errors.Is(err, offramp.ErrDerivation):
		return errno.ErrDerivation
	}
	logger.Error("请求处理失败", zap.Error(err))
	return errno.InternalServerError
}
