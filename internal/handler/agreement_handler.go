package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/blues/collab/internal/logic"
	"github.com/gin-gonic/gin"
)

type AgreementHandler struct {
	agreementLogic *logic.AgreementLogic
}

func NewAgreementHandler(agreementLogic *logic.AgreementLogic) *AgreementHandler {
	return &AgreementHandler{agreementLogic: agreementLogic}
}

// CreateAgreement 创建协议，调用者为创建者
func (h *AgreementHandler) CreateAgreement(c *gin.Context) {
	var req CreateAgreementRequest
	if !bindJSON(c, &req, false) {
		return
	}

	agreement, err := h.agreementLogic.InitializeAgreement(c.Request.Context(), logic.CreateAgreementInput{
		Id:          req.Id,
		Creator:     Principal(c),
		Title:       req.Title,
		Description: req.Description,
		FundingGoal: req.FundingGoal,
		IPTerms:     req.IPTerms.toModel(),
		Draft:       req.Draft,
	})
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "agreement created", agreement)
}

// ListAgreements 获取协议列表
func (h *AgreementHandler) ListAgreements(c *gin.Context) {
	agreements, err := h.agreementLogic.ListAgreements(c.Request.Context())
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", agreements)
}

// GetAgreement 获取协议详情
func (h *AgreementHandler) GetAgreement(c *gin.Context) {
	agreement, err := h.agreementLogic.GetAgreement(c.Request.Context(), c.Param("id"))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", agreement)
}

// GetVault 获取金库状态
func (h *AgreementHandler) GetVault(c *gin.Context) {
	agreement, err := h.agreementLogic.GetAgreement(c.Request.Context(), c.Param("id"))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", VaultResponse{
		AgreementId:    agreement.Id,
		VaultAccount:   agreement.VaultAccount,
		Balance:        agreement.VaultBalance,
		FundsRaised:    agreement.FundsRaised,
		TotalReleased:  agreement.TotalReleased,
		TotalReclaimed: agreement.TotalReclaimed,
		FundingGoal:    agreement.FundingGoal,
	})
}

// AddParticipant 添加协议成员
func (h *AgreementHandler) AddParticipant(c *gin.Context) {
	var req AddParticipantRequest
	if !bindJSON(c, &req, false) {
		return
	}

	if err := h.agreementLogic.AddParticipant(c.Request.Context(), c.Param("id"), Principal(c), req.Address, req.IsAdmin); err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "participant added", nil)
}

// AddMilestone 添加里程碑
func (h *AgreementHandler) AddMilestone(c *gin.Context) {
	var req AddMilestoneRequest
	if !bindJSON(c, &req, false) {
		return
	}

	index, err := h.agreementLogic.AddMilestone(c.Request.Context(), c.Param("id"), Principal(c), req.Description, req.DueDate, req.Amount)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "milestone added", AddMilestoneResponse{Index: index})
}

// SetRecipient 修改里程碑收款人
func (h *AgreementHandler) SetRecipient(c *gin.Context) {
	index, ok := milestoneIndex(c)
	if !ok {
		return
	}
	var req SetRecipientRequest
	if !bindJSON(c, &req, false) {
		return
	}

	if err := h.agreementLogic.SetRecipient(c.Request.Context(), c.Param("id"), Principal(c), index, req.Recipient); err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "recipient updated", nil)
}

// CompleteMilestone 标记里程碑完成
func (h *AgreementHandler) CompleteMilestone(c *gin.Context) {
	index, ok := milestoneIndex(c)
	if !ok {
		return
	}

	if err := h.agreementLogic.CompleteMilestone(c.Request.Context(), c.Param("id"), Principal(c), index); err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "milestone completed", nil)
}

// ReleasePayment 释放里程碑款项，调用者即授权人
func (h *AgreementHandler) ReleasePayment(c *gin.Context) {
	index, ok := milestoneIndex(c)
	if !ok {
		return
	}

	caller := Principal(c)
	if err := h.agreementLogic.ReleasePayment(c.Request.Context(), c.Param("id"), caller, caller, index); err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "payment released", nil)
}

// FundVault 从调用者账户向金库出资
func (h *AgreementHandler) FundVault(c *gin.Context) {
	var req FundVaultRequest
	if !bindJSON(c, &req, false) {
		return
	}

	caller := Principal(c)
	if err := h.agreementLogic.FundVault(c.Request.Context(), c.Param("id"), caller, caller, req.Amount); err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "vault funded", nil)
}

// Activate 激活草稿协议
func (h *AgreementHandler) Activate(c *gin.Context) {
	if err := h.agreementLogic.Activate(c.Request.Context(), c.Param("id"), Principal(c)); err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "agreement activated", nil)
}

// SubmitForReview 提交审核
func (h *AgreementHandler) SubmitForReview(c *gin.Context) {
	if err := h.agreementLogic.SubmitForReview(c.Request.Context(), c.Param("id"), Principal(c)); err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "agreement submitted for review", nil)
}

// FileDispute 发起争议
func (h *AgreementHandler) FileDispute(c *gin.Context) {
	var req FileDisputeRequest
	if !bindJSON(c, &req, true) {
		return
	}

	if err := h.agreementLogic.FileDispute(c.Request.Context(), c.Param("id"), Principal(c), req.Reason); err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "dispute filed", nil)
}

// ResolveDispute 处理争议
func (h *AgreementHandler) ResolveDispute(c *gin.Context) {
	var req ResolveDisputeRequest
	if !bindJSON(c, &req, false) {
		return
	}

	err := h.agreementLogic.ResolveDispute(c.Request.Context(), c.Param("id"), Principal(c), logic.Resolution(req.Resolution), req.Note)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "dispute resolved", nil)
}

// ReclaimFunds 取回已完成协议的剩余资金
func (h *AgreementHandler) ReclaimFunds(c *gin.Context) {
	var req ReclaimFundsRequest
	if !bindJSON(c, &req, true) {
		return
	}

	caller := Principal(c)
	amount, err := h.agreementLogic.ReclaimFunds(c.Request.Context(), c.Param("id"), caller, caller, req.Destination)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "funds reclaimed", ReclaimFundsResponse{Amount: amount})
}

// bindJSON 解析请求体，optional 为 true 时允许空请求体
func bindJSON(c *gin.Context, obj interface{}, optional bool) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	ErrorResponse(c, http.StatusBadRequest, logic.ErrorCode(logic.ErrInvalidArgument), err.Error())
	return false
}

func milestoneIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, logic.ErrorCode(logic.ErrInvalidMilestoneIndex), "milestone index must be an integer")
		return 0, false
	}
	return index, true
}
