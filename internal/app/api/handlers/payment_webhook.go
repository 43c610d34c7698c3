package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brightseed/checkout/internal/app/service/completion"
	"github.com/brightseed/checkout/internal/app/service/ledger"
	notificationlog "github.com/brightseed/checkout/internal/app/service/notification_log"
	"github.com/brightseed/checkout/internal/models"
	"github.com/brightseed/checkout/pkg/logctx"
	"github.com/brightseed/checkout/pkg/response"
	"github.com/brightseed/checkout/pkg/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// payPlusCallback is the tolerant shape of a PayPlus IPN delivery: fields may
// appear at the top level or nested under "transaction" depending on the
// gateway's mood.
type payPlusCallback struct {
	TransactionUID string           `json:"transaction_uid"`
	PageRequestUID string           `json:"page_request_uid"`
	MoreInfo       string           `json:"more_info"`
	StatusCode     string           `json:"status_code"`
	Status         string           `json:"status"`
	Token          string           `json:"token"`
	CardBrand      string           `json:"brand_name"`
	FourDigits     string           `json:"four_digits"`
	Transaction    *payPlusCallback `json:"transaction"`
}

func (p *payPlusCallback) flatten() *payPlusCallback {
	if p.Transaction == nil {
		return p
	}
	out := *p.Transaction
	if out.MoreInfo == "" {
		out.MoreInfo = p.MoreInfo
	}
	if out.PageRequestUID == "" {
		out.PageRequestUID = p.PageRequestUID
	}
	return &out
}

func (p *payPlusCallback) approved() bool {
	if p.StatusCode == "000" {
		return true
	}
	switch strings.ToLower(p.Status) {
	case "approved", "success", "completed", "paid":
		return true
	}
	return false
}

// declined requires an explicit negative answer, mirroring the poller's
// classification. An empty or unknown status means the buyer may still be on
// the payment page; failing the transaction on it would kill a live payment.
func (p *payPlusCallback) declined() bool {
	switch strings.ToLower(p.Status) {
	case "rejected", "failed", "declined", "cancelled", "error":
		return true
	}
	return false
}

type WebhookDeps struct {
	Store    ledger.Store
	Arbiter  completion.Arbiter
	NotifLog *notificationlog.Service
	Logger   *zap.SugaredLogger
}

// @Summary      PayPlus Webhook
// @Description  Handles PayPlus IPN callbacks. The transaction is matched by the more_info echo or the page request UID.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        payload body string true "PayPlus IPN payload"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/payment/webhook/payplus [post]
func ApiPayPlusWebhook(deps WebhookDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromCtx(c, deps.Logger)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "failed to read body"))
			return
		}

		var cb payPlusCallback
		if err := json.Unmarshal(body, &cb); err != nil {
			log.Warnw("webhook_payplus_bad_payload", "error", err.Error())
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "malformed payload"))
			return
		}
		flat := cb.flatten()
		log.Infow("webhook_payplus_received",
			"more_info", flat.MoreInfo, "page_request_uid", flat.PageRequestUID, "status_code", flat.StatusCode)

		entry := &models.PaymentNotificationLog{
			Source:           types.CompletionSourceWebhook,
			TraceID:          c.GetString("traceID"),
			PageRequestUID:   flat.PageRequestUID,
			NotificationTime: time.Now(),
			Data:             body,
			Status:           models.PaymentNotificationLogStatusReceived,
		}

		txnID, err := resolveTransactionID(c, deps.Store, flat)
		if err != nil {
			log.Errorw("webhook_payplus_unmatched", "error", err.Error())
			deps.NotifLog.Save(c, withResult(entry, models.PaymentNotificationLogStatusHandleFailed, err.Error()))
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "transaction not found"))
			return
		}
		entry.TransactionID = txnID

		payload := &completion.GatewayPayload{
			TransactionUID: flat.TransactionUID,
			StatusCode:     flat.StatusCode,
			Status:         flat.Status,
			Token:          flat.Token,
			CardBrand:      flat.CardBrand,
			FourDigits:     flat.FourDigits,
			Raw:            body,
		}

		var res *completion.Result
		switch {
		case flat.approved():
			res, err = deps.Arbiter.ProcessCompletion(c.Request.Context(), txnID, payload, types.CompletionSourceWebhook)
		case flat.declined():
			res, err = deps.Arbiter.HandleFailedTransaction(c.Request.Context(), txnID, payload, types.CompletionSourceWebhook)
		default:
			// Inconclusive notification: log it and leave the transaction
			// alone. The poller or a later callback settles it.
			log.Infow("webhook_payplus_inconclusive",
				"transaction_id", txnID, "status", flat.Status, "status_code", flat.StatusCode)
			deps.NotifLog.Save(c, withResult(entry, models.PaymentNotificationLogStatusHandled, map[string]any{
				"ignored": true,
				"status":  flat.Status,
			}))
			c.JSON(http.StatusOK, response.OKT(map[string]any{
				"transaction_id": txnID,
				"ignored":        true,
			}))
			return
		}
		if err != nil {
			log.Errorw("webhook_payplus_handle_error", "transaction_id", txnID, "error", err.Error())
			deps.NotifLog.Save(c, withResult(entry, models.PaymentNotificationLogStatusHandleFailed, err.Error()))
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}

		deps.NotifLog.Save(c, withResult(entry, models.PaymentNotificationLogStatusHandled, res))
		log.Infow("webhook_payplus_handled",
			"transaction_id", txnID, "status", res.Status, "already_processed", res.AlreadyProcessed)
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func resolveTransactionID(c *gin.Context, store ledger.Store, cb *payPlusCallback) (string, error) {
	if cb.MoreInfo != "" {
		return cb.MoreInfo, nil
	}
	if cb.PageRequestUID != "" {
		txn, err := store.GetTransactionByPageUID(c.Request.Context(), cb.PageRequestUID)
		if err != nil {
			return "", err
		}
		return txn.ID, nil
	}
	return "", errors.New("callback carries neither more_info nor page_request_uid")
}

func withResult(entry *models.PaymentNotificationLog, status models.PaymentNotificationLogStatus, result any) *models.PaymentNotificationLog {
	entry.Status = status
	if b, err := json.Marshal(result); err == nil {
		r := datatypes.JSON(b)
		entry.Result = &r
	}
	return entry
}

func RegisterPaymentWebhookRoutes(r gin.IRouter, deps WebhookDeps) {
	r.POST("/payplus", ApiPayPlusWebhook(deps))
}
