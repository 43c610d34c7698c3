package handlers

import (
	"errors"
	"net/http"

	"github.com/brightseed/checkout/internal/app/service/intent"
	"github.com/brightseed/checkout/internal/app/service/ledger"
	"github.com/brightseed/checkout/pkg/response"

	"github.com/gin-gonic/gin"
)

const buyerIDHeader = "X-Buyer-ID"

// @Summary      Create Payment Intent
// @Description  Validates the buyer's cart and returns either a hosted payment page URL or an immediately completed transaction (free carts, approved token charges).
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        X-Buyer-ID header string true "Buyer identifier"
// @Param        request body intent.CreateIntentRequest true "Payment intent request"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/payment/intent [post]
func ApiCreatePaymentIntent(orch intent.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req intent.CreateIntentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if buyer := c.GetHeader(buyerIDHeader); buyer != "" {
			req.BuyerID = buyer
		}

		res, err := orch.CreatePaymentIntent(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, intent.ErrCartValidation) || errors.Is(err, intent.ErrInconsistentLink) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Payment Status
// @Description  Returns the transaction state and its purchases for the requesting buyer.
// @Tags         Payment
// @Produce      json
// @Param        X-Buyer-ID header string true "Buyer identifier"
// @Param        transaction_id path string true "Transaction ID"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/payment/status/{transaction_id} [get]
func ApiGetPaymentStatus(orch intent.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		buyer := c.GetHeader(buyerIDHeader)
		txnID := c.Param("transaction_id")
		if txnID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "transaction_id is required"))
			return
		}

		view, err := orch.GetPaymentStatus(c.Request.Context(), buyer, txnID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "transaction not found"))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(view))
	}
}

func RegisterPaymentRoutes(r gin.IRouter, orch intent.Orchestrator) {
	r.POST("/intent", ApiCreatePaymentIntent(orch))
	r.GET("/status/:transaction_id", ApiGetPaymentStatus(orch))
}
