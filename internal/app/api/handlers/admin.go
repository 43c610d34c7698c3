package handlers

import (
	"errors"
	"net/http"

	"github.com/brightseed/checkout/internal/app/service/ledger"
	"github.com/brightseed/checkout/internal/app/service/poller"
	"github.com/brightseed/checkout/internal/app/service/statistics"
	"github.com/brightseed/checkout/pkg/response"

	"github.com/gin-gonic/gin"
)

// @Summary      List Transactions
// @Description  Filterable, paginated transaction listing for the back office.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ledger.ScanTransactionsRequest true "Listing request"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/transactions [post]
func ApiAdminListTransactions(store ledger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ledger.ScanTransactionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := store.ScanTransactions(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type checkTransactionResp struct {
	TransactionID string `json:"transaction_id"`
	Outcome       string `json:"outcome"`
}

// @Summary      Check Transaction
// @Description  Forces a gateway status check for one transaction, outside the poll schedule.
// @Tags         Admin
// @Produce      json
// @Param        transaction_id path string true "Transaction ID"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/transactions/{transaction_id}/check [post]
func ApiAdminCheckTransaction(store ledger.Store, p *poller.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		txnID := c.Param("transaction_id")
		txn, err := store.GetTransaction(c.Request.Context(), txnID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "transaction not found"))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		outcome := p.CheckTransaction(c.Request.Context(), txn)
		c.JSON(http.StatusOK, response.OKT(checkTransactionResp{
			TransactionID: txnID,
			Outcome:       string(outcome),
		}))
	}
}

// @Summary      Run Poll Cycle
// @Description  Triggers one reconciliation cycle immediately and returns its report.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/poller/run [post]
func ApiAdminRunPollCycle(p *poller.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := p.PollAllPending(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(report))
	}
}

// @Summary      Checkout Statistics
// @Description  Returns the requested statistic series (counts, GMV, completion sources).
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.CheckoutStatisticRequest true "Statistics request"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/statistics [post]
func ApiAdminStatistics(stats *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.CheckoutStatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := stats.GetCheckoutStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, store ledger.Store, p *poller.Service, stats *statistics.Service) {
	r.POST("/transactions", ApiAdminListTransactions(store))
	r.POST("/transactions/:transaction_id/check", ApiAdminCheckTransaction(store, p))
	r.POST("/poller/run", ApiAdminRunPollCycle(p))
	r.POST("/statistics", ApiAdminStatistics(stats))
}
