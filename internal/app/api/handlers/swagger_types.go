package handlers

import (
	"github.com/brightseed/checkout/internal/app/service/statistics"
	"github.com/brightseed/checkout/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespCheckoutStatistic wraps CheckoutStatisticResponse in the standard envelope.
type RespCheckoutStatistic struct {
	Code    response.APIResponseCode             `json:"code"`
	Message string                               `json:"message"`
	Data    statistics.CheckoutStatisticResponse `json:"data"`
}
