package exchange

import "github.com/shopspring/decimal"

const (
	opMarketOrder = "create_market_order"
	opSetTPSL     = "set_position_tpsl"
	opLeverage    = "update_leverage"
)

type marketOrderData struct {
	Symbol          string `json:"symbol"`
	Amount          string `json:"amount"`
	Side            string `json:"side"`
	ReduceOnly      bool   `json:"reduce_only"`
	SlippagePercent string `json:"slippage_percent"`
	ClientOrderID   string `json:"client_order_id"`
}

type stopPrice struct {
	StopPrice string `json:"stop_price"`
}

type tpslData struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	TakeProfit stopPrice `json:"take_profit"`
	StopLoss   stopPrice `json:"stop_loss"`
}

type leverageData struct {
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}

type wsRequest struct {
	ID     string         `json:"id"`
	Params map[string]any `json:"params"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
}

type positionWire struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Amount     decimal.Decimal `json:"amount"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

type positionsResponse struct {
	apiResponse
	Data []positionWire `json:"data"`
}
