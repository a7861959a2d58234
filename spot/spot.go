// Package spot holds the exchange-facing domain types shared by the gateway,
// the stream dispatcher and the trading loops.
package spot

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

type OrderStatus string

const (
	StatusNew               OrderStatus = "NEW"
	StatusPartiallyFilled   OrderStatus = "PARTIALLY_FILLED"
	StatusFilled            OrderStatus = "FILLED"
	StatusCanceled          OrderStatus = "CANCELED"
	StatusPartiallyCanceled OrderStatus = "PARTIALLY_CANCELED"
	StatusRejected          OrderStatus = "REJECTED"
)

// Strategy labels which loop originated an order. It is written into the
// ledger's Strategy column.
type Strategy string

const (
	StrategyMarketMaker Strategy = "MM"
	StrategyDCA         Strategy = "DCA"
)

// Pair is the per-symbol trading configuration. It is read-only once the
// engine has started.
type Pair struct {
	Symbol           string
	BuyMarginFactor  decimal.Decimal
	SellMarginFactor decimal.Decimal
	BuyQuantity      decimal.Decimal
	DCANotional      decimal.Decimal
	// PricePrecision is the number of decimal places limit prices are
	// rounded to.
	PricePrecision int32
}

// BuyPrice is round(bestBid × buyMarginFactor).
func (p Pair) BuyPrice(bestBid decimal.Decimal) decimal.Decimal {
	return bestBid.Mul(p.BuyMarginFactor).Round(p.PricePrecision)
}

// SellPrice is round(fillPrice × sellMarginFactor).
func (p Pair) SellPrice(fillPrice decimal.Decimal) decimal.Decimal {
	return fillPrice.Mul(p.SellMarginFactor).Round(p.PricePrecision)
}

// DCASize is the notional of a scheduled market buy, rounded to a whole unit.
func (p Pair) DCASize() decimal.Decimal {
	return p.DCANotional.Round(0)
}

// Pairs indexes pair configuration by symbol.
type Pairs map[string]Pair

func NewPairs(pairs ...Pair) Pairs {
	out := make(Pairs, len(pairs))
	for _, p := range pairs {
		out[NormalizeSymbol(p.Symbol)] = p
	}
	return out
}

func (p Pairs) Lookup(symbol string) (Pair, bool) {
	pair, ok := p[NormalizeSymbol(symbol)]
	return pair, ok
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// OrderRequest is a new order submission. Empty Price is omitted, which is the
// case for market orders.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Price         string
	Quantity      string
	ClientOrderID string
}

// OrderAck is the exchange's acknowledgement of an accepted order.
type OrderAck struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
}

// BookTicker is one entry of the public best bid/ask endpoint.
type BookTicker struct {
	Symbol  string     `json:"s"`
	BestBid NumString  `json:"b"`
	BestAsk NumString  `json:"a"`
	Time    EpochMilli `json:"t"`
}
