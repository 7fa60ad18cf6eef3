package connectors

// REST client for Phemex USDT-M perpetuals implementing ExchangeAdapter.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/model"
)

const (
	PhemexExchangeID      = "phemex"
	defaultPhemexBaseURL  = "https://testnet-api.phemex.com"
	phemexOrderIDSep      = ":"
	phemexRequestValidity = time.Minute
)

// -----------------------------
// API RESPONSE WRAPPER
// -----------------------------
type phemexResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// phemexErrorCodes maps Phemex business codes to the connector error taxonomy.
var phemexErrorCodes = map[int]errorClass{
	10001: classRejected,  // duplicated order id
	10002: classNotFound,  // order not found
	10003: classConflict,  // order already pending cancel
	10005: classConflict,  // order not open
	11001: classRejected,  // insufficient available balance
	11027: classRejected,  // invalid symbol
	11074: classRejected,  // reduce only would increase position
	19999: classTransient, // request timeout
	39995: classTransient, // too many requests
	39996: classTransient, // service unavailable
}

// ClassifyPhemexError converts a non-zero Phemex code into the connector error taxonomy.
func ClassifyPhemexError(op string, code int, msg string) error {
	class, ok := phemexErrorCodes[code]
	if !ok {
		return &RejectedError{Code: strconv.Itoa(code), Reason: msg}
	}
	switch class {
	case classTransient:
		return NewTransient(op, fmt.Errorf("phemex error %d: %s", code, msg))
	case classConflict:
		return fmt.Errorf("%s: %s: %w", op, msg, ErrStateConflict)
	case classNotFound:
		return fmt.Errorf("%s: %w", op, ErrOrderNotFound)
	default:
		return &RejectedError{Code: strconv.Itoa(code), Reason: msg}
	}
}

// -----------------------------
// AUTHENTICATED CLIENT
// -----------------------------
type PhemexClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	quote     string

	// http retries idempotent calls; orders goes through a client with retries disabled
	http   *resty.Client
	orders *resty.Client
}

func NewPhemexClient(apiKey, apiSecret string, cfg Config) *PhemexClient {
	baseURL := cfg.PhemexBaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultPhemexBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.PhemexTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	quote := cfg.PhemexQuote
	if quote == "" {
		quote = "USDT"
	}

	return &PhemexClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		quote:     quote,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(defaultRetryAttempts - 1).
			SetRetryWaitTime(defaultRetryBaseDelay).
			SetRetryMaxWaitTime(defaultRetryMaxBackoff).
			AddRetryCondition(isRetryableResp),
		orders: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout),
	}
}

func (c *PhemexClient) ID() string {
	return PhemexExchangeID
}

// signPhemexRequest signs path + query + expiry + body with HMAC-SHA256.
func signPhemexRequest(path, query, body string, expiry int64, secret string) string {
	base := path + query + strconv.FormatInt(expiry, 10) + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *PhemexClient) doRequest(ctx context.Context, client *resty.Client, method, path string, query url.Values, body any, out any) error {
	op := strings.ToLower(method) + " " + path
	qs := query.Encode()

	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &RejectedError{Code: "invalidArgument", Reason: err.Error()}
		}
		raw = b
	}

	expiry := time.Now().Add(phemexRequestValidity).Unix()
	req := client.R().
		SetContext(ctx).
		SetHeader("x-phemex-access-token", c.apiKey).
		SetHeader("x-phemex-request-expiry", strconv.FormatInt(expiry, 10)).
		SetHeader("x-phemex-request-signature", signPhemexRequest(path, qs, string(raw), expiry, c.apiSecret))
	if qs != "" {
		req = req.SetQueryString(qs)
	}
	if raw != nil {
		req = req.SetBody(raw).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return NewTransient(op, ctx.Err())
		}
		return NewTransient(op, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return classifyHTTPStatus(op, resp.StatusCode(), resp.Body())
	}

	var decoded phemexResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return NewTransient(op, fmt.Errorf("json unmarshal failed: %w. raw=%s", err, string(resp.Body())))
	}
	if decoded.Code != 0 {
		return ClassifyPhemexError(op, decoded.Code, decoded.Msg)
	}
	if out != nil && len(decoded.Data) > 0 {
		if err := json.Unmarshal(decoded.Data, out); err != nil {
			return NewTransient(op, fmt.Errorf("json unmarshal data failed: %w", err))
		}
	}
	return nil
}

// PairFor builds the exchange pair for a coin symbol, e.g. BTC -> BTCUSDT.
func (c *PhemexClient) PairFor(symbol string) string {
	return strings.ToUpper(symbol) + c.quote
}

// SymbolFor strips the quote currency from an exchange pair.
func (c *PhemexClient) SymbolFor(pair string) string {
	return strings.TrimSuffix(strings.ToUpper(pair), strings.ToUpper(c.quote))
}

// Exchange order ids carry the pair because cancel and status calls are per symbol.
func phemexOrderRef(pair, orderID string) string {
	return pair + phemexOrderIDSep + orderID
}

func splitPhemexOrderRef(ref string) (pair, orderID string, err error) {
	pair, orderID, ok := strings.Cut(ref, phemexOrderIDSep)
	if !ok || pair == "" || orderID == "" {
		return "", "", &RejectedError{Code: "invalidArgument", Reason: fmt.Sprintf("malformed phemex order id %q", ref)}
	}
	return pair, orderID, nil
}

// -----------------------------
// TRADING
// -----------------------------
type phemexOrder struct {
	OrderID     string `json:"orderID"`
	ClOrdID     string `json:"clOrdID"`
	Symbol      string `json:"symbol"`
	OrdStatus   string `json:"ordStatus"`
	CumQtyRq    string `json:"cumQtyRq"`
	AvgPriceRp  string `json:"avgPriceRp"`
	ExecStatus  string `json:"execStatus"`
	BizError    int    `json:"bizError"`
	OrderQtyRq  string `json:"orderQtyRq"`
	ReduceOnly  bool   `json:"reduceOnly"`
	PosSide     string `json:"posSide"`
	TransactTms int64  `json:"transactTimeNs"`
}

func phemexOrderType(t string) (string, error) {
	switch t {
	case model.OrderTypeMarket:
		return "Market", nil
	case model.OrderTypeLimit:
		return "Limit", nil
	case model.OrderTypeStop:
		return "Stop", nil
	case model.OrderTypeTakeProfit:
		return "MarketIfTouched", nil
	default:
		return "", fmt.Errorf("unsupported order type %q", t)
	}
}

func phemexSide(side string) string {
	if side == model.SideShort {
		return "Sell"
	}
	return "Buy"
}

func phemexStatusToState(status string) string {
	switch status {
	case "Filled":
		return model.OrderStateFilled
	case "Canceled", "Deactivated":
		return model.OrderStateCancelled
	case "Rejected":
		return model.OrderStateRejected
	default: // Created, Untriggered, Triggered, New, PartiallyFilled
		return model.OrderStatePending
	}
}

// SetLeverage sets the one-way leverage of a pair.
func (c *PhemexClient) SetLeverage(ctx context.Context, pair string, leverage decimal.Decimal) error {
	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("leverageRr", leverage.String())
	return c.doRequest(ctx, c.http, http.MethodPut, "/g-positions/leverage", q, nil, nil)
}

func (c *PhemexClient) SubmitOrder(ctx context.Context, req SubmitRequest) (OrderAck, error) {
	ordType, err := phemexOrderType(req.Type)
	if err != nil {
		return OrderAck{}, &RejectedError{Code: "unknownOrderType", Reason: err.Error()}
	}

	pair := req.Pair
	if pair == "" {
		pair = c.PairFor(req.Symbol)
	}

	if !req.ReduceOnly && req.Leverage.IsPositive() {
		if err := c.SetLeverage(ctx, pair, req.Leverage); err != nil {
			return OrderAck{}, fmt.Errorf("set leverage: %w", err)
		}
	}

	body := map[string]interface{}{
		"symbol":     pair,
		"clOrdID":    req.ClientOrderID,
		"side":       phemexSide(req.Side),
		"posSide":    "Merged",
		"ordType":    ordType,
		"orderQtyRq": req.Size.String(),
		"reduceOnly": req.ReduceOnly,
	}
	switch req.Type {
	case model.OrderTypeMarket:
		body["timeInForce"] = "ImmediateOrCancel"
	case model.OrderTypeLimit:
		body["priceRp"] = req.LimitPrice.String()
		body["timeInForce"] = "GoodTillCancel"
	case model.OrderTypeStop, model.OrderTypeTakeProfit:
		body["stopPxRp"] = req.TriggerPrice.String()
		body["triggerType"] = "ByMarkPrice"
		body["closeOnTrigger"] = req.ReduceOnly
	}

	var out phemexOrder
	if err := c.doRequest(ctx, c.orders, http.MethodPost, "/g-orders", nil, body, &out); err != nil {
		return OrderAck{}, err
	}
	if out.BizError != 0 {
		return OrderAck{}, ClassifyPhemexError("post /g-orders", out.BizError, out.OrdStatus)
	}

	state := phemexStatusToState(out.OrdStatus)
	if state == model.OrderStateRejected || state == model.OrderStateCancelled {
		return OrderAck{}, &RejectedError{Code: out.OrdStatus, Reason: "order " + strings.ToLower(out.OrdStatus)}
	}
	return OrderAck{ExchangeOrderID: phemexOrderRef(pair, out.OrderID), State: state}, nil
}

func (c *PhemexClient) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	pair, orderID, err := splitPhemexOrderRef(exchangeOrderID)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("orderID", orderID)
	q.Set("posSide", "Merged")

	var out phemexOrder
	if err := c.doRequest(ctx, c.orders, http.MethodDelete, "/g-orders/cancel", q, nil, &out); err != nil {
		return err
	}
	if out.OrdStatus == "Filled" {
		return fmt.Errorf("cancel %s: %w", exchangeOrderID, ErrStateConflict)
	}
	return nil
}

// -----------------------------
// ORDER QUERIES
// -----------------------------
type phemexRows[T any] struct {
	Rows []T `json:"rows"`
}

type phemexFill struct {
	ExecID      string `json:"execID"`
	OrderID     string `json:"orderID"`
	ExecQtyRq   string `json:"execQtyRq"`
	ExecPriceRp string `json:"execPriceRp"`
	TransactTms int64  `json:"transactTimeNs"`
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c *PhemexClient) activeOrder(ctx context.Context, pair, orderID string) (*phemexOrder, error) {
	q := url.Values{}
	q.Set("symbol", pair)
	var out phemexRows[phemexOrder]
	if err := c.doRequest(ctx, c.http, http.MethodGet, "/g-orders/activeList", q, nil, &out); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, nil
		}
		return nil, err
	}
	for i := range out.Rows {
		if out.Rows[i].OrderID == orderID {
			return &out.Rows[i], nil
		}
	}
	return nil, nil
}

func (c *PhemexClient) closedOrder(ctx context.Context, pair, orderID string) (*phemexOrder, error) {
	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("orderID", orderID)
	var out []phemexOrder
	if err := c.doRequest(ctx, c.http, http.MethodGet, "/api-data/g-futures/orders/by-order-id", q, nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].OrderID == orderID {
			return &out[i], nil
		}
	}
	return nil, nil
}

func (c *PhemexClient) fillsForOrder(ctx context.Context, pair, orderID string) ([]FillReport, error) {
	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("orderID", orderID)
	var out phemexRows[phemexFill]
	if err := c.doRequest(ctx, c.http, http.MethodGet, "/exchange/order/v2/tradingList", q, nil, &out); err != nil {
		return nil, err
	}

	var fills []FillReport
	for _, f := range out.Rows {
		if f.OrderID != orderID {
			continue
		}
		fills = append(fills, FillReport{
			FillID: f.ExecID,
			Size:   parseDecimal(f.ExecQtyRq),
			Price:  parseDecimal(f.ExecPriceRp),
			Time:   time.Unix(0, f.TransactTms).UTC(),
		})
	}
	return fills, nil
}

func (c *PhemexClient) OrderStatus(ctx context.Context, exchangeOrderID string) (OrderStatus, error) {
	pair, orderID, err := splitPhemexOrderRef(exchangeOrderID)
	if err != nil {
		return OrderStatus{}, err
	}

	order, err := c.activeOrder(ctx, pair, orderID)
	if err != nil {
		return OrderStatus{}, err
	}
	if order == nil {
		if order, err = c.closedOrder(ctx, pair, orderID); err != nil {
			return OrderStatus{}, err
		}
	}
	if order == nil {
		return OrderStatus{}, fmt.Errorf("order %s: %w", exchangeOrderID, ErrOrderNotFound)
	}

	fills, err := c.fillsForOrder(ctx, pair, orderID)
	if err != nil {
		return OrderStatus{}, err
	}

	status := OrderStatus{
		ExchangeOrderID: exchangeOrderID,
		State:           phemexStatusToState(order.OrdStatus),
		FilledSize:      parseDecimal(order.CumQtyRq),
		AvgFillPrice:    parseDecimal(order.AvgPriceRp),
		Fills:           fills,
	}
	if status.State == model.OrderStateRejected || status.State == model.OrderStateCancelled {
		status.Reason = order.ExecStatus
	}
	return status, nil
}

// -----------------------------
// POSITIONS
// -----------------------------
type phemexAccountPositions struct {
	Account struct {
		AccountID        int64  `json:"accountId"`
		Currency         string `json:"currency"`
		AccountBalanceRv string `json:"accountBalanceRv"`
	} `json:"account"`

	Positions []struct {
		Symbol          string `json:"symbol"`
		Side            string `json:"side"`
		PosSide         string `json:"posSide"`
		SizeRq          string `json:"sizeRq"`
		AvgEntryPriceRp string `json:"avgEntryPriceRp"`
		MarkPriceRp     string `json:"markPriceRp"`
		LeverageRr      string `json:"leverageRr"`
		LiquidationRp   string `json:"liquidationPriceRp"`
	} `json:"positions"`
}

func (c *PhemexClient) Positions(ctx context.Context) ([]model.Position, error) {
	q := url.Values{}
	q.Set("currency", c.quote)

	var out phemexAccountPositions
	if err := c.doRequest(ctx, c.http, http.MethodGet, "/g-accounts/positions", q, nil, &out); err != nil {
		return nil, err
	}

	positions := make([]model.Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		size := parseDecimal(p.SizeRq)
		if size.IsZero() {
			continue
		}
		if p.Side == "Sell" {
			size = size.Abs().Neg()
		}
		positions = append(positions, model.Position{
			Symbol:           c.SymbolFor(p.Symbol),
			Size:             size,
			EntryPrice:       parseDecimal(p.AvgEntryPriceRp),
			MarkPrice:        parseDecimal(p.MarkPriceRp),
			Leverage:         parseDecimal(p.LeverageRr).Abs(),
			LiquidationPrice: parseDecimal(p.LiquidationRp),
		})
	}
	return positions, nil
}

// -----------------------------
// PUBLIC MARKET DATA
// -----------------------------
type phemexProducts struct {
	PerpProductsV2 []struct {
		Symbol        string `json:"symbol"`
		Status        string `json:"status"`
		BaseCurrency  string `json:"baseCurrency"`
		QuoteCurrency string `json:"quoteCurrency"`
		QtyStepSize   string `json:"qtyStepSize"`
		TickSize      string `json:"tickSize"`
		MaxOrderQtyRq string `json:"maxOrderQtyRq"`
		MaxLeverage   int64  `json:"maxLeverage"`
	} `json:"perpProductsV2"`
}

func (c *PhemexClient) Instruments(ctx context.Context) ([]model.Instrument, error) {
	var out phemexProducts
	if err := c.doRequest(ctx, c.http, http.MethodGet, "/public/products", nil, nil, &out); err != nil {
		return nil, err
	}

	instruments := make([]model.Instrument, 0, len(out.PerpProductsV2))
	for _, p := range out.PerpProductsV2 {
		if p.Status != "Listed" || !strings.EqualFold(p.QuoteCurrency, c.quote) {
			continue
		}
		symbol := c.SymbolFor(p.Symbol)
		if base := strings.Fields(p.BaseCurrency); len(base) > 0 {
			symbol = strings.ToUpper(base[len(base)-1])
		}
		instruments = append(instruments, model.Instrument{
			Symbol:      symbol,
			Pair:        p.Symbol,
			ExchangeID:  PhemexExchangeID,
			MinSize:     parseDecimal(p.QtyStepSize),
			MaxSize:     parseDecimal(p.MaxOrderQtyRq),
			MaxLeverage: decimal.NewFromInt(p.MaxLeverage),
			TickSize:    parseDecimal(p.TickSize),
		})
	}

	logger.WithFields(map[string]any{"count": len(instruments)}).Debug("Phemex instruments loaded")
	return instruments, nil
}
