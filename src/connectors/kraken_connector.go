package connectors

// REST client for Kraken Futures (v3 /derivatives) implementing ExchangeAdapter.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/model"
)

const (
	KrakenExchangeID                = "kraken"
	defaultKrakenDerivativesBaseURL = "https://futures.kraken.com/derivatives"
	apiV3Prefix                     = "/api/v3"
)

// -----------------------------
// CLIENT
// -----------------------------
type KrakenFuturesClient struct {
	apiKey    string
	apiSecret string // base64-encoded secret from Kraken
	baseURL   string
	quote     string
	prefix    string

	// http retries idempotent calls; orders goes through a client with retries disabled
	http   *resty.Client
	orders *resty.Client
}

func NewKrakenFuturesClient(apiKey, apiSecret string, cfg Config) *KrakenFuturesClient {
	baseURL := cfg.KrakenBaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultKrakenDerivativesBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.KrakenTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	orderClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	quote := cfg.KrakenQuote
	if quote == "" {
		quote = "USD"
	}

	return &KrakenFuturesClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		quote:     quote,
		prefix:    cfg.KrakenPairPrefix,
		http:      httpClient,
		orders:    orderClient,
	}
}

func (c *KrakenFuturesClient) ID() string {
	return KrakenExchangeID
}

// -----------------------------
// AUTH
// -----------------------------
//
// Kraken Futures REST (v3 /derivatives/*) Authent:
//  1) message = postData + Nonce + endpointPath
//  2) sha256(message)
//  3) base64-decode apiSecret
//  4) hmac-sha512(secretDecoded, sha256Digest)
//  5) base64-encode result
//
// endpointPath is /api/v3/... without the /derivatives prefix.

func nonceMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func computeAuthent(postData, nonce, endpointPath, apiSecretB64 string) (string, error) {
	msg := postData + nonce + endpointPath

	sum := sha256.Sum256([]byte(msg))

	secret, err := base64.StdEncoding.DecodeString(apiSecretB64)
	if err != nil {
		return "", fmt.Errorf("base64 decode api secret failed: %w", err)
	}

	mac := hmac.New(sha512.New, secret)
	_, _ = mac.Write(sum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// spaces are encoded as %20, not '+', so the signed query matches the raw URI component
func queryEscapeRFC3986(s string) string {
	esc := url.QueryEscape(s)
	return strings.ReplaceAll(esc, "+", "%20")
}

func encodeValuesRFC3986(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := v[k]
		sort.Strings(vals)
		ek := queryEscapeRFC3986(k)
		for _, val := range vals {
			parts = append(parts, ek+"="+queryEscapeRFC3986(val))
		}
	}
	return strings.Join(parts, "&")
}

// -----------------------------
// LOW-LEVEL REQUESTS
// -----------------------------
type krakenBaseResp struct {
	Result     string `json:"result"`
	Error      string `json:"error,omitempty"`
	ServerTime string `json:"serverTime,omitempty"`
}

func (c *KrakenFuturesClient) doPublicRequest(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	return c.doRequest(ctx, c.http, method, endpoint, params, false, out)
}

func (c *KrakenFuturesClient) doPrivateRequest(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	return c.doRequest(ctx, c.http, method, endpoint, params, true, out)
}

func (c *KrakenFuturesClient) doRequest(ctx context.Context, client *resty.Client, method, endpoint string, params url.Values, auth bool, out any) error {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	path := apiV3Prefix + endpoint
	op := strings.ToLower(method) + " " + endpoint

	postData := encodeValuesRFC3986(params)

	req := client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")

	if auth {
		nonce := nonceMillis()
		authent, err := computeAuthent(postData, nonce, path, c.apiSecret)
		if err != nil {
			return &RejectedError{Code: "authenticationError", Reason: err.Error()}
		}

		req = req.
			SetHeader("APIKey", c.apiKey).
			SetHeader("Nonce", nonce).
			SetHeader("Authent", authent)
	}

	// parameters travel in the query string so the signature matches what is sent
	if postData != "" {
		req = req.SetQueryString(postData)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return NewTransient(op, ctx.Err())
		}
		return NewTransient(op, err)
	}

	raw := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return classifyHTTPStatus(op, resp.StatusCode(), raw)
	}

	// Kraken Futures often answers HTTP 200 with {result:"error", error:"..."}.
	var base krakenBaseResp
	if err := json.Unmarshal(raw, &base); err != nil {
		return NewTransient(op, fmt.Errorf("json unmarshal failed: %w. raw=%s", err, string(raw)))
	}
	if strings.EqualFold(base.Result, "error") {
		if base.Error == "" {
			return &RejectedError{Code: "error", Reason: "kraken futures returned result=error"}
		}
		return ClassifyKrakenError(op, base.Error)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return NewTransient(op, fmt.Errorf("json unmarshal into output failed: %w. raw=%s", err, string(raw)))
		}
	}

	return nil
}

// -----------------------------
// TRADING
// -----------------------------
type SendOrderRequest struct {
	OrderType  string // required: lmt, post, ioc, mkt, stp, take_profit
	Symbol     string // required: e.g. PF_XBTUSD
	Side       string // required: buy, sell
	Size       decimal.Decimal
	LimitPrice decimal.Decimal // zero when unused
	StopPrice  decimal.Decimal // zero when unused
	CliOrdID   string
	ReduceOnly bool
	// TriggerSignal is mark, index or last; empty leaves the exchange default
	TriggerSignal string
}

func (r SendOrderRequest) toValues() (url.Values, error) {
	v := url.Values{}

	if strings.TrimSpace(r.OrderType) == "" {
		return nil, errors.New("orderType is required")
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return nil, errors.New("symbol is required")
	}
	if strings.TrimSpace(r.Side) == "" {
		return nil, errors.New("side is required")
	}
	if !r.Size.IsPositive() {
		return nil, errors.New("size must be > 0")
	}

	v.Set("orderType", strings.ToLower(r.OrderType))
	v.Set("symbol", r.Symbol)
	v.Set("side", strings.ToLower(r.Side))
	v.Set("size", r.Size.String())

	if !r.LimitPrice.IsZero() {
		v.Set("limitPrice", r.LimitPrice.String())
	}
	if !r.StopPrice.IsZero() {
		v.Set("stopPrice", r.StopPrice.String())
	}
	if strings.TrimSpace(r.CliOrdID) != "" {
		v.Set("cliOrdId", r.CliOrdID)
	}
	if strings.TrimSpace(r.TriggerSignal) != "" {
		v.Set("triggerSignal", strings.ToLower(r.TriggerSignal))
	}
	if r.ReduceOnly {
		v.Set("reduceOnly", "true")
	}

	return v, nil
}

type SendOrderResponse struct {
	Result     string `json:"result"`
	ServerTime string `json:"serverTime"`

	SendStatus struct {
		ReceivedTime string `json:"receivedTime"`
		Status       string `json:"status"`
		OrderID      string `json:"order_id"`
	} `json:"sendStatus"`

	OrderEvents json.RawMessage `json:"orderEvents,omitempty"`
}

// SendOrder posts one order. It is sent exactly once; a transport failure is
// reported as transient and the caller must reconcile through OrderStatus.
func (c *KrakenFuturesClient) SendOrder(ctx context.Context, req SendOrderRequest) (*SendOrderResponse, error) {
	params, err := req.toValues()
	if err != nil {
		return nil, &RejectedError{Code: "invalidArgument", Reason: err.Error()}
	}

	var out SendOrderResponse
	if err := c.doRequest(ctx, c.orders, http.MethodPost, "/sendorder", params, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetLeverage sets the max leverage preference for a pair.
func (c *KrakenFuturesClient) SetLeverage(ctx context.Context, pair string, leverage decimal.Decimal) error {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("maxLeverage", leverage.String())
	return c.doPrivateRequest(ctx, http.MethodPut, "/leveragepreferences", params, nil)
}

func krakenOrderType(t string) (string, error) {
	switch t {
	case model.OrderTypeMarket:
		return "mkt", nil
	case model.OrderTypeLimit:
		return "lmt", nil
	case model.OrderTypeStop:
		return "stp", nil
	case model.OrderTypeTakeProfit:
		return "take_profit", nil
	default:
		return "", fmt.Errorf("unsupported order type %q", t)
	}
}

func krakenSide(side string) string {
	if side == model.SideShort {
		return "sell"
	}
	return "buy"
}

func (c *KrakenFuturesClient) SubmitOrder(ctx context.Context, req SubmitRequest) (OrderAck, error) {
	ordType, err := krakenOrderType(req.Type)
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

	send := SendOrderRequest{
		OrderType:  ordType,
		Symbol:     pair,
		Side:       krakenSide(req.Side),
		Size:       req.Size,
		CliOrdID:   req.ClientOrderID,
		ReduceOnly: req.ReduceOnly,
	}
	switch req.Type {
	case model.OrderTypeLimit:
		send.LimitPrice = req.LimitPrice
	case model.OrderTypeStop, model.OrderTypeTakeProfit:
		send.StopPrice = req.TriggerPrice
		send.TriggerSignal = "mark"
	}

	resp, err := c.SendOrder(ctx, send)
	if err != nil {
		return OrderAck{}, err
	}

	status := resp.SendStatus.Status
	switch status {
	case "placed", "partiallyFilled", "untouched":
		return OrderAck{ExchangeOrderID: resp.SendStatus.OrderID, State: model.OrderStatePending}, nil
	case "filled":
		return OrderAck{ExchangeOrderID: resp.SendStatus.OrderID, State: model.OrderStateFilled}, nil
	default:
		return OrderAck{}, ClassifyKrakenError("post /sendorder", status)
	}
}

type CancelOrderResponse struct {
	Result       string `json:"result"`
	CancelStatus struct {
		Status  string `json:"status"`
		OrderID string `json:"order_id"`
	} `json:"cancelStatus"`
}

func (c *KrakenFuturesClient) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("order_id", exchangeOrderID)

	var out CancelOrderResponse
	if err := c.doPrivateRequest(ctx, http.MethodPost, "/cancelorder", params, &out); err != nil {
		return err
	}

	switch out.CancelStatus.Status {
	case "cancelled":
		return nil
	default:
		return ClassifyKrakenError("post /cancelorder", out.CancelStatus.Status)
	}
}

type CancelAllOrdersResponse struct {
	Result       string `json:"result"`
	ServerTime   string `json:"serverTime"`
	CancelStatus struct {
		Status          string          `json:"status"`
		CancelledOrders json.RawMessage `json:"cancelledOrders,omitempty"`
	} `json:"cancelStatus"`
}

func (c *KrakenFuturesClient) CancelAllOrders(ctx context.Context, pair string) (*CancelAllOrdersResponse, error) {
	params := url.Values{}
	if strings.TrimSpace(pair) != "" {
		params.Set("symbol", pair)
	}

	var out CancelAllOrdersResponse
	if err := c.doPrivateRequest(ctx, http.MethodPost, "/cancelallorders", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -----------------------------
// PRIVATE QUERIES
// -----------------------------
type krakenOrderStatusResponse struct {
	Result string `json:"result"`
	Orders []struct {
		Order struct {
			OrderID  string  `json:"orderId"`
			Symbol   string  `json:"symbol"`
			Side     string  `json:"side"`
			Quantity float64 `json:"quantity"`
			Filled   float64 `json:"filled"`
		} `json:"order"`
		Status       string  `json:"status"`
		UpdateReason *string `json:"updateReason"`
		Error        *string `json:"error"`
	} `json:"orders"`
}

type FillsResponse struct {
	Result string       `json:"result"`
	Fills  []KrakenFill `json:"fills"`
}

type KrakenFill struct {
	FillID   string  `json:"fill_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	OrderID  string  `json:"order_id"`
	Size     float64 `json:"size"`
	Price    float64 `json:"price"`
	FillTime string  `json:"fillTime"`
	FillType string  `json:"fillType"`
}

func (c *KrakenFuturesClient) GetFills(ctx context.Context) (*FillsResponse, error) {
	var out FillsResponse
	if err := c.doPrivateRequest(ctx, http.MethodGet, "/fills", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func krakenStatusToState(status string) string {
	switch status {
	case "FULLY_EXECUTED":
		return model.OrderStateFilled
	case "REJECTED":
		return model.OrderStateRejected
	case "CANCELLED":
		return model.OrderStateCancelled
	default: // ENTERED_BOOK, TRIGGER_PLACED, TRIGGER_ACTIVATED
		return model.OrderStatePending
	}
}

func (c *KrakenFuturesClient) OrderStatus(ctx context.Context, exchangeOrderID string) (OrderStatus, error) {
	params := url.Values{}
	params.Set("orderIds", exchangeOrderID)

	var out krakenOrderStatusResponse
	if err := c.doPrivateRequest(ctx, http.MethodPost, "/orders/status", params, &out); err != nil {
		return OrderStatus{}, err
	}

	fills, err := c.fillsForOrder(ctx, exchangeOrderID)
	if err != nil {
		return OrderStatus{}, err
	}

	status := OrderStatus{ExchangeOrderID: exchangeOrderID, Fills: fills}
	for _, f := range fills {
		status.FilledSize = status.FilledSize.Add(f.Size)
	}

	if len(out.Orders) == 0 {
		// closed orders drop out of the status endpoint; fills are what remains
		if len(fills) == 0 {
			return OrderStatus{}, fmt.Errorf("order %s: %w", exchangeOrderID, ErrOrderNotFound)
		}
		status.State = model.OrderStateFilled
		return status, nil
	}

	o := out.Orders[0]
	status.State = krakenStatusToState(o.Status)
	if o.Error != nil {
		status.Reason = *o.Error
	} else if o.UpdateReason != nil {
		status.Reason = *o.UpdateReason
	}
	return status, nil
}

func (c *KrakenFuturesClient) fillsForOrder(ctx context.Context, exchangeOrderID string) ([]FillReport, error) {
	resp, err := c.GetFills(ctx)
	if err != nil {
		return nil, err
	}

	var out []FillReport
	for _, f := range resp.Fills {
		if f.OrderID != exchangeOrderID {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, f.FillTime)
		out = append(out, FillReport{
			FillID: f.FillID,
			Size:   decimal.NewFromFloat(f.Size),
			Price:  decimal.NewFromFloat(f.Price),
			Time:   ts,
		})
	}
	return out, nil
}

type OpenPositionsResponse struct {
	Result        string         `json:"result"`
	ServerTime    string         `json:"serverTime"`
	OpenPositions []OpenPosition `json:"openPositions"`
}

type OpenPosition struct {
	FillTime         string   `json:"fillTime,omitempty"`
	Price            float64  `json:"price,omitempty"`
	Side             string   `json:"side,omitempty"` // long or short
	Size             float64  `json:"size,omitempty"`
	Symbol           string   `json:"symbol,omitempty"`
	MaxFixedLeverage *float64 `json:"maxFixedLeverage,omitempty"`
}

func (c *KrakenFuturesClient) GetOpenPositions(ctx context.Context) (*OpenPositionsResponse, error) {
	var out OpenPositionsResponse
	if err := c.doPrivateRequest(ctx, http.MethodGet, "/openpositions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *KrakenFuturesClient) Positions(ctx context.Context) ([]model.Position, error) {
	resp, err := c.GetOpenPositions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.Position, 0, len(resp.OpenPositions))
	for _, p := range resp.OpenPositions {
		if p.Size == 0 {
			continue
		}
		size := decimal.NewFromFloat(p.Size)
		if strings.EqualFold(p.Side, model.SideShort) {
			size = size.Neg()
		}
		pos := model.Position{
			Symbol:     c.SymbolFor(p.Symbol),
			Size:       size,
			EntryPrice: decimal.NewFromFloat(p.Price),
		}
		if p.MaxFixedLeverage != nil {
			pos.Leverage = decimal.NewFromFloat(*p.MaxFixedLeverage)
		}
		out = append(out, pos)
	}
	return out, nil
}

// -----------------------------
// PUBLIC MARKET DATA
// -----------------------------
type InstrumentsResponse struct {
	Result      string             `json:"result"`
	Instruments []KrakenInstrument `json:"instruments"`
}

type KrakenInstrument struct {
	Symbol                      string  `json:"symbol"`
	Type                        string  `json:"type"`
	Base                        string  `json:"base"`
	Quote                       string  `json:"quote"`
	Tradeable                   bool    `json:"tradeable"`
	TickSize                    float64 `json:"tickSize"`
	ContractValueTradePrecision int32   `json:"contractValueTradePrecision"`
	MaxPositionSize             float64 `json:"maxPositionSize"`
	MarginLevels                []struct {
		InitialMargin float64 `json:"initialMargin"`
	} `json:"marginLevels"`
}

func (c *KrakenFuturesClient) Instruments(ctx context.Context) ([]model.Instrument, error) {
	var out InstrumentsResponse
	if err := c.doPublicRequest(ctx, http.MethodGet, "/instruments", nil, &out); err != nil {
		return nil, err
	}

	instruments := make([]model.Instrument, 0, len(out.Instruments))
	for _, in := range out.Instruments {
		if !in.Tradeable || !strings.HasPrefix(in.Symbol, c.prefix) {
			continue
		}
		if in.Quote != "" && !strings.EqualFold(in.Quote, c.quote) {
			continue
		}

		symbol := c.SymbolFor(in.Symbol)
		if in.Base != "" {
			symbol = normalizeKrakenBase(in.Base)
		}

		inst := model.Instrument{
			Symbol:     symbol,
			Pair:       in.Symbol,
			ExchangeID: KrakenExchangeID,
			MinSize:    decimal.New(1, -in.ContractValueTradePrecision),
			MaxSize:    decimal.NewFromFloat(in.MaxPositionSize),
			TickSize:   decimal.NewFromFloat(in.TickSize),
		}
		if len(in.MarginLevels) > 0 && in.MarginLevels[0].InitialMargin > 0 {
			inst.MaxLeverage = decimal.NewFromInt(1).
				Div(decimal.NewFromFloat(in.MarginLevels[0].InitialMargin)).Round(0)
		}
		instruments = append(instruments, inst)
	}

	logger.WithFields(map[string]any{"count": len(instruments)}).Debug("Kraken instruments loaded")
	return instruments, nil
}

func normalizeKrakenBase(base string) string {
	base = strings.ToUpper(base)
	if base == "XBT" {
		return "BTC"
	}
	return base
}

// PairFor builds the exchange pair for a coin symbol, e.g. BTC -> PF_XBTUSD.
func (c *KrakenFuturesClient) PairFor(symbol string) string {
	base := strings.ToUpper(symbol)
	if base == "BTC" {
		base = "XBT"
	}
	return c.prefix + base + c.quote
}

// SymbolFor strips prefix and quote from an exchange pair, e.g. PF_XBTUSD -> BTC.
func (c *KrakenFuturesClient) SymbolFor(pair string) string {
	base := strings.TrimPrefix(strings.ToUpper(pair), strings.ToUpper(c.prefix))
	base = strings.TrimSuffix(base, strings.ToUpper(c.quote))
	return normalizeKrakenBase(base)
}
