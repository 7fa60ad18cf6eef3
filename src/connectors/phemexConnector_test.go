package connectors

// Test index:
//  1. TestSignPhemexRequest validates HMAC signature generation inputs and output.
//  2. TestPhemexSubmitMarketOrder checks leverage, body and headers of a market order.
//  3. TestPhemexSubmitIsNotRetried asserts orders are sent once on a server error.
//  4. TestPhemexBusinessErrors maps business codes into the connector error taxonomy.
//  5. TestPhemexOrderStatusFromHistory falls back to closed orders and collects fills.
//  6. TestPhemexOrderStatusWithoutExecutions uses the order average price.
//  7. TestPhemexCancelMalformedID rejects ids without a pair.
//  8. TestPhemexPositionsAndInstruments decodes positions and listed products.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newstrader/src/model"
)

func newTestPhemexClient(baseURL string, httpClient *http.Client) *PhemexClient {
	return &PhemexClient{
		apiKey:    "test-key",
		apiSecret: "test-secret",
		baseURL:   baseURL,
		quote:     "USDT",
		http: resty.New().
			SetBaseURL(baseURL).
			SetTransport(httpClient.Transport).
			SetRetryCount(2).
			SetRetryWaitTime(time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Millisecond).
			AddRetryCondition(isRetryableResp),
		orders: resty.New().
			SetBaseURL(baseURL).
			SetTransport(httpClient.Transport),
	}
}

type phemexCall struct {
	recordedCall
	body map[string]any
}

type phemexStub struct {
	mu    sync.Mutex
	calls []phemexCall
}

func (s *phemexStub) record(r *http.Request) {
	call := phemexCall{recordedCall: recordedCall{method: r.Method, path: r.URL.Path, query: r.URL.Query(), header: r.Header.Clone()}}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &call.body)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func phemexOK(w http.ResponseWriter, data any) {
	writeJSON(w, map[string]any{"code": 0, "msg": "", "data": data})
}

func TestSignPhemexRequest(t *testing.T) {
	path := "/g-orders"
	query := "symbol=BTCUSDT"
	body := `{"a":1}`
	expiry := int64(1700000000)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(path + query + "1700000000" + body))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, signPhemexRequest(path, query, body, expiry, "secret"))
}

func TestPhemexSubmitMarketOrder(t *testing.T) {
	stub := &phemexStub{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.record(r)
		switch r.URL.Path {
		case "/g-positions/leverage":
			phemexOK(w, nil)
		case "/g-orders":
			phemexOK(w, map[string]any{"orderID": "ph-1", "ordStatus": "Created"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestPhemexClient(server.URL, server.Client())
	ack, err := client.SubmitOrder(context.Background(), SubmitRequest{
		ClientOrderID: "cli-1",
		Symbol:        "BTC",
		Side:          model.SideShort,
		Type:          model.OrderTypeMarket,
		Size:          decimal.RequireFromString("0.01"),
		Leverage:      decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT:ph-1", ack.ExchangeOrderID)
	assert.Equal(t, model.OrderStatePending, ack.State)

	require.Len(t, stub.calls, 2)
	assert.Equal(t, http.MethodPut, stub.calls[0].method)
	assert.Equal(t, "5", stub.calls[0].query.Get("leverageRr"))

	send := stub.calls[1]
	assert.Equal(t, http.MethodPost, send.method)
	assert.Equal(t, "BTCUSDT", send.body["symbol"])
	assert.Equal(t, "Sell", send.body["side"])
	assert.Equal(t, "Market", send.body["ordType"])
	assert.Equal(t, "0.01", send.body["orderQtyRq"])
	assert.Equal(t, "cli-1", send.body["clOrdID"])
	assert.Equal(t, "test-key", send.header.Get("x-phemex-access-token"))
	assert.NotEmpty(t, send.header.Get("x-phemex-request-signature"))
}

func TestPhemexSubmitIsNotRetried(t *testing.T) {
	stub := &phemexStub{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.record(r)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestPhemexClient(server.URL, server.Client())
	_, err := client.SubmitOrder(context.Background(), SubmitRequest{
		Symbol:     "ETH",
		Side:       model.SideLong,
		Type:       model.OrderTypeMarket,
		Size:       decimal.NewFromInt(1),
		ReduceOnly: true,
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Len(t, stub.calls, 1)
}

func TestPhemexBusinessErrors(t *testing.T) {
	rej, ok := IsRejected(ClassifyPhemexError("op", 11001, "TE_NO_ENOUGH_AVAILABLE_BALANCE"))
	require.True(t, ok)
	assert.Equal(t, "11001", rej.Code)

	assert.True(t, IsTransient(ClassifyPhemexError("op", 39995, "too many requests")))
	assert.ErrorIs(t, ClassifyPhemexError("op", 10002, "not found"), ErrOrderNotFound)
	assert.ErrorIs(t, ClassifyPhemexError("op", 10003, "pending cancel"), ErrStateConflict)

	_, ok = IsRejected(ClassifyPhemexError("op", 424242, "new code"))
	assert.True(t, ok)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": 11074, "msg": "TE_REDUCE_ONLY_ABORT"})
	}))
	defer server.Close()

	client := newTestPhemexClient(server.URL, server.Client())
	_, err := client.SubmitOrder(context.Background(), SubmitRequest{
		Symbol: "BTC", Side: model.SideLong, Type: model.OrderTypeMarket, Size: decimal.NewFromInt(1), ReduceOnly: true,
	})
	rej, ok = IsRejected(err)
	require.True(t, ok)
	assert.Equal(t, "TE_REDUCE_ONLY_ABORT", rej.Reason)
}

func TestPhemexOrderStatusFromHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		switch r.URL.Path {
		case "/g-orders/activeList":
			writeJSON(w, map[string]any{"code": 10002, "msg": "OM_ORDER_NOT_FOUND"})
		case "/api-data/g-futures/orders/by-order-id":
			phemexOK(w, []map[string]any{{"orderID": "ph-1", "ordStatus": "Filled", "cumQtyRq": "1"}})
		case "/exchange/order/v2/tradingList":
			phemexOK(w, map[string]any{"rows": []map[string]any{
				{"execID": "e1", "orderID": "ph-1", "execQtyRq": "0.4", "execPriceRp": "100", "transactTimeNs": 1700000000000000000},
				{"execID": "e2", "orderID": "ph-1", "execQtyRq": "0.6", "execPriceRp": "110", "transactTimeNs": 1700000001000000000},
				{"execID": "e3", "orderID": "other", "execQtyRq": "5", "execPriceRp": "1"},
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestPhemexClient(server.URL, server.Client())
	status, err := client.OrderStatus(context.Background(), "BTCUSDT:ph-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateFilled, status.State)
	require.Len(t, status.Fills, 2)
	assert.True(t, status.FilledSize.Equal(decimal.NewFromInt(1)))
	assert.True(t, status.AvgPrice().Equal(decimal.NewFromInt(106)))
}

func TestPhemexOrderStatusWithoutExecutions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/g-orders/activeList":
			writeJSON(w, map[string]any{"code": 10002, "msg": "OM_ORDER_NOT_FOUND"})
		case "/api-data/g-futures/orders/by-order-id":
			phemexOK(w, []map[string]any{{"orderID": "ph-2", "ordStatus": "Filled", "cumQtyRq": "2", "avgPriceRp": "101.5"}})
		case "/exchange/order/v2/tradingList":
			phemexOK(w, map[string]any{"rows": []map[string]any{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestPhemexClient(server.URL, server.Client())
	status, err := client.OrderStatus(context.Background(), "BTCUSDT:ph-2")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateFilled, status.State)
	assert.Empty(t, status.Fills)
	assert.True(t, status.AvgPrice().Equal(decimal.RequireFromString("101.5")))
}

func TestPhemexCancelMalformedID(t *testing.T) {
	client := newTestPhemexClient("http://127.0.0.1:1", http.DefaultClient)
	err := client.CancelOrder(context.Background(), "ph-1")
	_, ok := IsRejected(err)
	assert.True(t, ok)
}

func TestPhemexPositionsAndInstruments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/g-accounts/positions":
			assert.Equal(t, "USDT", r.URL.Query().Get("currency"))
			phemexOK(w, map[string]any{"positions": []map[string]any{
				{"symbol": "ETHUSDT", "side": "Sell", "sizeRq": "2", "avgEntryPriceRp": "2000", "leverageRr": "-10"},
				{"symbol": "BTCUSDT", "side": "None", "sizeRq": "0"},
			}})
		case "/public/products":
			phemexOK(w, map[string]any{"perpProductsV2": []map[string]any{
				{"symbol": "BTCUSDT", "status": "Listed", "baseCurrency": "BTC", "quoteCurrency": "USDT", "qtyStepSize": "0.001", "tickSize": "0.1", "maxOrderQtyRq": "100", "maxLeverage": 100},
				{"symbol": "u1000PEPEUSDT", "status": "Listed", "baseCurrency": "1000 PEPE", "quoteCurrency": "USDT", "qtyStepSize": "1", "tickSize": "0.0000001", "maxLeverage": 50},
				{"symbol": "OLDUSDT", "status": "Delisted", "quoteCurrency": "USDT"},
				{"symbol": "BTCUSD", "status": "Listed", "quoteCurrency": "USD"},
			}})
		}
	}))
	defer server.Close()

	client := newTestPhemexClient(server.URL, server.Client())

	positions, err := client.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "ETH", positions[0].Symbol)
	assert.True(t, positions[0].Size.Equal(decimal.NewFromInt(-2)))
	assert.True(t, positions[0].Leverage.Equal(decimal.NewFromInt(10)))

	instruments, err := client.Instruments(context.Background())
	require.NoError(t, err)
	require.Len(t, instruments, 2)
	assert.Equal(t, "BTC", instruments[0].Symbol)
	assert.Equal(t, PhemexExchangeID, instruments[0].ExchangeID)
	assert.True(t, instruments[0].MinSize.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, "PEPE", instruments[1].Symbol)
}
