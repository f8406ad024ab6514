package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"tpoms/internal/models"
	"tpoms/pkg/ratelimit"
)

const (
	kiteBaseURL    = "https://api.kite.trade"
	kiteLoginURL   = "https://kite.zerodha.com"
	kiteWSURL      = "wss://ws.kite.trade"
	kiteAPIVersion = "3"
)

// Options - адреса и транспорт одного брокерского клиента
type Options struct {
	BaseURL  string // REST
	LoginURL string // web-логин (только Zerodha)
	WSURL    string

	HTTP   HTTPClientConfig
	Limits *ratelimit.Group
	Logger *zap.Logger

	// Now - источник времени для TOTP
	Now func() time.Time
}

func (o *Options) withDefaults(base, login, ws string, limits func() *ratelimit.Group) {
	if o.BaseURL == "" {
		o.BaseURL = base
	}
	if o.LoginURL == "" {
		o.LoginURL = login
	}
	if o.WSURL == "" {
		o.WSURL = ws
	}
	if o.HTTP.TotalTimeout == 0 {
		o.HTTP = DefaultHTTPClientConfig()
	}
	if o.Limits == nil {
		o.Limits = limits()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Zerodha реализует Broker для Kite Connect v3
type Zerodha struct {
	creds  models.Credentials
	opts   Options
	client *HTTPClient
	logger *zap.Logger

	mu          sync.RWMutex
	accessToken string
}

// NewZerodha создаёт клиента Kite Connect для одного аккаунта
func NewZerodha(creds models.Credentials, opts Options) *Zerodha {
	opts.withDefaults(kiteBaseURL, kiteLoginURL, kiteWSURL, ratelimit.KiteLimits)
	return &Zerodha{
		creds:       creds,
		opts:        opts,
		client:      NewHTTPClient(opts.HTTP),
		logger:      opts.Logger,
		accessToken: creds.AccessToken,
	}
}

func (z *Zerodha) Name() string {
	return models.BrokerZerodha
}

func (z *Zerodha) token() string {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.accessToken
}

// kiteEnvelope - общий формат ответа Kite
type kiteEnvelope struct {
	Status    string              `json:"status"`
	Message   string              `json:"message"`
	ErrorType string              `json:"error_type"`
	Data      jsoniter.RawMessage `json:"data"`
}

// doRequest выполняет запрос к Kite Connect и возвращает поле data
//
// GET/DELETE передают параметры в query, POST/PUT - form-urlencoded телом.
func (z *Zerodha) doRequest(ctx context.Context, category, method, endpoint string, params url.Values, authed bool) (jsoniter.RawMessage, error) {
	if err := z.opts.Limits.Wait(ctx, category); err != nil {
		return nil, &BrokerError{Broker: z.Name(), Code: "RATE_LIMIT", Message: err.Error(), Original: err}
	}

	reqURL := z.opts.BaseURL + endpoint
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Kite-Version", kiteAPIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if authed {
		token := z.token()
		if token == "" {
			return nil, &BrokerError{Broker: z.Name(), Code: "NO_SESSION", Message: "not logged in", Original: ErrNotLoggedIn}
		}
		req.Header.Set("Authorization", "token "+z.creds.APIKey+":"+token)
	}

	start := time.Now()
	resp, err := z.client.Do(req)
	if err != nil {
		observeREST(z.Name(), endpoint, start, err)
		return nil, &BrokerError{Broker: z.Name(), Code: "NETWORK", Message: err.Error(), Original: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		observeREST(z.Name(), endpoint, start, err)
		return nil, &BrokerError{Broker: z.Name(), Code: "NETWORK", Message: err.Error(), Original: err}
	}

	var env kiteEnvelope
	if err := models.JSON.Unmarshal(raw, &env); err != nil {
		err = &BrokerError{
			Broker:  z.Name(),
			Code:    strconv.Itoa(resp.StatusCode),
			Message: "invalid response: " + truncate(string(raw), 200),
		}
		observeREST(z.Name(), endpoint, start, err)
		return nil, err
	}

	if resp.StatusCode >= 400 || env.Status != "success" {
		be := &BrokerError{Broker: z.Name(), Code: env.ErrorType, Message: env.Message}
		if be.Code == "" {
			be.Code = strconv.Itoa(resp.StatusCode)
		}
		if be.Message == "" {
			be.Message = http.StatusText(resp.StatusCode)
		}
		if env.ErrorType == "TokenException" || resp.StatusCode == http.StatusForbidden {
			be.Original = ErrAuthFailed
		}
		observeREST(z.Name(), endpoint, start, be)
		return nil, be
	}

	observeREST(z.Name(), endpoint, start, nil)
	return env.Data, nil
}

// ============ Ордера ============

type kiteOrderID struct {
	OrderID string `json:"order_id"`
}

// PlaceOrder размещает обычный (regular) ордер
func (z *Zerodha) PlaceOrder(ctx context.Context, p *OrderParams) (string, error) {
	form := url.Values{}
	form.Set("tradingsymbol", p.Symbol)
	form.Set("exchange", p.Exchange)
	form.Set("transaction_type", p.Side)
	form.Set("order_type", p.OrderType)
	form.Set("quantity", strconv.FormatInt(p.Quantity, 10))
	form.Set("product", p.Product)
	form.Set("validity", p.Validity)
	form.Set("price", formatPrice(p.Price))
	form.Set("trigger_price", formatPrice(p.TriggerPrice))
	if p.DisclosedQuantity > 0 {
		form.Set("disclosed_quantity", strconv.FormatInt(p.DisclosedQuantity, 10))
	}
	if p.Tag != "" {
		form.Set("tag", p.Tag)
	}

	data, err := z.doRequest(ctx, ratelimit.CategoryOrders, http.MethodPost, "/orders/regular", form, true)
	if err != nil {
		return "", err
	}
	return decodeKiteOrderID(data)
}

// ModifyOrder изменяет ордер; Kite сохраняет order_id
func (z *Zerodha) ModifyOrder(ctx context.Context, p *ModifyParams) (string, error) {
	form := url.Values{}
	form.Set("order_type", p.OrderType)
	form.Set("quantity", strconv.FormatInt(p.Quantity, 10))
	form.Set("price", formatPrice(p.Price))
	form.Set("trigger_price", formatPrice(p.TriggerPrice))
	form.Set("disclosed_quantity", strconv.FormatInt(p.DisclosedQuantity, 10))
	form.Set("validity", p.Validity)

	data, err := z.doRequest(ctx, ratelimit.CategoryOrders, http.MethodPut, "/orders/regular/"+url.PathEscape(p.BrokerOrderID), form, true)
	if err != nil {
		return "", err
	}
	id, err := decodeKiteOrderID(data)
	if err != nil || id == "" {
		return p.BrokerOrderID, nil
	}
	return id, nil
}

// CancelOrder отменяет ордер
func (z *Zerodha) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := z.doRequest(ctx, ratelimit.CategoryOrders, http.MethodDelete, "/orders/regular/"+url.PathEscape(brokerOrderID), nil, true)
	return err
}

func decodeKiteOrderID(data jsoniter.RawMessage) (string, error) {
	var out kiteOrderID
	if err := models.JSON.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode order_id: %w", err)
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("decode order_id: empty")
	}
	return out.OrderID, nil
}

// ============ Книги и портфель ============

// GetOrders возвращает все ордера за день
func (z *Zerodha) GetOrders(ctx context.Context) ([]*models.OrderUpdate, error) {
	data, err := z.doRequest(ctx, ratelimit.CategoryBook, http.MethodGet, "/orders", nil, true)
	if err != nil {
		return nil, err
	}
	var orders []kiteOrder
	if err := models.JSON.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	out := make([]*models.OrderUpdate, 0, len(orders))
	for i := range orders {
		out = append(out, orders[i].toUpdate(models.SourcePoll, nil))
	}
	return out, nil
}

// GetOrder возвращает последнее состояние из истории ордера
func (z *Zerodha) GetOrder(ctx context.Context, brokerOrderID string) (*models.OrderUpdate, error) {
	data, err := z.doRequest(ctx, ratelimit.CategoryBook, http.MethodGet, "/orders/"+url.PathEscape(brokerOrderID), nil, true)
	if err != nil {
		return nil, err
	}
	var history []kiteOrder
	if err := models.JSON.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decode order history: %w", err)
	}
	if len(history) == 0 {
		return nil, ErrOrderNotFound
	}
	return history[len(history)-1].toUpdate(models.SourcePoll, nil), nil
}

func (z *Zerodha) GetHoldings(ctx context.Context) (jsoniter.RawMessage, error) {
	return z.doRequest(ctx, ratelimit.CategoryAccount, http.MethodGet, "/portfolio/holdings", nil, true)
}

func (z *Zerodha) GetPositions(ctx context.Context) (jsoniter.RawMessage, error) {
	return z.doRequest(ctx, ratelimit.CategoryAccount, http.MethodGet, "/portfolio/positions", nil, true)
}

func (z *Zerodha) GetTrades(ctx context.Context) (jsoniter.RawMessage, error) {
	return z.doRequest(ctx, ratelimit.CategoryBook, http.MethodGet, "/trades", nil, true)
}

// NewFeed создаёт фид order postback'ов Kite
func (z *Zerodha) NewFeed(cfg FeedConfig) (Feed, error) {
	token := z.token()
	if token == "" {
		return nil, ErrNotLoggedIn
	}
	base := cfg.URL
	if base == "" {
		base = z.opts.WSURL
	}
	q := url.Values{}
	q.Set("api_key", z.creds.APIKey)
	q.Set("access_token", token)
	if cfg.Logger == nil {
		cfg.Logger = z.logger
	}
	return newZerodhaFeed(base+"?"+q.Encode(), cfg), nil
}

// Close освобождает соединения
func (z *Zerodha) Close() error {
	z.client.Close()
	return nil
}

// ============ Модель ордера Kite ============

// kiteOrder - ордер в книге Kite и в order postback
type kiteOrder struct {
	OrderID                 string  `json:"order_id"`
	ExchangeOrderID         string  `json:"exchange_order_id"`
	PlacedBy                string  `json:"placed_by"`
	Status                  string  `json:"status"`
	StatusMessage           string  `json:"status_message"`
	OrderTimestamp          string  `json:"order_timestamp"`
	ExchangeTimestamp       string  `json:"exchange_timestamp"`
	ExchangeUpdateTimestamp string  `json:"exchange_update_timestamp"`
	Exchange                string  `json:"exchange"`
	TradingSymbol           string  `json:"tradingsymbol"`
	InstrumentToken         int64   `json:"instrument_token"`
	TransactionType         string  `json:"transaction_type"`
	OrderType               string  `json:"order_type"`
	Product                 string  `json:"product"`
	Validity                string  `json:"validity"`
	Price                   float64 `json:"price"`
	TriggerPrice            float64 `json:"trigger_price"`
	Quantity                int64   `json:"quantity"`
	DisclosedQuantity       int64   `json:"disclosed_quantity"`
	PendingQuantity         int64   `json:"pending_quantity"`
	FilledQuantity          int64   `json:"filled_quantity"`
	AveragePrice            float64 `json:"average_price"`
	Tag                     string  `json:"tag"`
}

func (o *kiteOrder) toUpdate(src models.UpdateSource, raw []byte) *models.OrderUpdate {
	updateTime := o.ExchangeUpdateTimestamp
	if updateTime == "" {
		updateTime = o.ExchangeTimestamp
	}
	if updateTime == "" {
		updateTime = o.OrderTimestamp
	}
	return &models.OrderUpdate{
		BrokerOrderID:     o.OrderID,
		Tag:               o.Tag,
		RawStatus:         strings.ToUpper(strings.TrimSpace(o.Status)),
		ExchangeOrderID:   o.ExchangeOrderID,
		Exchange:          o.Exchange,
		InstrumentID:      o.InstrumentToken,
		Symbol:            o.TradingSymbol,
		Side:              o.TransactionType,
		OrderType:         o.OrderType,
		Product:           o.Product,
		Validity:          o.Validity,
		Price:             o.Price,
		TriggerPrice:      o.TriggerPrice,
		Quantity:          o.Quantity,
		PendingQuantity:   o.PendingQuantity,
		FilledQuantity:    o.FilledQuantity,
		DisclosedQuantity: o.DisclosedQuantity,
		AveragePrice:      o.AveragePrice,
		OrderTime:         o.OrderTimestamp,
		ExchangeTime:      o.ExchangeTimestamp,
		UpdateTime:        updateTime,
		Reason:            o.StatusMessage,
		Account:           o.PlacedBy,
		Source:            src,
		Raw:               raw,
	}
}

// ============ Helpers ============

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
