package broker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"tpoms/internal/models"
	"tpoms/pkg/ratelimit"
	"tpoms/pkg/retry"
)

const (
	motilalBaseURL   = "https://openapi.motilaloswal.com"
	motilalWSURL     = "wss://openapi.motilaloswal.com/ws"
	motilalUserAgent = "MOSL/V.1.1.0"
)

// Эндпоинты Motilal OpenAPI
const (
	motilalLogin        = "/rest/login/v3/authdirectapi"
	motilalLogout       = "/rest/login/v1/logout"
	motilalPlaceOrder   = "/rest/trans/v1/placeorder"
	motilalModifyOrder  = "/rest/trans/v2/modifyorder"
	motilalCancelOrder  = "/rest/trans/v1/cancelorder"
	motilalOrderBook    = "/rest/book/v2/getorderbook"
	motilalOrderDetails = "/rest/book/v2/getorderdetailbyuniqueorderid"
	motilalTradeBook    = "/rest/book/v1/gettradebook"
	motilalHoldings     = "/rest/report/v1/getholdings"
	motilalPositions    = "/rest/report/v1/getpositions"
)

// Motilal реализует Broker для Motilal Oswal OpenAPI
type Motilal struct {
	creds  models.Credentials
	opts   Options
	client *HTTPClient
	logger *zap.Logger

	mu        sync.RWMutex
	authToken string
}

// NewMotilal создаёт клиента Motilal для одного аккаунта
func NewMotilal(creds models.Credentials, opts Options) *Motilal {
	opts.withDefaults(motilalBaseURL, "", motilalWSURL, ratelimit.MotilalLimits)
	return &Motilal{
		creds:     creds,
		opts:      opts,
		client:    NewHTTPClient(opts.HTTP),
		logger:    opts.Logger,
		authToken: creds.AccessToken,
	}
}

func (m *Motilal) Name() string {
	return models.BrokerMotilal
}

func (m *Motilal) token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authToken
}

func (m *Motilal) vendorInfo() string {
	if m.creds.VendorInfo != "" {
		return m.creds.VendorInfo
	}
	return m.creds.ClientCode
}

// motilalEnvelope - общий формат ответа Motilal
type motilalEnvelope struct {
	Status        string              `json:"status"`
	Message       string              `json:"message"`
	ErrorCode     string              `json:"errorcode"`
	UniqueOrderID string              `json:"uniqueorderid"`
	AuthToken     string              `json:"AuthToken"`
	Data          jsoniter.RawMessage `json:"data"` // ключ бывает и "Data", декодер регистронезависим
}

func (e *motilalEnvelope) payload() jsoniter.RawMessage {
	return e.Data
}

// setHeaders выставляет заголовки, которые Motilal требует на каждом вызове
func (m *Motilal) setHeaders(req *http.Request, authed bool) {
	h := req.Header
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", motilalUserAgent)
	h.Set("ApiKey", m.creds.APIKey)
	h.Set("vendorinfo", m.vendorInfo())
	h.Set("SourceId", "WEB")
	h.Set("ClientLocalIp", "127.0.0.1")
	h.Set("ClientPublicIp", "127.0.0.1")
	h.Set("MacAddress", "00:00:00:00:00:00")
	h.Set("osname", "Linux")
	h.Set("osversion", "1.0")
	h.Set("devicemodel", "server")
	h.Set("manufacturer", "generic")
	h.Set("productname", "tpoms")
	h.Set("productversion", "1.0")
	h.Set("browsername", "none")
	h.Set("browserversion", "0")
	if m.creds.APISecretKey != "" {
		h.Set("apisecretkey", m.creds.APISecretKey)
	}
	if authed {
		token := m.token()
		h.Set("Authorization", token)
		h.Set("accesstoken", token)
	}
}

// doRequest отправляет JSON POST и возвращает разобранный конверт
func (m *Motilal) doRequest(ctx context.Context, category, endpoint string, payload interface{}, authed bool) (*motilalEnvelope, error) {
	if authed && m.token() == "" {
		return nil, &BrokerError{Broker: m.Name(), Code: "NO_SESSION", Message: "not logged in", Original: ErrNotLoggedIn}
	}
	if err := m.opts.Limits.Wait(ctx, category); err != nil {
		return nil, &BrokerError{Broker: m.Name(), Code: "RATE_LIMIT", Message: err.Error(), Original: err}
	}

	body, err := models.JSON.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	m.setHeaders(req, authed)

	m.logger.Debug("rest request", zap.String("endpoint", endpoint), zap.ByteString("body", redactBody(endpoint, body)))

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		observeREST(m.Name(), endpoint, start, err)
		return nil, &BrokerError{Broker: m.Name(), Code: "NETWORK", Message: err.Error(), Original: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		observeREST(m.Name(), endpoint, start, err)
		return nil, &BrokerError{Broker: m.Name(), Code: "NETWORK", Message: err.Error(), Original: err}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		be := &BrokerError{Broker: m.Name(), Code: "EMPTY_RESPONSE", Message: "Empty response from API"}
		observeREST(m.Name(), endpoint, start, be)
		return nil, be
	}

	var env motilalEnvelope
	if err := models.JSON.Unmarshal(raw, &env); err != nil {
		be := &BrokerError{
			Broker:  m.Name(),
			Code:    strconv.Itoa(resp.StatusCode),
			Message: "invalid response: " + truncate(string(raw), 200),
		}
		observeREST(m.Name(), endpoint, start, be)
		return nil, be
	}

	if strings.EqualFold(env.Status, "ERROR") || resp.StatusCode >= 400 {
		be := &BrokerError{
			Broker:  m.Name(),
			Code:    env.ErrorCode,
			Message: env.Message,
			OrderID: env.UniqueOrderID,
		}
		if be.Message == "" {
			be.Message = http.StatusText(resp.StatusCode)
		}
		if be.Code == "" && resp.StatusCode >= 400 {
			be.Code = strconv.Itoa(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			be.Original = ErrAuthFailed
		}
		observeREST(m.Name(), endpoint, start, be)
		return nil, be
	}

	observeREST(m.Name(), endpoint, start, nil)
	return &env, nil
}

// redactBody скрывает тело логина
func redactBody(endpoint string, body []byte) []byte {
	if endpoint == motilalLogin {
		return []byte(`{"redacted":true}`)
	}
	return body
}

// ============ Сессия ============

// Login выполняет прямой вход: userid, sha256(password+apikey), 2FA = дата рождения
func (m *Motilal) Login(ctx context.Context) error {
	if m.token() != "" {
		m.logger.Info("using provided auth token")
		return nil
	}
	if m.creds.ClientCode == "" || m.creds.Password == "" || m.creds.APIKey == "" {
		return fmt.Errorf("%w: missing credentials (ClientCode, Password, ApiKey required)", ErrAuthFailed)
	}

	payload := map[string]string{
		"userid":   m.creds.ClientCode,
		"password": motilalPasswordHash(m.creds.Password, m.creds.APIKey),
		"2FA":      m.creds.DOB,
	}

	cfg := retry.LoginConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.logger.Warn("login retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}

	var token string
	err := retry.Do(ctx, func() error {
		env, err := m.doRequest(ctx, ratelimit.CategorySession, motilalLogin, payload, false)
		if err != nil {
			var be *BrokerError
			if errors.As(err, &be) && be.Code != "NETWORK" {
				be.Original = ErrAuthFailed
				return retry.Permanent(be)
			}
			return err
		}
		if env.AuthToken == "" {
			return retry.Permanent(fmt.Errorf("%w: login response missing AuthToken", ErrAuthFailed))
		}
		token = env.AuthToken
		return nil
	}, cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.authToken = token
	m.mu.Unlock()

	m.logger.Info("login successful", zap.String("client_code", m.creds.ClientCode))
	return nil
}

func motilalPasswordHash(password, apiKey string) string {
	sum := sha256.Sum256([]byte(password + apiKey))
	return hex.EncodeToString(sum[:])
}

// Logout завершает сессию
func (m *Motilal) Logout(ctx context.Context) error {
	if m.token() == "" {
		return nil
	}
	_, err := m.doRequest(ctx, ratelimit.CategorySession, motilalLogout, map[string]string{"userid": m.creds.ClientCode}, true)

	m.mu.Lock()
	m.authToken = ""
	m.mu.Unlock()

	return err
}

// ============ Ордера ============

type motilalPlaceRequest struct {
	Exchange          string  `json:"exchange"`
	SymbolToken       int64   `json:"symboltoken"`
	BuyOrSell         string  `json:"buyorsell"`
	OrderType         string  `json:"ordertype"`
	ProductType       string  `json:"producttype"`
	OrderDuration     string  `json:"orderduration"`
	Price             float64 `json:"price"`
	TriggerPrice      float64 `json:"triggerprice"`
	QuantityInLot     int64   `json:"quantityinlot"`
	DisclosedQuantity int64   `json:"disclosedquantity"`
	AmoOrder          string  `json:"amoorder"`
	Tag               string  `json:"tag,omitempty"`
}

// PlaceOrder размещает ордер; Symbol содержит symboltoken
func (m *Motilal) PlaceOrder(ctx context.Context, p *OrderParams) (string, error) {
	token, err := strconv.ParseInt(strings.TrimSpace(p.Symbol), 10, 64)
	if err != nil {
		return "", &BrokerError{Broker: m.Name(), Code: "INVALID_SYMBOLTOKEN", Message: "invalid symbol token: " + p.Symbol}
	}

	req := motilalPlaceRequest{
		Exchange:          p.Exchange,
		SymbolToken:       token,
		BuyOrSell:         p.Side,
		OrderType:         p.OrderType,
		ProductType:       p.Product,
		OrderDuration:     p.Validity,
		Price:             p.Price,
		TriggerPrice:      p.TriggerPrice,
		QuantityInLot:     p.Quantity,
		DisclosedQuantity: p.DisclosedQuantity,
		AmoOrder:          "N",
		Tag:               p.Tag,
	}

	env, err := m.doRequest(ctx, ratelimit.CategoryOrders, motilalPlaceOrder, req, true)
	if err != nil {
		return "", err
	}
	id := env.orderID()
	if id == "" {
		return "", &BrokerError{Broker: m.Name(), Code: "NO_ORDER_ID", Message: "place response without uniqueorderid"}
	}
	return id, nil
}

type motilalModifyRequest struct {
	UniqueOrderID    string  `json:"uniqueorderid"`
	NewOrderType     string  `json:"newordertype"`
	NewOrderDuration string  `json:"neworderduration"`
	NewQuantityInLot int64   `json:"newquantityinlot"`
	NewPrice         float64 `json:"newprice"`
	NewTriggerPrice  float64 `json:"newtriggerprice"`
	NewDisclosedQty  int64   `json:"newdisclosedquantity"`
	QtyTradedToday   int64   `json:"qtytradedtoday"`
	LastModifiedTime string  `json:"lastmodifiedtime"`
}

// ModifyOrder изменяет ордер; lastmodifiedtime обязателен (optimistic concurrency)
func (m *Motilal) ModifyOrder(ctx context.Context, p *ModifyParams) (string, error) {
	req := motilalModifyRequest{
		UniqueOrderID:    p.BrokerOrderID,
		NewOrderType:     p.OrderType,
		NewOrderDuration: p.Validity,
		NewQuantityInLot: p.Quantity,
		NewPrice:         p.Price,
		NewTriggerPrice:  p.TriggerPrice,
		NewDisclosedQty:  p.DisclosedQuantity,
		QtyTradedToday:   p.TradedQuantity,
		LastModifiedTime: p.LastModifiedTime,
	}

	env, err := m.doRequest(ctx, ratelimit.CategoryOrders, motilalModifyOrder, req, true)
	if err != nil {
		return "", err
	}
	if id := env.orderID(); id != "" {
		return id, nil
	}
	return p.BrokerOrderID, nil
}

// CancelOrder отменяет ордер
func (m *Motilal) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := m.doRequest(ctx, ratelimit.CategoryOrders, motilalCancelOrder, map[string]string{"uniqueorderid": brokerOrderID}, true)
	return err
}

// orderID достаёт uniqueorderid из любого из встречающихся форматов ответа
func (e *motilalEnvelope) orderID() string {
	if e.UniqueOrderID != "" {
		return e.UniqueOrderID
	}
	data := e.payload()
	if len(data) == 0 {
		return ""
	}
	var nested struct {
		UniqueOrderID string `json:"uniqueorderid"`
		OrderID       string `json:"orderid"`
	}
	if err := models.JSON.Unmarshal(data, &nested); err == nil {
		if nested.UniqueOrderID != "" {
			return nested.UniqueOrderID
		}
		return nested.OrderID
	}
	var plain string
	if err := models.JSON.Unmarshal(data, &plain); err == nil {
		return plain
	}
	return ""
}

// ============ Книги и портфель ============

func (m *Motilal) clientPayload() map[string]string {
	return map[string]string{"clientcode": m.creds.ClientCode}
}

// GetOrders возвращает книгу ордеров
func (m *Motilal) GetOrders(ctx context.Context) ([]*models.OrderUpdate, error) {
	env, err := m.doRequest(ctx, ratelimit.CategoryBook, motilalOrderBook, m.clientPayload(), true)
	if err != nil {
		return nil, err
	}
	return decodeMotilalOrders(env.payload())
}

// GetOrder возвращает последнее состояние ордера
func (m *Motilal) GetOrder(ctx context.Context, brokerOrderID string) (*models.OrderUpdate, error) {
	payload := map[string]string{"clientcode": m.creds.ClientCode, "uniqueorderid": brokerOrderID}
	env, err := m.doRequest(ctx, ratelimit.CategoryBook, motilalOrderDetails, payload, true)
	if err != nil {
		return nil, err
	}
	orders, err := decodeMotilalOrders(env.payload())
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrOrderNotFound
	}
	return orders[len(orders)-1], nil
}

func decodeMotilalOrders(data jsoniter.RawMessage) ([]*models.OrderUpdate, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var orders []motilalOrder
	if err := models.JSON.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("decode order book: %w", err)
	}
	out := make([]*models.OrderUpdate, 0, len(orders))
	for i := range orders {
		out = append(out, orders[i].toUpdate(models.SourcePoll, nil))
	}
	return out, nil
}

func (m *Motilal) GetHoldings(ctx context.Context) (jsoniter.RawMessage, error) {
	env, err := m.doRequest(ctx, ratelimit.CategoryAccount, motilalHoldings, m.clientPayload(), true)
	if err != nil {
		return nil, err
	}
	return env.payload(), nil
}

func (m *Motilal) GetPositions(ctx context.Context) (jsoniter.RawMessage, error) {
	env, err := m.doRequest(ctx, ratelimit.CategoryAccount, motilalPositions, m.clientPayload(), true)
	if err != nil {
		return nil, err
	}
	return env.payload(), nil
}

func (m *Motilal) GetTrades(ctx context.Context) (jsoniter.RawMessage, error) {
	env, err := m.doRequest(ctx, ratelimit.CategoryBook, motilalTradeBook, m.clientPayload(), true)
	if err != nil {
		return nil, err
	}
	return env.payload(), nil
}

// NewFeed создаёт фид ордеров и сделок Motilal
func (m *Motilal) NewFeed(cfg FeedConfig) (Feed, error) {
	token := m.token()
	if token == "" {
		return nil, ErrNotLoggedIn
	}
	url := cfg.URL
	if url == "" {
		url = m.opts.WSURL
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	return newMotilalFeed(url, m.creds.ClientCode, token, m.creds.APIKey, cfg), nil
}

// Close освобождает соединения
func (m *Motilal) Close() error {
	m.client.Close()
	return nil
}

// ============ Модель ордера Motilal ============

// motilalOrder - строка книги ордеров и push-обновление WebSocket
type motilalOrder struct {
	UniqueOrderID     string  `json:"uniqueorderid"`
	OrderID           string  `json:"orderid"`
	ExecutionID       string  `json:"executionid"`
	ClientID          string  `json:"clientid"`
	Exchange          string  `json:"exchange"`
	SymbolToken       int64   `json:"symboltoken"`
	Symbol            string  `json:"symbol"`
	BuyOrSell         string  `json:"buyorsell"`
	OrderType         string  `json:"ordertype"`
	ProductType       string  `json:"producttype"`
	OrderDuration     string  `json:"orderduration"`
	OrderStatus       string  `json:"orderstatus"`
	OrderQty          int64   `json:"orderqty"`
	TotalQtyRemaining int64   `json:"totalqtyremaining"`
	QtyTradedToday    int64   `json:"qtytradedtoday"`
	DisclosedQty      int64   `json:"disclosedqty"`
	Price             float64 `json:"price"`
	TriggerPrice      float64 `json:"triggerprice"`
	AveragePrice      float64 `json:"averageprice"`
	EntryDateTime     string  `json:"entrydatetime"`
	LastModifiedTime  string  `json:"lastmodifiedtime"`
	Error             string  `json:"error"`
	Tag               string  `json:"tag"`
}

func (o *motilalOrder) toUpdate(src models.UpdateSource, raw []byte) *models.OrderUpdate {
	return &models.OrderUpdate{
		BrokerOrderID:     o.UniqueOrderID,
		Tag:               o.Tag,
		RawStatus:         strings.ToUpper(strings.TrimSpace(o.OrderStatus)),
		ExchangeOrderID:   o.OrderID,
		ExecutionID:       o.ExecutionID,
		Exchange:          o.Exchange,
		InstrumentID:      o.SymbolToken,
		Symbol:            o.Symbol,
		Side:              o.BuyOrSell,
		OrderType:         o.OrderType,
		Product:           o.ProductType,
		Validity:          o.OrderDuration,
		Price:             o.Price,
		TriggerPrice:      o.TriggerPrice,
		Quantity:          o.OrderQty,
		PendingQuantity:   o.TotalQtyRemaining,
		FilledQuantity:    o.QtyTradedToday,
		DisclosedQuantity: o.DisclosedQty,
		AveragePrice:      o.AveragePrice,
		OrderTime:         o.EntryDateTime,
		ExchangeTime:      o.EntryDateTime,
		UpdateTime:        o.LastModifiedTime,
		Reason:            o.Error,
		Account:           o.ClientID,
		Source:            src,
		Raw:               raw,
	}
}
