package mapper

import (
	"errors"
	"testing"

	"tpoms/internal/broker"
	"tpoms/internal/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		class  StatusClass
		action models.PendingAction
		want   models.OrderStatus
	}{
		{ClassAck, models.ActionPlace, models.StatusNew},
		{ClassAck, models.ActionModify, models.StatusReplaced},
		{ClassAck, models.ActionCancel, models.StatusUnmapped},
		{ClassAck, models.ActionNone, models.StatusUnmapped},
		{ClassPartial, models.ActionNone, models.StatusPartiallyFilled},
		{ClassPartial, models.ActionModify, models.StatusPartiallyFilled},
		{ClassFilled, models.ActionCancel, models.StatusFilled},
		{ClassCancelled, models.ActionNone, models.StatusCancelled},
		{ClassReplaced, models.ActionModify, models.StatusReplaced},
		{ClassRejected, models.ActionPlace, models.StatusRejected},
		{ClassRejected, models.ActionModify, models.StatusReplaceRejected},
		{ClassRejected, models.ActionCancel, models.StatusCancelRejected},
		{ClassRejected, models.ActionNone, models.StatusRejected},
		{ClassNoise, models.ActionPlace, models.StatusUnmapped},
		{ClassUnknown, models.ActionPlace, models.StatusUnmapped},
	}

	for _, tt := range tests {
		t.Run(tt.class.String()+"/"+tt.action.String(), func(t *testing.T) {
			if got := Normalize(tt.class, tt.action); got != tt.want {
				t.Errorf("ожидалось %q, получено %q", tt.want, got)
			}
		})
	}
}

func TestProfileNormalize_AckWithPendingCancel(t *testing.T) {
	tests := []struct {
		profile Profile
		action  models.PendingAction
		want    models.OrderStatus
	}{
		{Zerodha(), models.ActionCancel, models.StatusUnmapped},
		{Zerodha(), models.ActionPlace, models.StatusNew},
		{Motilal(), models.ActionCancel, models.StatusCancelled},
		{Motilal(), models.ActionModify, models.StatusReplaced},
	}

	for _, tt := range tests {
		t.Run(tt.profile.Broker()+"/"+tt.action.String(), func(t *testing.T) {
			if got := tt.profile.Normalize(ClassAck, tt.action); got != tt.want {
				t.Errorf("ожидалось %q, получено %q", tt.want, got)
			}
		})
	}

	// остальные классы совпадают с общей таблицей
	if got := Motilal().Normalize(ClassFilled, models.ActionCancel); got != models.StatusFilled {
		t.Errorf("Filled при cancel: %q", got)
	}
}

func TestZerodhaClassify(t *testing.T) {
	p := Zerodha()
	tests := []struct {
		name   string
		update models.OrderUpdate
		want   StatusClass
	}{
		{"open", models.OrderUpdate{RawStatus: "OPEN"}, ClassAck},
		{"open lower case", models.OrderUpdate{RawStatus: "open"}, ClassAck},
		{"open partially filled", models.OrderUpdate{RawStatus: "OPEN", FilledQuantity: 3}, ClassPartial},
		{"trigger pending", models.OrderUpdate{RawStatus: "TRIGGER PENDING"}, ClassAck},
		{"modified", models.OrderUpdate{RawStatus: "MODIFIED"}, ClassReplaced},
		{"complete", models.OrderUpdate{RawStatus: "COMPLETE"}, ClassFilled},
		{"cancelled final", models.OrderUpdate{RawStatus: "CANCELLED"}, ClassCancelled},
		{"cancelled intermediate", models.OrderUpdate{RawStatus: "CANCELLED", PendingQuantity: 5}, ClassNoise},
		{"rejected", models.OrderUpdate{RawStatus: "REJECTED"}, ClassRejected},
		{"update noise", models.OrderUpdate{RawStatus: "UPDATE"}, ClassNoise},
		{"validation pending", models.OrderUpdate{RawStatus: "VALIDATION PENDING"}, ClassNoise},
		{"unknown", models.OrderUpdate{RawStatus: "SOMETHING NEW"}, ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Classify(&tt.update); got != tt.want {
				t.Errorf("ожидалось %s, получено %s", tt.want, got)
			}
		})
	}
}

func TestMotilalClassify(t *testing.T) {
	p := Motilal()
	tests := []struct {
		raw  string
		want StatusClass
	}{
		{"CONFIRM", ClassAck},
		{"Traded", ClassFilled},
		{"PARTIAL", ClassPartial},
		{"CANCEL", ClassCancelled},
		{"REJECTED", ClassRejected},
		{"ERROR", ClassRejected},
		{"SENT", ClassUnknown},
		{"", ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := p.Classify(&models.OrderUpdate{RawStatus: tt.raw}); got != tt.want {
				t.Errorf("ожидалось %s, получено %s", tt.want, got)
			}
		})
	}
}

func limitRequest() *models.OrderRequest {
	return &models.OrderRequest{
		BlitzAppOrderID:      "BLITZ-ORDER-000000000001",
		ExchangeSegment:      models.SegmentNSECM,
		ExchangeInstrumentID: 2885,
		SymbolName:           "RELIANCE",
		OrderSide:            "Buy",
		OrderType:            models.OrderTypeLimit,
		OrderQuantity:        10,
		ProductType:          "MIS",
		LimitPrice:           100.5,
		TimeInForce:          "GFD",
		DisclosedQuantity:    0,
		Account:              "AB1234",
	}
}

func TestZerodhaPlaceParams(t *testing.T) {
	params, err := Zerodha().PlaceParams(limitRequest())
	if err != nil {
		t.Fatalf("PlaceParams: %v", err)
	}

	want := broker.OrderParams{
		Symbol:    "RELIANCE",
		Exchange:  "NSE",
		Side:      "BUY",
		OrderType: "LIMIT",
		Product:   "MIS",
		Validity:  "DAY",
		Quantity:  10,
		Price:     100.5,
		Tag:       "BLITZ-ORDER-00000000",
	}
	if *params != want {
		t.Errorf("ожидалось %+v, получено %+v", want, *params)
	}
}

func TestZerodhaPlaceParams_Variants(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(r *models.OrderRequest)
		exchange string
		otype    string
		validity string
		price    float64
	}{
		{"derivative", func(r *models.OrderRequest) { r.ExchangeSegment = models.SegmentNSEFO }, "NFO", "LIMIT", "DAY", 100.5},
		{"bse", func(r *models.OrderRequest) { r.ExchangeSegment = models.SegmentBSECM }, "BSE", "LIMIT", "DAY", 100.5},
		{"unknown segment defaults", func(r *models.OrderRequest) { r.ExchangeSegment = "MCX" }, "NSE", "LIMIT", "DAY", 100.5},
		{"market zeroes price", func(r *models.OrderRequest) { r.OrderType = models.OrderTypeMarket }, "NSE", "MARKET", "DAY", 0},
		{"stop limit", func(r *models.OrderRequest) { r.OrderType = models.OrderTypeStopLimit; r.StopPrice = 99 }, "NSE", "SL", "DAY", 100.5},
		{"stop market", func(r *models.OrderRequest) { r.OrderType = models.OrderTypeStopMarket; r.StopPrice = 99 }, "NSE", "SL-M", "DAY", 0},
		{"ioc", func(r *models.OrderRequest) { r.TimeInForce = "IOC" }, "NSE", "LIMIT", "IOC", 100.5},
		{"unknown tif defaults", func(r *models.OrderRequest) { r.TimeInForce = "GTC" }, "NSE", "LIMIT", "DAY", 100.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := limitRequest()
			tt.modify(req)
			params, err := Zerodha().PlaceParams(req)
			if err != nil {
				t.Fatalf("PlaceParams: %v", err)
			}
			if params.Exchange != tt.exchange || params.OrderType != tt.otype ||
				params.Validity != tt.validity || params.Price != tt.price {
				t.Errorf("получено %+v", *params)
			}
		})
	}
}

func TestZerodhaPlaceParams_Errors(t *testing.T) {
	req := limitRequest()
	req.SymbolName = ""
	if _, err := Zerodha().PlaceParams(req); !errors.Is(err, ErrSymbolRequired) {
		t.Errorf("ожидалась ErrSymbolRequired, получено %v", err)
	}

	req = limitRequest()
	req.OrderType = "ICEBERG"
	if _, err := Zerodha().PlaceParams(req); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("ожидалась ErrUnsupportedValue, получено %v", err)
	}
}

func TestZerodhaModifyParams(t *testing.T) {
	req := limitRequest()
	price := 101.0
	qty := int64(20)
	merged := req.Merge(&models.OrderRequest{ModifiedLimitPrice: &price, ModifiedOrderQuantity: &qty})

	params, err := Zerodha().ModifyParams(&merged, "240101000000001", "2024-01-01 09:15:00")
	if err != nil {
		t.Fatalf("ModifyParams: %v", err)
	}
	if params.BrokerOrderID != "240101000000001" || params.Price != 101 || params.Quantity != 20 ||
		params.OrderType != "LIMIT" || params.Validity != "DAY" {
		t.Errorf("получено %+v", *params)
	}
	if params.LastModifiedTime != "2024-01-01 09:15:00" {
		t.Errorf("timestamp не передан: %q", params.LastModifiedTime)
	}
}

func TestMotilalPlaceParams(t *testing.T) {
	params, err := Motilal().PlaceParams(limitRequest())
	if err != nil {
		t.Fatalf("PlaceParams: %v", err)
	}

	want := broker.OrderParams{
		Symbol:    "2885",
		Exchange:  "NSE",
		Side:      "BUY",
		OrderType: "LIMIT",
		Product:   "NORMAL",
		Validity:  "DAY",
		Quantity:  10,
		Price:     100.5,
		Tag:       "BLITZ-ORDE",
	}
	if *params != want {
		t.Errorf("ожидалось %+v, получено %+v", want, *params)
	}
}

func TestMotilalPlaceParams_Vocabulary(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *models.OrderRequest)
		check  func(p *broker.OrderParams) bool
	}{
		{
			"delivery product",
			func(r *models.OrderRequest) { r.ProductType = "CNC" },
			func(p *broker.OrderParams) bool { return p.Product == "DELIVERY" },
		},
		{
			"stop limit becomes stoploss",
			func(r *models.OrderRequest) { r.OrderType = models.OrderTypeStopLimit; r.StopPrice = 99 },
			func(p *broker.OrderParams) bool { return p.OrderType == "STOPLOSS" && p.TriggerPrice == 99 },
		},
		{
			"fok becomes ioc",
			func(r *models.OrderRequest) { r.TimeInForce = "FOK" },
			func(p *broker.OrderParams) bool { return p.Validity == "IOC" },
		},
		{
			"col becomes day",
			func(r *models.OrderRequest) { r.TimeInForce = "COL" },
			func(p *broker.OrderParams) bool { return p.Validity == "DAY" },
		},
		{
			"market zeroes price",
			func(r *models.OrderRequest) { r.OrderType = models.OrderTypeMarket },
			func(p *broker.OrderParams) bool { return p.Price == 0 && p.OrderType == "MARKET" },
		},
		{
			"nsefo quantity in lots",
			func(r *models.OrderRequest) { r.ExchangeSegment = models.SegmentNSEFO; r.OrderQuantity = 130 },
			func(p *broker.OrderParams) bool { return p.Quantity == 2 && p.Exchange == "NSEFO" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := limitRequest()
			tt.modify(req)
			params, err := Motilal().PlaceParams(req)
			if err != nil {
				t.Fatalf("PlaceParams: %v", err)
			}
			if !tt.check(params) {
				t.Errorf("получено %+v", *params)
			}
		})
	}
}

func TestMotilalPlaceParams_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *models.OrderRequest)
		want   error
	}{
		{"partial lot", func(r *models.OrderRequest) { r.ExchangeSegment = models.SegmentNSEFO; r.OrderQuantity = 100 }, ErrLotSize},
		{"less than lot", func(r *models.OrderRequest) { r.ExchangeSegment = models.SegmentNSEFO; r.OrderQuantity = 10 }, ErrLotSize},
		{"stop market unsupported", func(r *models.OrderRequest) { r.OrderType = models.OrderTypeStopMarket }, ErrUnsupportedValue},
		{"unknown validity", func(r *models.OrderRequest) { r.TimeInForce = "XYZ" }, ErrUnsupportedValue},
		{"no instrument", func(r *models.OrderRequest) { r.ExchangeInstrumentID = 0 }, models.ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := limitRequest()
			tt.modify(req)
			if _, err := Motilal().PlaceParams(req); !errors.Is(err, tt.want) {
				t.Errorf("ожидалась %v, получено %v", tt.want, err)
			}
		})
	}
}

func TestMotilalModifyParams(t *testing.T) {
	req := limitRequest()
	req.ExchangeSegment = models.SegmentNSEFO
	req.OrderQuantity = 65
	qty := int64(195)
	merged := req.Merge(&models.OrderRequest{ModifiedOrderQuantity: &qty, CummulativeQuantity: 65})

	params, err := Motilal().ModifyParams(&merged, "1100000001", "01-Jan-2024 09:15:00")
	if err != nil {
		t.Fatalf("ModifyParams: %v", err)
	}
	if params.Quantity != 3 {
		t.Errorf("ожидалось 3 лота, получено %d", params.Quantity)
	}
	if params.TradedQuantity != 65 || params.ClientCode != "AB1234" || params.Validity != "DAY" {
		t.Errorf("получено %+v", *params)
	}
	if params.LastModifiedTime != "01-Jan-2024 09:15:00" {
		t.Errorf("lastmodifiedtime не передан: %q", params.LastModifiedTime)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		update  models.OrderUpdate
		want    Description
	}{
		{
			"zerodha",
			Zerodha(),
			models.OrderUpdate{Exchange: "NFO", Side: "SELL", OrderType: "SL-M", Product: "nrml", Validity: "DAY"},
			Description{ExchangeSegment: "NSEFO", OrderSide: "Sell", OrderType: "STOPMARKET", ProductType: "NRML", TimeInForce: "GFD"},
		},
		{
			"motilal",
			Motilal(),
			models.OrderUpdate{Exchange: "NSE", Side: "BUY", OrderType: "STOPLOSS", Product: "DELIVERY", Validity: "IOC"},
			Description{ExchangeSegment: "NSECM", OrderSide: "Buy", OrderType: "STOPLIMIT", ProductType: "CNC", TimeInForce: "IOC"},
		},
		{
			"motilal unknown values pass through",
			Motilal(),
			models.OrderUpdate{Exchange: "MCX", Side: "BUY", OrderType: "LIMIT", Product: "VALUEPLUS", Validity: "DAY"},
			Description{ExchangeSegment: "MCX", OrderSide: "Buy", OrderType: "LIMIT", ProductType: "VALUEPLUS", TimeInForce: "GFD"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.profile.Describe(&tt.update); got != tt.want {
				t.Errorf("ожидалось %+v, получено %+v", tt.want, got)
			}
		})
	}
}

func TestForBroker(t *testing.T) {
	for _, name := range []string{"ZERODHA", "kite", "MOFL", "motilal"} {
		p, err := ForBroker(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if p.Broker() != broker.NormalizeName(name) {
			t.Errorf("%s: получено %s", name, p.Broker())
		}
	}

	if _, err := ForBroker("UPSTOX"); !errors.Is(err, broker.ErrUnsupportedBroker) {
		t.Errorf("ожидалась ErrUnsupportedBroker, получено %v", err)
	}
}

func TestTagLimits(t *testing.T) {
	if got := Zerodha().Tag("short"); got != "short" {
		t.Errorf("короткий тег не должен меняться: %q", got)
	}
	if got := Zerodha().Tag("123456789012345678901234"); len(got) != 20 {
		t.Errorf("ожидалось 20 символов, получено %d", len(got))
	}
	if got := Motilal().Tag("123456789012345"); got != "1234567890" {
		t.Errorf("ожидалось 1234567890, получено %q", got)
	}
}
