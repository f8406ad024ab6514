package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"tpoms/internal/models"
)

// ============================================================
// Моки
// ============================================================

type fakeJournal struct {
	mu     sync.Mutex
	events []*models.OrderEvent
	err    error
}

func (j *fakeJournal) Append(ctx context.Context, e *models.OrderEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, e)
	return nil
}

type fakeStream struct {
	mu        sync.Mutex
	envelopes []*models.Envelope
}

func (s *fakeStream) BroadcastEnvelope(channel string, env *models.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
}

type failingBus struct{}

func (failingBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.New("connection refused")
}
func (failingBus) Subscribe(ctx context.Context, channel string, handler Handler) error { return nil }
func (failingBus) Close() error                                                      { return nil }

// ============================================================
// MemoryBus
// ============================================================

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	if err := b.Subscribe(ctx, "ch", func(p []byte) { got <- string(p) }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Publish(ctx, "ch", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "other", []byte("skip")); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "ch", []byte("two")); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"one", "two"} {
		select {
		case msg := <-got:
			if msg != want {
				t.Errorf("expected %q, got %q", want, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("message %q not delivered", want)
		}
	}

	if n := len(b.Messages("ch")); n != 2 {
		t.Errorf("expected 2 messages in history, got %d", n)
	}
}

func TestMemoryBus_HandlerMayPublish(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	replies := make(chan []byte, 1)
	_ = b.Subscribe(ctx, DefaultRequestChannel, func(p []byte) {
		_ = b.Publish(ctx, DefaultResponseChannel, append([]byte("re:"), p...))
	})
	_ = b.Subscribe(ctx, DefaultResponseChannel, func(p []byte) { replies <- p })

	if err := b.Publish(ctx, DefaultRequestChannel, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-replies:
		if string(r) != "re:ping" {
			t.Errorf("unexpected reply %q", r)
		}
	case <-time.After(time.Second):
		t.Fatal("reply not delivered")
	}
}

func TestMemoryBus_HistoryBounded(t *testing.T) {
	b := NewMemoryBus().SetHistoryLimit(3)
	defer b.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := b.Publish(ctx, "ch", []byte{byte('0' + i)}); err != nil {
			t.Fatal(err)
		}
	}

	got := b.Messages("ch")
	if len(got) != 3 || string(got[0]) != "7" || string(got[2]) != "9" {
		t.Errorf("expected last 3 messages, got %q", got)
	}

	b.SetHistoryLimit(1)
	if got := b.Messages("ch"); len(got) != 1 || string(got[0]) != "9" {
		t.Errorf("lowering the limit must trim history, got %q", got)
	}

	b.SetHistoryLimit(0)
	_ = b.Publish(ctx, "ch", []byte("x"))
	if n := len(b.Messages("ch")); n != 0 {
		t.Errorf("history disabled, got %d messages", n)
	}
}

func TestMemoryBus_Closed(t *testing.T) {
	b := NewMemoryBus()
	_ = b.Close()
	_ = b.Close()

	if err := b.Publish(context.Background(), "ch", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := b.Subscribe(context.Background(), "ch", func([]byte) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Backend: "memory"}, false},
		{"redis", Config{Backend: "REDIS", RedisAddr: "localhost:6379"}, false},
		{"kafka", Config{Backend: "kafka", KafkaBrokers: []string{"localhost:9092"}}, false},
		{"kafka without brokers", Config{Backend: "kafka"}, true},
		{"unknown", Config{Backend: "nats"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.cfg, zaptest.NewLogger(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if b != nil {
				_ = b.Close()
			}
		})
	}
}

// ============================================================
// Formatter / Publisher
// ============================================================

func TestFormatter_SequenceIncreases(t *testing.T) {
	f := NewFormatter(models.BrokerMotilal, "E1")

	first := f.Order(models.MessageTypeOrderUpdate, &models.OrderLog{})
	second := f.Order(models.MessageTypeResync, &models.OrderLog{})

	if first.Data.(*models.OrderLog).SequenceNumber != 1 || second.Data.(*models.OrderLog).SequenceNumber != 2 {
		t.Error("SequenceNumber must increase by one per order event")
	}
	if first.TPOmsName != models.BrokerMotilal || first.UserID != "E1" {
		t.Errorf("unexpected envelope header: %+v", first)
	}

	list := f.Orders(models.CommandGetOrders, nil)
	if orders, ok := list.Data.([]*models.OrderLog); !ok || orders == nil {
		t.Error("empty order list must not be nil")
	}
}

func TestPublisher_PublishOrder(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	journal := &fakeJournal{}
	stream := &fakeStream{}

	p := NewPublisher(b, "", NewFormatter(models.BrokerZerodha, "E1"), zaptest.NewLogger(t)).
		WithJournal(journal).
		WithStream(stream)

	o := &models.OrderLog{BlitzAppOrderID: "L1", ExchangeOrderID: "B1", OrderStatus: "New"}
	if err := p.PublishOrder(context.Background(), models.MessageTypeOrderUpdate, o); err != nil {
		t.Fatalf("PublishOrder: %v", err)
	}

	msgs := b.Messages(DefaultResponseChannel)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	payload := string(msgs[0])
	for _, want := range []string{`"MessageType":"TPOMSOrderUpdate"`, `"TPOmsName":"ZERODHA"`, `"UserId":"E1"`, `"SequenceNumber":1`} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload %s does not contain %s", payload, want)
		}
	}
	if strings.Contains(payload, "null") {
		t.Errorf("payload must not contain null: %s", payload)
	}

	if len(journal.events) != 1 {
		t.Fatalf("expected 1 journal event, got %d", len(journal.events))
	}
	ev := journal.events[0]
	if ev.EntityID != "E1" || ev.Broker != models.BrokerZerodha || ev.BlitzAppOrderID != "L1" ||
		ev.ExchangeOrderID != "B1" || ev.Status != "New" || string(ev.Payload) != payload {
		t.Errorf("unexpected journal event: %+v", ev)
	}
	if len(stream.envelopes) != 1 {
		t.Errorf("expected stream copy, got %d", len(stream.envelopes))
	}
}

func TestPublisher_JournalFailureDoesNotFailPublish(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	p := NewPublisher(b, "", NewFormatter(models.BrokerZerodha, "E1"), zaptest.NewLogger(t)).
		WithJournal(&fakeJournal{err: errors.New("db down")})

	if err := p.PublishOrder(context.Background(), models.MessageTypeOrderUpdate, &models.OrderLog{}); err != nil {
		t.Errorf("journal failure must not fail publish: %v", err)
	}
	if len(b.Messages(DefaultResponseChannel)) != 1 {
		t.Error("message must be published")
	}
}

func TestPublisher_BusFailure(t *testing.T) {
	journal := &fakeJournal{}
	stream := &fakeStream{}
	p := NewPublisher(failingBus{}, "", NewFormatter(models.BrokerMotilal, "E1"), zaptest.NewLogger(t)).
		WithJournal(journal).
		WithStream(stream)

	if err := p.PublishOrder(context.Background(), models.MessageTypeOrderUpdate, &models.OrderLog{}); err == nil {
		t.Fatal("expected error")
	}
	if len(journal.events) != 0 || len(stream.envelopes) != 0 {
		t.Error("failed publish must not reach journal or stream")
	}
}

func TestPublisher_StatusMessages(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	p := NewPublisher(b, "responses", NewFormatter(models.BrokerMotilal, "E2"), nil)
	ctx := context.Background()

	_ = p.PublishConnection(ctx, models.ConnectionLoggedIn, "login successful")
	_ = p.PublishStatus(ctx, "FOO", models.ResponseFailed, "unknown action FOO")

	msgs := b.Messages("responses")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !strings.Contains(string(msgs[0]), `"MessageType":"TPOMSConnectionStatus"`) ||
		!strings.Contains(string(msgs[0]), `"status":"LOGGED_IN"`) {
		t.Errorf("unexpected connection status: %s", msgs[0])
	}
	if !strings.Contains(string(msgs[1]), `"status":"FAILED"`) {
		t.Errorf("unexpected response: %s", msgs[1])
	}
}

// ============================================================
// Codec
// ============================================================

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		action  string
		wantErr bool
	}{
		{"place", `{"Action":"PLACE_ORDER","TPOmsName":"MOFL","UserId":"E1","Data":{}}`, models.CommandPlaceOrder, false},
		{"lower case action", `{"Action":"get_orders","UserId":"E1"}`, models.CommandGetOrders, false},
		{"missing action", `{"UserId":"E1"}`, "", true},
		{"missing user", `{"Action":"GET_ORDERS"}`, "", true},
		{"not json", `PLACE_ORDER`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Errorf("expected ErrInvalidCommand, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCommand: %v", err)
			}
			if cmd.Action != tt.action {
				t.Errorf("Action = %q, want %q", cmd.Action, tt.action)
			}
		})
	}
}

func TestDecodeOrderRequest_FuzzyNumbers(t *testing.T) {
	data := []byte(`{"BlitzAppOrderID":"L1","ExchangeInstrumentID":"2885","OrderQuantity":"10","LimitPrice":"100.5","ModifiedOrderQuantity":"20"}`)

	req, err := DecodeOrderRequest(data)
	if err != nil {
		t.Fatalf("DecodeOrderRequest: %v", err)
	}
	if req.ExchangeInstrumentID != 2885 || req.OrderQuantity != 10 || req.LimitPrice != 100.5 {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.ModifiedOrderQuantity == nil || *req.ModifiedOrderQuantity != 20 {
		t.Errorf("ModifiedOrderQuantity not decoded: %v", req.ModifiedOrderQuantity)
	}

	empty, err := DecodeOrderRequest(nil)
	if err != nil || empty == nil {
		t.Errorf("empty data: %v %v", empty, err)
	}
}
