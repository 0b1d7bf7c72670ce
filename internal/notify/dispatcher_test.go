package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/austindbirch/payhook/internal/device"
	"github.com/austindbirch/payhook/internal/fault"
	"github.com/austindbirch/payhook/internal/logging"
	"github.com/austindbirch/payhook/internal/push"
)

func newTestDispatcher(reg device.Registry, p push.Pusher) *Dispatcher {
	logger := logging.NewWithWriter("test", &bytes.Buffer{})
	return NewDispatcher(device.NewManager(reg, logger), p, logger)
}

func testNotification() Notification {
	return Notification{ID: "n-1", Title: "Payment Successful", Body: "b", Data: map[string]string{"orderId": "ORD-001"}}
}

func TestDispatch_BatchesAllTokens(t *testing.T) {
	reg := device.NewMemoryRegistry(
		device.Token{Token: "tok-1", OwnerID: "C1", IsActive: true},
		device.Token{Token: "tok-2", OwnerID: "C1", IsActive: true},
		device.Token{Token: "tok-3", OwnerID: "C1", IsActive: false},
	)
	p := push.NewMemoryPusher()
	d := newTestDispatcher(reg, p)

	res := d.Dispatch(context.Background(), "C1", testNotification())
	if res.Err != nil {
		t.Fatalf("Dispatch() Err = %v", res.Err)
	}
	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("push calls = %d, want 1 batched call", len(calls))
	}
	if len(calls[0].Tokens) != 2 {
		t.Errorf("batched tokens = %v, want the 2 active ones", calls[0].Tokens)
	}
	if res.Count(push.Delivered) != 2 {
		t.Errorf("delivered = %d, want 2", res.Count(push.Delivered))
	}
}

func TestDispatch_NoTokensIsNoop(t *testing.T) {
	p := push.NewMemoryPusher()
	res := newTestDispatcher(device.NewMemoryRegistry(), p).Dispatch(context.Background(), "C1", testNotification())
	if res.Err != nil || res.Skipped {
		t.Errorf("Dispatch() = %+v, want clean no-op", res)
	}
	if len(p.Calls()) != 0 {
		t.Error("no push call expected for a recipient without tokens")
	}
}

func TestDispatch_RetiresPermanentFailures(t *testing.T) {
	reg := device.NewMemoryRegistry(
		device.Token{Token: "good", OwnerID: "C1", IsActive: true},
		device.Token{Token: "dead", OwnerID: "C1", IsActive: true},
		device.Token{Token: "flaky", OwnerID: "C1", IsActive: true},
	)
	p := push.NewMemoryPusher()
	p.FailToken("dead", push.CodeUnregistered)
	p.FailToken("flaky", "unavailable")
	d := newTestDispatcher(reg, p)

	res := d.Dispatch(context.Background(), "C1", testNotification())
	if res.Retired != 1 {
		t.Errorf("Retired = %d, want 1", res.Retired)
	}
	if res.Count(push.Retryable) != 1 || res.Count(push.Permanent) != 1 {
		t.Errorf("outcomes = %+v", res.Tokens)
	}

	active, _ := reg.ListActiveTokens(context.Background(), "C1")
	if len(active) != 2 {
		t.Fatalf("active tokens = %v, want good and flaky", active)
	}
	for _, tok := range active {
		if tok == "dead" {
			t.Error("dead token still active after dispatch")
		}
	}
}

func TestDispatch_WholeCallFailureIsRetryable(t *testing.T) {
	reg := device.NewMemoryRegistry(
		device.Token{Token: "a", OwnerID: "C1", IsActive: true},
		device.Token{Token: "b", OwnerID: "C1", IsActive: true},
	)
	p := push.NewMemoryPusher()
	p.Err = errors.New("connection refused")
	d := newTestDispatcher(reg, p)

	res := d.Dispatch(context.Background(), "C1", testNotification())
	if !fault.Is(res.Err, fault.NotificationDelivery) {
		t.Errorf("Err kind = %q, want %q", fault.KindOf(res.Err), fault.NotificationDelivery)
	}
	if res.Count(push.Retryable) != 2 || res.Retired != 0 {
		t.Errorf("result = %+v, want all retryable, none retired", res)
	}
	if active, _ := reg.ListActiveTokens(context.Background(), "C1"); len(active) != 2 {
		t.Errorf("active tokens = %v, want both kept", active)
	}
}

func TestDispatch_RegistryDownSkipsRecipient(t *testing.T) {
	reg := device.NewMemoryRegistry()
	reg.ListErr = errors.New("registry timeout")
	p := push.NewMemoryPusher()

	res := newTestDispatcher(reg, p).Dispatch(context.Background(), "C1", testNotification())
	if !res.Skipped || res.Err == nil {
		t.Errorf("Dispatch() = %+v, want skipped with error", res)
	}
	if len(p.Calls()) != 0 {
		t.Error("push should not be called when tokens cannot be resolved")
	}
}

func TestDispatchAll_Isolation(t *testing.T) {
	reg := device.NewMemoryRegistry(
		device.Token{Token: "cust-1", OwnerID: "C1", IsActive: true},
		device.Token{Token: "dead-v1", OwnerID: "V1", IsActive: true},
		device.Token{Token: "dead-v2", OwnerID: "V1", IsActive: true},
	)
	p := push.NewMemoryPusher()
	p.FailToken("dead-v1", push.CodeUnregistered)
	p.FailToken("dead-v2", push.CodeInvalidToken)
	d := newTestDispatcher(reg, p)

	results := d.DispatchAll(context.Background(), []Addressed{
		{RecipientID: "C1", Role: RoleCustomer, Notification: testNotification()},
		{RecipientID: "V1", Role: RoleVendor, Notification: testNotification()},
	})
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].RecipientID != "C1" || results[0].Count(push.Delivered) != 1 || results[0].Err != nil {
		t.Errorf("customer result = %+v", results[0])
	}
	if results[1].Role != RoleVendor || results[1].Retired != 2 || results[1].Err == nil {
		t.Errorf("vendor result = %+v", results[1])
	}
}

type panickyPusher struct{}

func (panickyPusher) Send(ctx context.Context, tokens []string, msg push.Message) ([]push.TokenResult, error) {
	panic("boom")
}

func TestDispatchAll_RecoversPanics(t *testing.T) {
	reg := device.NewMemoryRegistry(device.Token{Token: "t", OwnerID: "C1", IsActive: true})
	d := newTestDispatcher(reg, panickyPusher{})

	results := d.DispatchAll(context.Background(), []Addressed{{RecipientID: "C1", Notification: testNotification()}})
	if !fault.Is(results[0].Err, fault.NotificationDelivery) {
		t.Errorf("Err = %v, want NotificationDelivery fault", results[0].Err)
	}
}
