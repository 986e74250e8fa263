package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type stubChannel struct {
	kind   ChannelKind
	result Result
	err    error

	mu    sync.Mutex
	sends []Recipient
}

func (c *stubChannel) Kind() ChannelKind { return c.kind }

func (c *stubChannel) Send(_ context.Context, rcpt Recipient, _ Message) (Result, error) {
	c.mu.Lock()
	c.sends = append(c.sends, rcpt)
	c.mu.Unlock()
	if c.err != nil {
		return Result{}, c.err
	}
	return c.result, nil
}

func (c *stubChannel) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

type stubQuota struct {
	mu       sync.Mutex
	err      error
	consumed int
	refunded int
}

func (q *stubQuota) ConsumeSMSCredit(_ context.Context, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.consumed++
	return nil
}

func (q *stubQuota) RefundSMSCredit(_ context.Context, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refunded++
	return nil
}

func fullRecipient() Recipient {
	return Recipient{
		Ref:          "contact-1",
		PushToken:    "tok",
		BridgeTarget: "42",
		Phone:        "+15550001111",
		Email:        "helper@example.com",
	}
}

func TestDispatchPrefersPush(t *testing.T) {
	push := &stubChannel{kind: ChannelPush, result: Result{Delivered: true}}
	email := &stubChannel{kind: ChannelEmail, result: Result{Delivered: true}}
	d := NewDispatcher(nil, nil, 10, 4, push, email)

	deliveries := d.Dispatch(context.Background(), "owner-1", []Recipient{fullRecipient()}, Message{Title: "t"})
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if deliveries[0].Channel != ChannelPush {
		t.Fatalf("expected push, got %s", deliveries[0].Channel)
	}
	if email.sendCount() != 0 {
		t.Fatal("email should not have been used")
	}
}

func TestDispatchSkipsUnreachableChannels(t *testing.T) {
	push := &stubChannel{kind: ChannelPush, result: Result{Delivered: true}}
	email := &stubChannel{kind: ChannelEmail, result: Result{Delivered: true}}
	d := NewDispatcher(nil, nil, 10, 4, push, email)

	rcpt := Recipient{Ref: "contact-2", Email: "only-email@example.com"}
	deliveries := d.Dispatch(context.Background(), "owner-1", []Recipient{rcpt}, Message{Title: "t"})
	if len(deliveries) != 1 || deliveries[0].Channel != ChannelEmail {
		t.Fatalf("expected email delivery, got %+v", deliveries)
	}
}

func TestDispatchSMSQuotaExhaustedFallsThrough(t *testing.T) {
	sms := &stubChannel{kind: ChannelSMS, result: Result{Delivered: true, CostCents: 5}}
	email := &stubChannel{kind: ChannelEmail, result: Result{Delivered: true}}
	quota := &stubQuota{err: ErrSMSQuotaExhausted}
	d := NewDispatcher(nil, quota, 10, 4, sms, email)

	rcpt := Recipient{Ref: "contact-3", Phone: "+15550002222", Email: "h@example.com"}
	deliveries := d.Dispatch(context.Background(), "owner-1", []Recipient{rcpt}, Message{Title: "t"})
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if deliveries[0].Channel != ChannelEmail {
		t.Fatalf("expected fall-through to email, got %s", deliveries[0].Channel)
	}
	if sms.sendCount() != 0 {
		t.Fatal("sms must not send past the cap")
	}
}

func TestDispatchSMSConsumesQuota(t *testing.T) {
	sms := &stubChannel{kind: ChannelSMS, result: Result{Delivered: true, CostCents: 5}}
	quota := &stubQuota{}
	d := NewDispatcher(nil, quota, 10, 4, sms)

	rcpt := Recipient{Ref: "contact-4", Phone: "+15550003333"}
	deliveries := d.Dispatch(context.Background(), "owner-1", []Recipient{rcpt}, Message{Title: "t"})
	if len(deliveries) != 1 || deliveries[0].Channel != ChannelSMS {
		t.Fatalf("expected sms delivery, got %+v", deliveries)
	}
	if quota.consumed != 1 {
		t.Fatalf("expected 1 credit consumed, got %d", quota.consumed)
	}
	if deliveries[0].CostCents != 5 {
		t.Fatalf("expected cost 5, got %d", deliveries[0].CostCents)
	}
	if quota.refunded != 0 {
		t.Fatalf("a delivered sms must keep its credit, refunded %d", quota.refunded)
	}
}

func TestDispatchSMSSendFailureRefundsCredit(t *testing.T) {
	sms := &stubChannel{kind: ChannelSMS, err: errors.New("gateway down")}
	quota := &stubQuota{}
	d := NewDispatcher(nil, quota, 10, 4, sms)

	rcpt := Recipient{Ref: "contact-6", Phone: "+15550004444"}
	deliveries := d.Dispatch(context.Background(), "owner-1", []Recipient{rcpt}, Message{Title: "t"})
	if len(deliveries) != 1 || deliveries[0].Status != DeliveryFailed {
		t.Fatalf("expected 1 failed delivery, got %+v", deliveries)
	}
	if quota.consumed != 1 {
		t.Fatalf("expected 1 credit consumed, got %d", quota.consumed)
	}
	if quota.refunded != 1 {
		t.Fatalf("a send the provider never accepted must refund its credit, refunded %d", quota.refunded)
	}
}

func TestDispatchSendFailureDoesNotFallThrough(t *testing.T) {
	push := &stubChannel{kind: ChannelPush, err: errors.New("provider down")}
	email := &stubChannel{kind: ChannelEmail, result: Result{Delivered: true}}
	d := NewDispatcher(nil, nil, 10, 4, push, email)

	deliveries := d.Dispatch(context.Background(), "owner-1", []Recipient{fullRecipient()}, Message{Title: "t"})
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if deliveries[0].Status != DeliveryFailed {
		t.Fatalf("expected failed delivery, got %s", deliveries[0].Status)
	}
	if deliveries[0].Channel != ChannelPush {
		t.Fatalf("failure must stay on the selected channel, got %s", deliveries[0].Channel)
	}
	if email.sendCount() != 0 {
		t.Fatal("a failed send must not retry on another channel")
	}
}

func TestDispatchUnreachableRecipientProducesNoDelivery(t *testing.T) {
	push := &stubChannel{kind: ChannelPush, result: Result{Delivered: true}}
	d := NewDispatcher(nil, nil, 10, 4, push)

	rcpt := Recipient{Ref: "contact-5", Email: "only-email@example.com"}
	deliveries := d.Dispatch(context.Background(), "owner-1", []Recipient{rcpt}, Message{Title: "t"})
	if len(deliveries) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(deliveries))
	}
}

func TestDispatchFansOutToAllRecipients(t *testing.T) {
	push := &stubChannel{kind: ChannelPush, result: Result{Delivered: true}}
	d := NewDispatcher(nil, nil, 100, 4, push)

	recipients := make([]Recipient, 5)
	for i := range recipients {
		recipients[i] = Recipient{Ref: string(rune('a' + i)), PushToken: "tok"}
	}
	deliveries := d.Dispatch(context.Background(), "owner-1", recipients, Message{Title: "t"})
	if len(deliveries) != 5 {
		t.Fatalf("expected 5 deliveries, got %d", len(deliveries))
	}
	if push.sendCount() != 5 {
		t.Fatalf("expected 5 sends, got %d", push.sendCount())
	}
}

func TestRankingOrder(t *testing.T) {
	want := []ChannelKind{ChannelPush, ChannelBridge, ChannelSMS, ChannelEmail}
	if len(Ranking) != len(want) {
		t.Fatalf("unexpected ranking length %d", len(Ranking))
	}
	for i, kind := range want {
		if Ranking[i] != kind {
			t.Fatalf("ranking[%d] = %s, want %s", i, Ranking[i], kind)
		}
	}
}
