package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SMSQuota gates SMS sends against the per-user weekly cap.
type SMSQuota interface {
	ConsumeSMSCredit(ctx context.Context, userID string) error
	// RefundSMSCredit returns a credit consumed for a send that never
	// reached the provider.
	RefundSMSCredit(ctx context.Context, userID string) error
}

// ErrSMSQuotaExhausted is returned by SMSQuota implementations at the cap.
var ErrSMSQuotaExhausted = errors.New("weekly sms quota exhausted")

// Dispatcher fans an alert out to recipients over ranked channels. For each
// recipient it selects the first channel in Ranking that is configured, that
// the recipient is reachable on, and that capacity allows, then makes exactly
// one delivery attempt. Send failures become failed Delivery records; they
// never fail the batch.
type Dispatcher struct {
	channels    map[ChannelKind]Channel
	quota       SMSQuota
	limiter     *rate.Limiter
	maxParallel int
	logger      *slog.Logger
}

func NewDispatcher(log *slog.Logger, quota SMSQuota, sendsPerSecond float64, maxParallel int, channels ...Channel) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if sendsPerSecond <= 0 {
		sendsPerSecond = 10
	}
	if maxParallel <= 0 {
		maxParallel = 8
	}
	byKind := make(map[ChannelKind]Channel, len(channels))
	for _, ch := range channels {
		if ch != nil {
			byKind[ch.Kind()] = ch
		}
	}
	return &Dispatcher{
		channels:    byKind,
		quota:       quota,
		limiter:     rate.NewLimiter(rate.Limit(sendsPerSecond), int(sendsPerSecond)+1),
		maxParallel: maxParallel,
		logger:      log.With(slog.String("service", "notify")),
	}
}

// Dispatch sends msg to every recipient and returns one Delivery per
// recipient that had any usable channel. ownerID scopes the SMS quota.
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID string, recipients []Recipient, msg Message) []Delivery {
	deliveries := make([]Delivery, 0, len(recipients))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.maxParallel)
	for _, rcpt := range recipients {
		group.Go(func() error {
			delivery, ok := d.dispatchOne(groupCtx, ownerID, rcpt, msg)
			if !ok {
				return nil
			}
			mu.Lock()
			deliveries = append(deliveries, delivery)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait() // workers report outcomes via deliveries, never errors
	return deliveries
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ownerID string, rcpt Recipient, msg Message) (Delivery, bool) {
	for _, kind := range Ranking {
		ch, configured := d.channels[kind]
		if !configured || !rcpt.ReachableOn(kind) {
			continue
		}
		consumedSMS := false
		if kind == ChannelSMS && d.quota != nil {
			if err := d.quota.ConsumeSMSCredit(ctx, ownerID); err != nil {
				if errors.Is(err, ErrSMSQuotaExhausted) {
					d.logger.Info("sms quota exhausted, falling through",
						slog.String("owner_id", ownerID), slog.String("recipient", rcpt.Ref))
					continue
				}
				d.logger.Warn("sms quota check failed",
					slog.String("owner_id", ownerID), slog.Any("error", err))
				continue
			}
			consumedSMS = true
		}

		if err := d.limiter.Wait(ctx); err != nil {
			if consumedSMS {
				d.refundSMSCredit(ctx, ownerID)
			}
			return Delivery{
				ContactRef: rcpt.Ref,
				Channel:    kind,
				Status:     DeliveryFailed,
				Detail:     err.Error(),
			}, true
		}
		result, err := ch.Send(ctx, rcpt, msg)
		if err != nil {
			if consumedSMS {
				d.refundSMSCredit(ctx, ownerID)
			}
			d.logger.Warn("send failed",
				slog.String("channel", string(kind)),
				slog.String("recipient", rcpt.Ref),
				slog.Any("error", err),
			)
			return Delivery{
				ContactRef: rcpt.Ref,
				Channel:    kind,
				Status:     DeliveryFailed,
				Detail:     err.Error(),
				CostCents:  result.CostCents,
			}, true
		}
		status := DeliveryDelivered
		if !result.Delivered {
			status = DeliveryFailed
		}
		return Delivery{
			ContactRef: rcpt.Ref,
			Channel:    kind,
			Status:     status,
			Detail:     result.Detail,
			CostCents:  result.CostCents,
		}, true
	}

	d.logger.Warn("recipient unreachable on every channel", slog.String("recipient", rcpt.Ref))
	return Delivery{}, false
}

// refundSMSCredit gives a consumed credit back for a send the provider never
// accepted. A credit the provider accepted stays consumed even when delivery
// later fails.
func (d *Dispatcher) refundSMSCredit(ctx context.Context, ownerID string) {
	if err := d.quota.RefundSMSCredit(ctx, ownerID); err != nil {
		d.logger.Warn("sms credit refund failed",
			slog.String("owner_id", ownerID), slog.Any("error", err))
	}
}

// Configured reports whether a transport is registered for the channel kind.
func (d *Dispatcher) Configured(kind ChannelKind) bool {
	_, ok := d.channels[kind]
	return ok
}
