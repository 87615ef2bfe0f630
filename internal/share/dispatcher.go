package share

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"counterpos/backend/internal/domain"
)

const dispatchTimeout = 15 * time.Second

type Sink interface {
	Publish(event domain.TerminalEvent)
}

// Dispatcher delivers bills in the background. Links are pushed to the
// terminal as share.link events; print jobs go to the printer and are
// throttled so a burst of sales cannot flood it.
type Dispatcher struct {
	printer Printer
	sink    Sink
	limiter *rate.Limiter
	now     func() time.Time

	wg sync.WaitGroup
}

func NewDispatcher(printer Printer, sink Sink, perSecond float64, burst int) *Dispatcher {
	if printer == nil {
		printer = NullPrinter{}
	}
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 4
	}
	return &Dispatcher{
		printer: printer,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch returns immediately. Channel none (or empty) is a no-op.
func (d *Dispatcher) Dispatch(channel domain.ShareChannel, draft domain.CheckoutDraft, profile domain.CompanyProfile) {
	if channel == "" || channel == domain.ShareNone {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := d.deliver(ctx, channel, draft, profile); err != nil {
			log.Printf("[share] WARN: %s for bill %s: %v", channel, draft.BillNumber, err)
			d.publish(domain.EventShareFailed, draft, map[string]any{"channel": channel, "error": err.Error()})
		}
	}()
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, channel domain.ShareChannel, draft domain.CheckoutDraft, profile domain.CompanyProfile) error {
	switch channel {
	case domain.ShareWhatsApp:
		text := BillText(draft, profile)
		d.publish(domain.EventShareLink, draft, domain.ShareDelivery{
			Channel: channel,
			URL:     WhatsAppURL(draft.Customer.Phone, text),
			Text:    text,
		})
		return nil
	case domain.ShareSMS:
		text := SMSText(draft, profile)
		d.publish(domain.EventShareLink, draft, domain.ShareDelivery{
			Channel: channel,
			URL:     SMSURL(draft.Customer.Phone, text),
			Text:    text,
		})
		return nil
	case domain.SharePrint:
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("print queue: %w", err)
		}
		if err := d.printer.Print(ctx, Receipt(draft, profile)); err != nil {
			return err
		}
		d.publish(domain.EventSharePrinted, draft, domain.ShareDelivery{Channel: channel})
		return nil
	default:
		return fmt.Errorf("unknown share channel %q", channel)
	}
}

func (d *Dispatcher) publish(kind string, draft domain.CheckoutDraft, payload any) {
	if d.sink == nil {
		return
	}
	d.sink.Publish(domain.TerminalEvent{
		Kind:       kind,
		TerminalID: draft.TerminalID,
		BillNumber: draft.BillNumber,
		Payload:    payload,
		At:         d.now(),
	})
}
