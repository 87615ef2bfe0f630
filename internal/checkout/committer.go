package checkout

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"counterpos/backend/internal/domain"
)

const DefaultSaleTimeout = 15 * time.Second

// SaleRecorder persists a completed sale. It must be idempotent by bill number.
type SaleRecorder interface {
	RecordSale(ctx context.Context, draft domain.CheckoutDraft) error
}

type Sink interface {
	Publish(event domain.TerminalEvent)
}

// Compensator is told about every sale the recorder rejected.
type Compensator interface {
	SaleFailed(ctx context.Context, draft domain.CheckoutDraft, cause error) error
}

// BillNumbers issues POS-prefixed bill numbers from a snowflake node.
type BillNumbers struct {
	node *snowflake.Node
}

func NewBillNumbers(nodeID int64) (*BillNumbers, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("bill number node %d: %w", nodeID, err)
	}
	return &BillNumbers{node: node}, nil
}

func (b *BillNumbers) Next() string {
	return "POS-" + strings.ToUpper(b.node.Generate().Base36())
}

// Committer records sales in the background so the counter never waits on
// the database. Ticket state is never rolled back on failure.
type Committer struct {
	recorder    SaleRecorder
	sink        Sink
	compensator Compensator
	timeout     time.Duration
	now         func() time.Time

	wg sync.WaitGroup
}

func NewCommitter(recorder SaleRecorder, sink Sink, compensator Compensator, timeout time.Duration) *Committer {
	if timeout <= 0 {
		timeout = DefaultSaleTimeout
	}
	return &Committer{
		recorder:    recorder,
		sink:        sink,
		compensator: compensator,
		timeout:     timeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (c *Committer) Submit(draft domain.CheckoutDraft) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.commit(ctx, draft)
	}()
}

// Retry records a previously failed draft synchronously.
func (c *Committer) Retry(ctx context.Context, draft domain.CheckoutDraft) error {
	if err := c.recorder.RecordSale(ctx, draft); err != nil {
		return err
	}
	c.publish(domain.EventSaleRecorded, draft, nil)
	return nil
}

// Wait blocks until every submitted sale has finished.
func (c *Committer) Wait() {
	c.wg.Wait()
}

func (c *Committer) commit(ctx context.Context, draft domain.CheckoutDraft) {
	err := c.recorder.RecordSale(ctx, draft)
	if err == nil {
		c.publish(domain.EventSaleRecorded, draft, nil)
		return
	}

	log.Printf("[checkout] WARN: record sale %s for terminal %s: %v", draft.BillNumber, draft.TerminalID, err)
	c.publish(domain.EventSaleFailed, draft, err)
	if c.compensator == nil {
		return
	}
	// The sale context may already be spent on a timeout.
	compCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if compErr := c.compensator.SaleFailed(compCtx, draft, err); compErr != nil {
		log.Printf("[checkout] WARN: journal failed sale %s: %v", draft.BillNumber, compErr)
	}
}

func (c *Committer) publish(kind string, draft domain.CheckoutDraft, cause error) {
	if c.sink == nil {
		return
	}
	payload := map[string]any{
		"tokenNumber": draft.TokenNumber,
		"grandTotal":  draft.GrandTotal,
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	c.sink.Publish(domain.TerminalEvent{
		Kind:       kind,
		TerminalID: draft.TerminalID,
		BillNumber: draft.BillNumber,
		Payload:    payload,
		At:         c.now(),
	})
}
