package share

import (
	"context"
	"fmt"
	"net"
	"time"
)

type Printer interface {
	Print(ctx context.Context, data []byte) error
}

// NetworkPrinter dials a raw TCP printer port (usually 9100) for every job.
type NetworkPrinter struct {
	address string
	timeout time.Duration
}

func NewNetworkPrinter(address string) *NetworkPrinter {
	return &NetworkPrinter{address: address, timeout: 5 * time.Second}
}

func (p *NetworkPrinter) Print(ctx context.Context, data []byte) error {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return fmt.Errorf("printer: connect %s: %w", p.address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("printer: write %s: %w", p.address, err)
	}
	return nil
}

type NullPrinter struct{}

func (NullPrinter) Print(context.Context, []byte) error { return nil }
