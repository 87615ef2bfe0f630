package checkout

import (
	"errors"
	"fmt"

	"counterpos/backend/internal/domain"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInsufficientTender = errors.New("tendered amount is below the grand total")
	ErrInvalidPayment     = errors.New("invalid payment method")
	ErrInvalidStage       = errors.New("invalid checkout stage")
	ErrCheckoutInProgress = errors.New("checkout in progress")
)

func EnterPreview(stage domain.CheckoutStage, ticket domain.Ticket) (domain.CheckoutStage, error) {
	if stage != domain.StageBrowsing {
		return stage, fmt.Errorf("%w: cannot preview from %s", ErrInvalidStage, stage)
	}
	if len(ticket.Lines) == 0 {
		return stage, ErrEmptyCart
	}
	return domain.StagePreviewingBill, nil
}

func ProceedToPayment(stage domain.CheckoutStage) (domain.CheckoutStage, error) {
	if stage != domain.StagePreviewingBill {
		return stage, fmt.Errorf("%w: cannot collect payment from %s", ErrInvalidStage, stage)
	}
	return domain.StageCollectingPayment, nil
}

// Cancel returns to browsing. The cart is left as it was.
func Cancel(stage domain.CheckoutStage) (domain.CheckoutStage, error) {
	switch stage {
	case domain.StagePreviewingBill, domain.StageCollectingPayment:
		return domain.StageBrowsing, nil
	default:
		return stage, fmt.Errorf("%w: nothing to cancel in %s", ErrInvalidStage, stage)
	}
}

func RequireBrowsing(stage domain.CheckoutStage) error {
	if stage != domain.StageBrowsing {
		return fmt.Errorf("%w: cart is locked while %s", ErrCheckoutInProgress, stage)
	}
	return nil
}

func RequireCollecting(stage domain.CheckoutStage) error {
	if stage != domain.StageCollectingPayment {
		return fmt.Errorf("%w: cannot complete a sale from %s", ErrInvalidStage, stage)
	}
	return nil
}

// StageFor is the stage a terminal shows when it switches to ticket.
func StageFor(ticket domain.Ticket) domain.CheckoutStage {
	if ticket.IsInCheckout {
		return domain.StageCollectingPayment
	}
	return domain.StageBrowsing
}
