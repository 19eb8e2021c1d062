package escrow

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"ponzirep/core/types"
)

const (
	EventTypeOfferCreated   = "escrow.offer.created"
	EventTypeOfferFinalised = "escrow.offer.finalised"
	EventTypeOfferWithdrawn = "escrow.offer.withdrawn"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewOfferCreatedEvent returns the payload for a newly created offer along
// with the number of offers known after creation.
func NewOfferCreatedEvent(o *TradeOffer, count uint64) *types.Event {
	evt := newOfferEvent(EventTypeOfferCreated, o)
	evt.Attributes["tradesCount"] = strconv.FormatUint(count, 10)
	return evt
}

// NewOfferFinalisedEvent returns the payload emitted when both parties'
// consent settles an offer.
func NewOfferFinalisedEvent(o *TradeOffer) *types.Event {
	return newOfferEvent(EventTypeOfferFinalised, o)
}

// NewOfferWithdrawnEvent returns the payload emitted when the creator reclaims
// the escrow.
func NewOfferWithdrawnEvent(o *TradeOffer) *types.Event {
	return newOfferEvent(EventTypeOfferWithdrawn, o)
}

func newOfferEvent(eventType string, o *TradeOffer) *types.Event {
	attrs := make(map[string]string)
	if o == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["offerId"] = o.ID.Hex()
	attrs["creator"] = o.Creator.Hex()
	attrs["nonce"] = strconv.FormatUint(o.Nonce, 10)
	attrs["escrowedAmount"] = formatAmount(o.EscrowedAmount)
	attrs["quotedPrice"] = formatAmount(o.QuotedPrice)
	attrs["status"] = o.Status.String()
	if o.Counterparty != (common.Address{}) {
		attrs["counterparty"] = o.Counterparty.Hex()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
