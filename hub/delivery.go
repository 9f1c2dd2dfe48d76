package hub

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
)

// Delivery is one message in flight between hubs.
type Delivery struct {
	ID        string          `json:"id"`
	Sender    address.Address `json:"sender"`
	Target    address.Address `json:"target"`
	RequestID string          `json:"request_id,omitempty"`
	Message   any             `json:"message"`
}

// IsResponse reports whether d answers an earlier request.
func (d *Delivery) IsResponse() bool { return d.RequestID != "" }

func (d *Delivery) String() string {
	return fmt.Sprintf("%s %s->%s %T", d.ID, d.Sender, d.Target, d.Message)
}

// DeliveryFailure is posted back to a requester whose request could not be
// served.
type DeliveryFailure struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func (f DeliveryFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Err converts the failure into a coded error.
func (f DeliveryFailure) Err() error {
	return errors.New(f.Code, f.Message)
}

// PostOption adjusts a delivery before it is routed.
type PostOption func(*Delivery)

// WithTarget routes the delivery to addr instead of the posting hub.
func WithTarget(addr address.Address) PostOption {
	return func(d *Delivery) { d.Target = addr }
}

// WithSender stamps the delivery as coming from addr. Gateways use it to relay
// messages on behalf of remote producers.
func WithSender(addr address.Address) PostOption {
	return func(d *Delivery) { d.Sender = addr }
}

// ResponseFor addresses the delivery to the sender of req and correlates it.
func ResponseFor(req *Delivery) PostOption {
	return func(d *Delivery) {
		d.Target = req.Sender
		d.RequestID = req.ID
	}
}

func newDelivery(sender address.Address, msg any, opts []PostOption) *Delivery {
	d := &Delivery{
		ID:      uuid.NewString(),
		Sender:  sender,
		Target:  sender,
		Message: msg,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}
