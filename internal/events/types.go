package events

import (
	"time"

	"execution-core/pkg/exchanges/common"
)

// Event enumerates topics published by the execution core.
type Event string

const (
	EventOrderSubmitted Event = "order.submitted"
	EventOrderAccepted  Event = "order.accepted"
	EventOrderRejected  Event = "order.rejected"
	EventOrderFilled    Event = "order.filled"
	EventAccountPush    Event = "account.push"
	EventLedgerUpdated  Event = "ledger.updated"
	EventFeedRefreshed  Event = "feed.refreshed"
)

// OrderEvent is the payload of every order.* event.
type OrderEvent struct {
	Venue   string              `json:"venue"`
	Request common.OrderRequest `json:"request"`
	Result  *common.OrderResult `json:"result,omitempty"`
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Latency time.Duration       `json:"latency_ns,omitempty"`
	Time    time.Time           `json:"time"`
}

// AccountPush is published when the venue pushes a balance or order change.
type AccountPush struct {
	Kind    string    `json:"kind"` // balance | order
	Symbol  string    `json:"symbol,omitempty"`
	OrderID string    `json:"order_id,omitempty"`
	Status  string    `json:"status,omitempty"`
	Time    time.Time `json:"time"`
}

// FeedRefreshed reports the outcome of one freshness refresh.
type FeedRefreshed struct {
	Feed string        `json:"feed"`
	Err  string        `json:"error,omitempty"`
	Took time.Duration `json:"took_ns"`
	Time time.Time     `json:"time"`
}
