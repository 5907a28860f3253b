// Package fixtures holds test doubles, sample events and the conformance
// suite shared by the EventStore adapters.
package fixtures

import (
	"github.com/terraskye/cqrs"
)

// OrderCreated is a sample event.
type OrderCreated struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
}

func (OrderCreated) EventType() string    { return "OrderCreated" }
func (OrderCreated) EventVersion() string { return "1.0" }

// ItemAdded is a sample event.
type ItemAdded struct {
	OrderID string `json:"order_id"`
	ItemID  string `json:"item_id"`
	Qty     int    `json:"qty"`
}

func (ItemAdded) EventType() string    { return "ItemAdded" }
func (ItemAdded) EventVersion() string { return "1.0" }

// OrderShipped is a sample event.
type OrderShipped struct {
	OrderID string `json:"order_id"`
}

func (OrderShipped) EventType() string    { return "OrderShipped" }
func (OrderShipped) EventVersion() string { return "2.0" }

// Registry returns a registry knowing every sample event.
func Registry() *cqrs.Registry {
	r := cqrs.NewRegistry()
	cqrs.RegisterEvent[OrderCreated](r)
	cqrs.RegisterEvent[ItemAdded](r)
	cqrs.RegisterEvent[OrderShipped](r)
	return r
}

// OrderEvents returns a plausible history of order id.
func OrderEvents(id string) []cqrs.Event {
	return []cqrs.Event{
		OrderCreated{OrderID: id, CustomerID: "cust-1"},
		ItemAdded{OrderID: id, ItemID: "item-1", Qty: 2},
		ItemAdded{OrderID: id, ItemID: "item-2", Qty: 1},
		OrderShipped{OrderID: id},
	}
}
