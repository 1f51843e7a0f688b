package models

import (
	"fmt"
	"time"

	apperr "github.com/ticketchief/backend/services/common/errors"
)

type OrderStatus string

const (
	StatusInCart         OrderStatus = "IN_CART"
	StatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	StatusPaid           OrderStatus = "PAID"
	StatusFailed         OrderStatus = "FAILED"
)

const DefaultCurrency = "CAD"

// transitions lists every status an order may move to from a given status.
var transitions = map[OrderStatus][]OrderStatus{
	StatusInCart:         {StatusPaymentPending},
	StatusPaymentPending: {StatusPaid, StatusFailed},
}

// Order is a customer's cart and, once finalized, the purchase it became.
// Items can only change while the order is IN_CART. Version increases on
// every save and guards against writers holding a stale copy.
type Order struct {
	ID               int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string      `gorm:"type:varchar(64);not null;index" json:"userId"`
	UserEmail        string      `gorm:"type:varchar(255)" json:"userEmail,omitempty"`
	Status           OrderStatus `gorm:"type:varchar(20);not null" json:"status"`
	TotalAmountCents int64       `gorm:"not null" json:"totalAmountCents"`
	TaxAmountCents   int64       `gorm:"not null" json:"taxAmountCents"`
	Currency         string      `gorm:"type:varchar(3);not null" json:"currency"`
	CorrelationID    *string     `gorm:"type:varchar(64);uniqueIndex" json:"correlationId,omitempty"`
	InvoiceID        *string     `gorm:"type:varchar(64)" json:"invoiceId,omitempty"`
	InvoiceURL       *string     `gorm:"type:varchar(1024)" json:"invoiceUrl,omitempty"`
	Items            []CartItem  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	Version          int64       `gorm:"not null;default:0" json:"version"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`

	removedItems []int64
}

// CartItem is one seat in an order. (EventID, SeatID) identifies the seat a
// ticket is issued for.
type CartItem struct {
	ID             int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID        int64   `gorm:"not null;index" json:"-"`
	EventID        string  `gorm:"type:varchar(64);not null" json:"eventId"`
	SeatID         string  `gorm:"type:varchar(64);not null" json:"seatId"`
	UnitPriceCents int64   `gorm:"not null" json:"unitPriceCents"`
	ReservationID  *string `gorm:"type:varchar(64)" json:"reservationId,omitempty"`
	TicketID       *string `gorm:"type:varchar(64)" json:"ticketId,omitempty"`
	TicketQR       *string `gorm:"type:text" json:"ticketQr,omitempty"`
}

// EventGroup is the slice of an order's items belonging to one event.
type EventGroup struct {
	EventID string
	Items   []CartItem
}

// Invoice identifies a rendered invoice and where it can be fetched.
type Invoice struct {
	ID  string
	URL string
}

func NewOrder(userID, userEmail string) *Order {
	return &Order{
		UserID:    userID,
		UserEmail: userEmail,
		Status:    StatusInCart,
		Currency:  DefaultCurrency,
	}
}

func (o *Order) requireEditable() error {
	if o.Status != StatusInCart {
		return fmt.Errorf("order %d is frozen (%s): %w", o.ID, o.Status, apperr.ErrInvalidState)
	}
	return nil
}

func (o *Order) AddItem(item CartItem) error {
	if err := o.requireEditable(); err != nil {
		return err
	}
	item.OrderID = o.ID
	o.Items = append(o.Items, item)
	return nil
}

func (o *Order) DeleteItem(itemID int64) error {
	if err := o.requireEditable(); err != nil {
		return err
	}
	for i, it := range o.Items {
		if it.ID == itemID {
			o.Items = append(o.Items[:i], o.Items[i+1:]...)
			o.removedItems = append(o.removedItems, itemID)
			return nil
		}
	}
	return fmt.Errorf("item %d in order %d: %w", itemID, o.ID, apperr.ErrNotFound)
}

// RemovedItems returns the persisted items deleted since the order was loaded.
func (o *Order) RemovedItems() []int64 { return o.removedItems }

// SetStatus moves the order along the status graph.
func (o *Order) SetStatus(status OrderStatus) error {
	for _, next := range transitions[o.Status] {
		if next == status {
			o.Status = status
			return nil
		}
	}
	return fmt.Errorf("order %d cannot move from %s to %s: %w", o.ID, o.Status, status, apperr.ErrInvalidState)
}

func (o *Order) MarkPaid() error {
	if o.Status != StatusPaymentPending {
		return fmt.Errorf("cannot mark order %d PAID from %s: %w", o.ID, o.Status, apperr.ErrInvalidState)
	}
	o.Status = StatusPaid
	return nil
}

// AssignTicket records a ticket on the item for (eventID, seatID). It reports
// whether anything changed; re-assigning the same ticket is a no-op.
func (o *Order) AssignTicket(eventID, seatID, ticketID, qr string) bool {
	for i := range o.Items {
		it := &o.Items[i]
		if it.EventID != eventID || it.SeatID != seatID {
			continue
		}
		if equal(it.TicketID, ticketID) && equal(it.TicketQR, qr) {
			return false
		}
		it.TicketID = &ticketID
		it.TicketQR = &qr
		return true
	}
	return false
}

func (o *Order) HasAllTicketsIssued() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, it := range o.Items {
		if it.TicketQR == nil {
			return false
		}
	}
	return true
}

func (o *Order) SubtotalCents() int64 {
	var sum int64
	for _, it := range o.Items {
		sum += it.UnitPriceCents
	}
	return sum
}

// ReservationIDs returns the distinct reservation ids in first-seen order.
func (o *Order) ReservationIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, it := range o.Items {
		if it.ReservationID == nil {
			continue
		}
		if _, ok := seen[*it.ReservationID]; ok {
			continue
		}
		seen[*it.ReservationID] = struct{}{}
		ids = append(ids, *it.ReservationID)
	}
	return ids
}

// ItemsByEvent groups items by event id, keeping first-seen order of both
// events and items.
func (o *Order) ItemsByEvent() []EventGroup {
	index := make(map[string]int)
	var groups []EventGroup
	for _, it := range o.Items {
		i, ok := index[it.EventID]
		if !ok {
			i = len(groups)
			index[it.EventID] = i
			groups = append(groups, EventGroup{EventID: it.EventID})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

// Seats returns the seat ids of the group.
func (g EventGroup) Seats() []string {
	seats := make([]string, len(g.Items))
	for i, it := range g.Items {
		seats[i] = it.SeatID
	}
	return seats
}

// ReservationID returns the first reservation id present in the group.
func (g EventGroup) ReservationID() *string {
	for _, it := range g.Items {
		if it.ReservationID != nil {
			id := *it.ReservationID
			return &id
		}
	}
	return nil
}

func equal(p *string, v string) bool {
	return p != nil && *p == v
}
