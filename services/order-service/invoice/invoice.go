// Package invoice renders the invoice of a fully ticketed order and stores it
// where the customer can fetch it.
package invoice

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ticketchief/backend/services/order-service/models"
)

const contentType = "text/html; charset=utf-8"

var invoiceTemplate = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Invoice {{.ID}}</title></head>
<body>
<h1>Invoice {{.ID}}</h1>
<p>Order #{{.OrderID}} &middot; issued {{.IssuedAt}}</p>
<table>
<tr><th>Event</th><th>Seat</th><th>Ticket</th><th>Price</th></tr>
{{- range .Lines}}
<tr><td>{{.EventID}}</td><td>{{.SeatID}}</td><td>{{.TicketID}}</td><td>{{.Price}}</td></tr>
{{- end}}
</table>
<p>Subtotal: {{.Subtotal}} {{.Currency}}</p>
<p>Tax: {{.Tax}} {{.Currency}}</p>
<p><strong>Total: {{.Total}} {{.Currency}}</strong></p>
</body>
</html>
`))

type line struct {
	EventID  string
	SeatID   string
	TicketID string
	Price    string
}

type view struct {
	ID       string
	OrderID  int64
	IssuedAt string
	Currency string
	Lines    []line
	Subtotal string
	Tax      string
	Total    string
}

// Renderer turns an order into an HTML invoice document.
type Renderer struct {
	now func() time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{now: time.Now}
}

func (r *Renderer) Render(id string, order *models.Order) ([]byte, error) {
	v := view{
		ID:       id,
		OrderID:  order.ID,
		IssuedAt: r.now().UTC().Format("2006-01-02"),
		Currency: order.Currency,
		Subtotal: money(order.SubtotalCents()),
		Tax:      money(order.TaxAmountCents),
		Total:    money(order.TotalAmountCents),
	}
	for _, it := range order.Items {
		l := line{EventID: it.EventID, SeatID: it.SeatID, Price: money(it.UnitPriceCents)}
		if it.TicketID != nil {
			l.TicketID = *it.TicketID
		}
		v.Lines = append(v.Lines, l)
	}

	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", id, err)
	}
	return buf.Bytes(), nil
}

func money(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Store persists a rendered document and returns the URL it is served from.
type Store interface {
	Put(ctx context.Context, name, contentType string, body []byte) (string, error)
}

// Generator renders and stores invoices. The invoice id is derived from the
// order id, so regenerating overwrites the previous document.
type Generator struct {
	renderer *Renderer
	store    Store
}

func NewGenerator(renderer *Renderer, store Store) *Generator {
	return &Generator{renderer: renderer, store: store}
}

func (g *Generator) GenerateInvoice(ctx context.Context, order *models.Order) (models.Invoice, error) {
	id := fmt.Sprintf("INV-%d", order.ID)
	body, err := g.renderer.Render(id, order)
	if err != nil {
		return models.Invoice{}, err
	}
	url, err := g.store.Put(ctx, fmt.Sprintf("%d.html", order.ID), contentType, body)
	if err != nil {
		return models.Invoice{}, fmt.Errorf("store invoice %s: %w", id, err)
	}
	return models.Invoice{ID: id, URL: url}, nil
}
