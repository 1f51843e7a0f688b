package invoice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketchief/backend/services/order-service/models"
)

func ticketedOrder() *models.Order {
	t1, t2 := "t-1", "t-2"
	o := models.NewOrder("u-1", "fan@example.com")
	o.ID = 7
	o.Status = models.StatusPaid
	o.TaxAmountCents = 1120
	o.TotalAmountCents = 9120
	o.Items = []models.CartItem{
		{ID: 1, EventID: "e1", SeatID: "A1", UnitPriceCents: 5000, TicketID: &t1},
		{ID: 2, EventID: "e1", SeatID: "<A2>", UnitPriceCents: 3000, TicketID: &t2},
	}
	return o
}

func TestRender(t *testing.T) {
	r := NewRenderer()
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	body, err := r.Render("INV-7", ticketedOrder())
	require.NoError(t, err)
	html := string(body)

	assert.Contains(t, html, "Invoice INV-7")
	assert.Contains(t, html, "Order #7")
	assert.Contains(t, html, "2026-03-01")
	assert.Contains(t, html, "t-1")
	assert.Contains(t, html, "50.00")
	assert.Contains(t, html, "Subtotal: 80.00 CAD")
	assert.Contains(t, html, "Tax: 11.20 CAD")
	assert.Contains(t, html, "Total: 91.20 CAD")
	assert.Contains(t, html, "&lt;A2&gt;", "seat ids are escaped")
}

func TestGenerator_FileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8086/invoices/")
	require.NoError(t, err)

	inv, err := NewGenerator(NewRenderer(), store).GenerateInvoice(context.Background(), ticketedOrder())
	require.NoError(t, err)
	assert.Equal(t, "INV-7", inv.ID)
	assert.Equal(t, "http://localhost:8086/invoices/7.html", inv.URL)

	body, err := os.ReadFile(filepath.Join(dir, "7.html"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "INV-7")
}

type fakeUploader struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (f *fakeUploader) Upload(_ context.Context, key, contentType string, body []byte) (string, error) {
	f.key, f.contentType, f.body = key, contentType, body
	if f.err != nil {
		return "", f.err
	}
	return "https://s3.amazonaws.com/invoices/" + key, nil
}

func TestS3Store(t *testing.T) {
	up := &fakeUploader{}
	url, err := NewS3Store(up, "/invoices/", "").Put(context.Background(), "7.html", contentType, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "invoices/7.html", up.key)
	assert.Equal(t, contentType, up.contentType)
	assert.Equal(t, "https://s3.amazonaws.com/invoices/invoices/7.html", url)

	url, err = NewS3Store(up, "", "https://cdn.example.com/").Put(context.Background(), "7.html", contentType, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/7.html", url)
}

func TestGenerator_StoreFailure(t *testing.T) {
	up := &fakeUploader{err: errors.New("access denied")}
	_, err := NewGenerator(NewRenderer(), NewS3Store(up, "", "")).GenerateInvoice(context.Background(), ticketedOrder())
	assert.ErrorContains(t, err, "access denied")
}
