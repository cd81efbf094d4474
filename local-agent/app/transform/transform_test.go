package transform

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/pos"
)

func mexico(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)
	return loc
}

func TestSale_MapsTicketAndConvertsToUTC(t *testing.T) {
	opts := Options{Currency: "MXN", EmpresaID: "7", Location: mexico(t)}
	ticket := pos.Ticket{
		Folio:      1042,
		NumCheque:  sql.NullString{String: "88", Valid: true},
		Fecha:      time.Date(2024, 3, 1, 13, 30, 0, 0, time.UTC),
		Cierre:     sql.NullTime{Time: time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC), Valid: true},
		Mesa:       sql.NullString{String: " 12 ", Valid: true},
		NoPersonas: sql.NullInt64{Int64: 3, Valid: true},
		Subtotal:   sql.NullFloat64{Float64: 100, Valid: true},
		Impuesto:   sql.NullFloat64{Float64: 16, Valid: true},
		Total:      sql.NullFloat64{Float64: 116, Valid: true},
		Items: []pos.TicketItem{
			{IDProducto: "P1", Descripcion: sql.NullString{String: "Tacos", Valid: true}, Cantidad: sql.NullFloat64{Float64: 2, Valid: true}, Precio: sql.NullFloat64{Float64: 50, Valid: true}},
			{IDProducto: "P9", Cantidad: sql.NullFloat64{Float64: -1, Valid: true}},
		},
		Payments: []pos.TicketPayment{
			{IDFormaDePago: "EF", Importe: sql.NullFloat64{Float64: 116, Valid: true}},
		},
	}

	rec := Sale(ticket, opts)

	assert.Equal(t, "1042", rec.SourceOrderNumber)
	assert.Equal(t, "88", rec.TicketNumber)
	assert.Equal(t, "7", rec.EmpresaID)
	assert.Equal(t, "12", rec.TableNumber)
	assert.Equal(t, 3, rec.Guests)
	assert.Equal(t, "MXN", rec.Currency)
	assert.Equal(t, 116.0, rec.Total)
	// Mexico City is UTC-6 in March 2024
	assert.Equal(t, time.Date(2024, 3, 1, 19, 30, 0, 0, time.UTC), rec.OpenedAt)
	require.NotNil(t, rec.ClosedAt)
	assert.Equal(t, time.Date(2024, 3, 1, 20, 5, 0, 0, time.UTC), *rec.ClosedAt)

	require.Len(t, rec.Items, 2)
	assert.Equal(t, 100.0, rec.Items[0].Total)
	assert.Equal(t, "Producto P9", rec.Items[1].Name)
	assert.Equal(t, 0.0, rec.Items[1].Quantity)

	require.Len(t, rec.Payments, 1)
	assert.Equal(t, "EF", rec.Payments[0].Method)
	assert.Equal(t, "MXN", rec.Payments[0].Currency)
}

func TestSale_DoesNotMutateInput(t *testing.T) {
	ticket := pos.Ticket{Folio: 1, Items: []pos.TicketItem{{IDProducto: "P1"}}}
	_ = Sale(ticket, Options{})
	assert.Equal(t, "P1", ticket.Items[0].IDProducto)
	assert.False(t, ticket.Items[0].Descripcion.Valid)
}

func TestDefaults(t *testing.T) {
	empty := Options{}

	menu := MenuItem(pos.Product{IDProducto: "P3", Precio: sql.NullFloat64{Float64: -5, Valid: true}}, empty)
	assert.Equal(t, "Producto P3", menu.Name)
	assert.Equal(t, "MXN", menu.Currency)
	assert.Equal(t, 0.0, menu.Price)
	assert.True(t, menu.Available)

	blocked := MenuItem(pos.Product{IDProducto: "P4", Bloqueado: sql.NullBool{Bool: true, Valid: true}}, Options{Currency: "usd"})
	assert.False(t, blocked.Available)
	assert.Equal(t, "USD", blocked.Currency)

	inv := InventoryItem(pos.InventoryItem{IDInsumo: "I1", Existencia: sql.NullFloat64{Float64: -2, Valid: true}}, empty)
	assert.Equal(t, 0.0, inv.Quantity)
	assert.Equal(t, "Insumo I1", inv.Name)

	table := Table(pos.Table{IDMesa: "4", Estatus: sql.NullInt64{Int64: 1, Valid: true}}, empty)
	assert.Equal(t, "Mesa 4", table.Name)
	assert.True(t, table.Occupied)
	assert.Equal(t, 0, table.Capacity)
}

func TestSliceHelpers(t *testing.T) {
	opts := Options{Currency: "MXN"}
	assert.Len(t, Sales([]pos.Ticket{{Folio: 1}, {Folio: 2}}, opts), 2)
	assert.Len(t, MenuItems(nil, opts), 0)
	assert.Len(t, InventoryItems([]pos.InventoryItem{{IDInsumo: "a"}}, opts), 1)
	assert.Len(t, Tables([]pos.Table{{IDMesa: "1"}}, opts), 1)
}
