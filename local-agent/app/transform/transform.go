// Package transform maps Soft Restaurant rows to the canonical wire records.
// Every function is pure and total over rows returned by the pos package.
package transform

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/pos"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// Options carry tenant defaults applied where the POS row has no value
type Options struct {
	Currency  string
	EmpresaID string
	// Location is the POS wall clock zone; nil means UTC
	Location *time.Location
}

func (o Options) currency() string {
	if c := strings.TrimSpace(o.Currency); len(c) == 3 {
		return strings.ToUpper(c)
	}
	return "MXN"
}

// toUTC reinterprets a POS wall clock time in the configured location
func (o Options) toUTC(t time.Time) time.Time {
	loc := o.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc).UTC()
}

// Sale maps a ticket with its lines and payments
func Sale(t pos.Ticket, o Options) syncproto.SaleRecord {
	rec := syncproto.SaleRecord{
		SourceOrderNumber: strconv.FormatInt(t.Folio, 10),
		TicketNumber:      str(t.NumCheque),
		EmpresaID:         str(t.IDEmpresa),
		OpenedAt:          o.toUTC(t.Fecha),
		TableNumber:       str(t.Mesa),
		WaiterID:          str(t.IDMesero),
		Guests:            nonNegInt(t.NoPersonas),
		Subtotal:          num(t.Subtotal),
		Tax:               num(t.Impuesto),
		Discount:          num(t.Descuento),
		Tip:               num(t.Propina),
		Total:             num(t.Total),
		Currency:          o.currency(),
		Items:             make([]syncproto.SaleItem, 0, len(t.Items)),
		Payments:          make([]syncproto.Payment, 0, len(t.Payments)),
	}
	if rec.EmpresaID == "" {
		rec.EmpresaID = o.EmpresaID
	}
	if t.Cierre.Valid {
		closed := o.toUTC(t.Cierre.Time)
		rec.ClosedAt = &closed
	}

	for _, it := range t.Items {
		qty := nonNeg(num(it.Cantidad))
		price := num(it.Precio)
		discount := num(it.Descuento)
		rec.Items = append(rec.Items, syncproto.SaleItem{
			ProductID: it.IDProducto,
			Name:      nameOr(it.Descripcion, "Producto", it.IDProducto),
			Quantity:  qty,
			UnitPrice: price,
			Discount:  discount,
			Total:     round2(qty*price - discount),
			Comment:   str(it.Comentario),
		})
	}

	for _, p := range t.Payments {
		method := str(p.Descripcion)
		if method == "" {
			method = p.IDFormaDePago
		}
		rec.Payments = append(rec.Payments, syncproto.Payment{
			Method:   method,
			Amount:   num(p.Importe),
			Tip:      num(p.Propina),
			Currency: o.currency(),
		})
	}
	return rec
}

// MenuItem maps a product
func MenuItem(p pos.Product, o Options) syncproto.MenuItemRecord {
	return syncproto.MenuItemRecord{
		SourceProductID: p.IDProducto,
		Name:            nameOr(p.Descripcion, "Producto", p.IDProducto),
		Category:        str(p.Grupo),
		Price:           nonNeg(num(p.Precio)),
		Currency:        o.currency(),
		Available:       !(p.Bloqueado.Valid && p.Bloqueado.Bool),
	}
}

// InventoryItem maps a stock item
func InventoryItem(i pos.InventoryItem, o Options) syncproto.InventoryRecord {
	return syncproto.InventoryRecord{
		SourceItemID: i.IDInsumo,
		Name:         nameOr(i.Descripcion, "Insumo", i.IDInsumo),
		Unit:         str(i.Unidad),
		Quantity:     nonNeg(num(i.Existencia)),
		MinQuantity:  nonNeg(num(i.Minimo)),
		UnitCost:     nonNeg(num(i.CostoUnitario)),
		Currency:     o.currency(),
	}
}

// Table maps a dining table
func Table(t pos.Table, o Options) syncproto.TableRecord {
	return syncproto.TableRecord{
		SourceTableID: t.IDMesa,
		Name:          nameOr(t.Descripcion, "Mesa", t.IDMesa),
		Area:          str(t.Area),
		Capacity:      nonNegInt(t.Personas),
		Occupied:      t.Estatus.Valid && t.Estatus.Int64 != 0,
	}
}

// Sales maps a slice of tickets
func Sales(ts []pos.Ticket, o Options) []syncproto.SaleRecord {
	out := make([]syncproto.SaleRecord, len(ts))
	for i, t := range ts {
		out[i] = Sale(t, o)
	}
	return out
}

// MenuItems maps a slice of products
func MenuItems(ps []pos.Product, o Options) []syncproto.MenuItemRecord {
	out := make([]syncproto.MenuItemRecord, len(ps))
	for i, p := range ps {
		out[i] = MenuItem(p, o)
	}
	return out
}

// InventoryItems maps a slice of stock items
func InventoryItems(is []pos.InventoryItem, o Options) []syncproto.InventoryRecord {
	out := make([]syncproto.InventoryRecord, len(is))
	for i, it := range is {
		out[i] = InventoryItem(it, o)
	}
	return out
}

// Tables maps a slice of dining tables
func Tables(ts []pos.Table, o Options) []syncproto.TableRecord {
	out := make([]syncproto.TableRecord, len(ts))
	for i, t := range ts {
		out[i] = Table(t, o)
	}
	return out
}

func str(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return strings.TrimSpace(s.String)
}

func num(f sql.NullFloat64) float64 {
	if !f.Valid {
		return 0
	}
	return f.Float64
}

func nonNeg(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func nonNegInt(n sql.NullInt64) int {
	if !n.Valid || n.Int64 < 0 {
		return 0
	}
	return int(n.Int64)
}

func nameOr(name sql.NullString, kind, id string) string {
	if n := str(name); n != "" {
		return n
	}
	return fmt.Sprintf("%s %s", kind, id)
}

func round2(f float64) float64 {
	if f < 0 {
		return -round2(-f)
	}
	return float64(int64(f*100+0.5)) / 100
}
