// Package pos reads Soft Restaurant data from its SQL Server database.
package pos

import (
	"database/sql"
	"time"
)

// Ticket is a row of the cheques table with its lines and payments attached
type Ticket struct {
	Folio      int64           `db:"folio"`
	NumCheque  sql.NullString  `db:"numcheque"`
	Fecha      time.Time       `db:"fecha"`
	Cierre     sql.NullTime    `db:"cierre"`
	Mesa       sql.NullString  `db:"mesa"`
	IDMesero   sql.NullString  `db:"idmesero"`
	NoPersonas sql.NullInt64   `db:"nopersonas"`
	Subtotal   sql.NullFloat64 `db:"subtotal"`
	Impuesto   sql.NullFloat64 `db:"impuesto"`
	Descuento  sql.NullFloat64 `db:"descuento"`
	Propina    sql.NullFloat64 `db:"propina"`
	Total      sql.NullFloat64 `db:"total"`
	IDEmpresa  sql.NullString  `db:"idempresa"`

	Items    []TicketItem    `db:"-"`
	Payments []TicketPayment `db:"-"`
}

// TicketItem is a row of cheqdet joined with the product name
type TicketItem struct {
	Folio       int64           `db:"foliodet"`
	Movimiento  int64           `db:"movimiento"`
	IDProducto  string          `db:"idproducto"`
	Descripcion sql.NullString  `db:"descripcion"`
	Cantidad    sql.NullFloat64 `db:"cantidad"`
	Precio      sql.NullFloat64 `db:"precio"`
	Descuento   sql.NullFloat64 `db:"descuento"`
	Comentario  sql.NullString  `db:"comentario"`
}

// TicketPayment is a row of chequespagos joined with the tender name
type TicketPayment struct {
	Folio         int64           `db:"folio"`
	IDFormaDePago string          `db:"idformadepago"`
	Descripcion   sql.NullString  `db:"descripcion"`
	Importe       sql.NullFloat64 `db:"importe"`
	Propina       sql.NullFloat64 `db:"propina"`
}

// Product is a row of productos joined with its group
type Product struct {
	IDProducto  string          `db:"idproducto"`
	Descripcion sql.NullString  `db:"descripcion"`
	Grupo       sql.NullString  `db:"grupo"`
	Precio      sql.NullFloat64 `db:"precio"`
	Bloqueado   sql.NullBool    `db:"bloqueado"`
}

// InventoryItem is a row of insumos
type InventoryItem struct {
	IDInsumo      string          `db:"idinsumo"`
	Descripcion   sql.NullString  `db:"descripcion"`
	Unidad        sql.NullString  `db:"unidad"`
	Existencia    sql.NullFloat64 `db:"existencia"`
	Minimo        sql.NullFloat64 `db:"minimo"`
	CostoUnitario sql.NullFloat64 `db:"costounitario"`
}

// Table is a row of mesas
type Table struct {
	IDMesa      string         `db:"idmesa"`
	Descripcion sql.NullString `db:"descripcion"`
	Area        sql.NullString `db:"area"`
	Personas    sql.NullInt64  `db:"personas"`
	Estatus     sql.NullInt64  `db:"estatus"`
}

// RequiredTables are the tables the agent reads; a database lacking any of
// them is not a Soft Restaurant database.
var RequiredTables = []string{"cheques", "cheqdet", "productos", "insumos", "mesas"}
