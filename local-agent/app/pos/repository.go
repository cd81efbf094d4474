package pos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"
)

// DriverName is the database/sql driver used for Soft Restaurant databases
const DriverName = "sqlserver"

// OpenTicketHorizon bounds how far an open ticket may lag the newest ticket
// and still hold back the sales cursor. Older open tickets are treated as
// abandoned.
const OpenTicketHorizon = 24 * time.Hour

// Repository issues bounded, ordered reads against the POS database. It is
// stateless with respect to delivery: callers own the cursor.
type Repository struct {
	db     *sqlx.DB
	flavor sqlbuilder.Flavor
	logger *zap.Logger
}

// NewRepository creates a repository over db. flavor selects the SQL dialect;
// production uses sqlbuilder.SQLServer.
func NewRepository(db *sqlx.DB, flavor sqlbuilder.Flavor, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, flavor: flavor, logger: logger}
}

// Open connects to a Soft Restaurant database with a go-mssqldb connection string
func Open(ctx context.Context, connString string, logger *zap.Logger) (*Repository, error) {
	db, err := sqlx.Open(DriverName, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open pos database: %w", err)
	}
	db.SetMaxOpenConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping pos database: %w", err)
	}
	return NewRepository(db, sqlbuilder.SQLServer, logger), nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks the POS database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) ticketSelect() *sqlbuilder.SelectBuilder {
	sb := r.flavor.NewSelectBuilder()
	sb.Select("folio", "numcheque", "fecha", "cierre", "mesa", "idmesero", "nopersonas",
		"subtotal", "impuesto", "descuento", "propina", "total", "idempresa")
	sb.From("cheques")
	sb.Where(
		sb.Equal("pagado", 1),
		sb.Or(sb.IsNull("cancelado"), sb.Equal("cancelado", 0)),
	)
	return sb
}

// openFolioFloor returns the lowest folio above after that is still open
// and not cancelled. Folios are assigned when a ticket is opened, so no
// closed ticket at or above that folio may be handed to the cursor yet.
func (r *Repository) openFolioFloor(ctx context.Context, after int64) (sql.NullInt64, error) {
	var floor sql.NullInt64

	nb := r.flavor.NewSelectBuilder()
	nb.Select("fecha").From("cheques").OrderBy("fecha").Desc().Limit(1)
	query, args := nb.Build()
	var newest time.Time
	if err := r.db.GetContext(ctx, &newest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return floor, nil
		}
		return floor, fmt.Errorf("failed to query newest ticket: %w", err)
	}

	sb := r.flavor.NewSelectBuilder()
	sb.Select("MIN(folio)").From("cheques")
	sb.Where(
		sb.GreaterThan("folio", after),
		sb.Or(sb.IsNull("pagado"), sb.Equal("pagado", 0)),
		sb.Or(sb.IsNull("cancelado"), sb.Equal("cancelado", 0)),
		sb.GreaterEqualThan("fecha", newest.Add(-OpenTicketHorizon)),
	)
	query, args = sb.Build()
	if err := r.db.GetContext(ctx, &floor, query, args...); err != nil {
		return floor, fmt.Errorf("failed to query open tickets: %w", err)
	}
	return floor, nil
}

// GetNewRecords returns up to limit closed, non-cancelled tickets whose folio
// is greater than after, in ascending folio order. The read stops below the
// lowest still-open folio so a ticket closed out of order is never skipped.
func (r *Repository) GetNewRecords(ctx context.Context, after int64, limit int) ([]Ticket, error) {
	floor, err := r.openFolioFloor(ctx, after)
	if err != nil {
		return nil, err
	}

	sb := r.ticketSelect()
	sb.Where(sb.GreaterThan("folio", after))
	if floor.Valid {
		sb.Where(sb.LessThan("folio", floor.Int64))
	}
	sb.OrderBy("folio").Asc()
	sb.Limit(limit)

	query, args := sb.Build()
	var tickets []Ticket
	if err := r.db.SelectContext(ctx, &tickets, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}

	if err := r.attachDetails(ctx, tickets); err != nil {
		return nil, err
	}

	r.logger.Debug("read new tickets",
		zap.Int64("after", after),
		zap.Int("count", len(tickets)),
		zap.Int64("open_floor", floor.Int64),
	)
	return tickets, nil
}

// GetRecentSales returns the last limit tickets below the lowest open folio,
// in ascending folio order. It seeds the first full sync when no cursor
// exists.
func (r *Repository) GetRecentSales(ctx context.Context, limit int) ([]Ticket, error) {
	floor, err := r.openFolioFloor(ctx, 0)
	if err != nil {
		return nil, err
	}

	sb := r.ticketSelect()
	if floor.Valid {
		sb.Where(sb.LessThan("folio", floor.Int64))
	}
	sb.OrderBy("folio").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var tickets []Ticket
	if err := r.db.SelectContext(ctx, &tickets, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query recent tickets: %w", err)
	}

	for i, j := 0, len(tickets)-1; i < j; i, j = i+1, j-1 {
		tickets[i], tickets[j] = tickets[j], tickets[i]
	}

	if err := r.attachDetails(ctx, tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// attachDetails loads lines and payments for tickets in two queries
func (r *Repository) attachDetails(ctx context.Context, tickets []Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	folios := make([]int64, len(tickets))
	index := make(map[int64]int, len(tickets))
	for i, t := range tickets {
		folios[i] = t.Folio
		index[t.Folio] = i
	}

	ib := r.flavor.NewSelectBuilder()
	ib.Select("d.foliodet", "d.movimiento", "d.idproducto", "p.descripcion", "d.cantidad", "d.precio", "d.descuento", "d.comentario")
	ib.From("cheqdet d")
	ib.JoinWithOption(sqlbuilder.LeftJoin, "productos p", "p.idproducto = d.idproducto")
	ib.Where(ib.In("d.foliodet", sqlbuilder.Flatten(folios)...))
	ib.OrderBy("d.foliodet", "d.movimiento").Asc()

	query, args := ib.Build()
	var items []TicketItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return fmt.Errorf("failed to query ticket items: %w", err)
	}
	for _, item := range items {
		if i, ok := index[item.Folio]; ok {
			tickets[i].Items = append(tickets[i].Items, item)
		}
	}

	pb := r.flavor.NewSelectBuilder()
	pb.Select("c.folio", "c.idformadepago", "f.descripcion", "c.importe", "c.propina")
	pb.From("chequespagos c")
	pb.JoinWithOption(sqlbuilder.LeftJoin, "formasdepago f", "f.idformadepago = c.idformadepago")
	pb.Where(pb.In("c.folio", sqlbuilder.Flatten(folios)...))
	pb.OrderBy("c.folio").Asc()

	query, args = pb.Build()
	var payments []TicketPayment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return fmt.Errorf("failed to query ticket payments: %w", err)
	}
	for _, p := range payments {
		if i, ok := index[p.Folio]; ok {
			tickets[i].Payments = append(tickets[i].Payments, p)
		}
	}
	return nil
}

// GetAllProducts returns a full snapshot of the product catalogue
func (r *Repository) GetAllProducts(ctx context.Context) ([]Product, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select("p.idproducto", "p.descripcion", sb.As("g.descripcion", "grupo"), "p.precio", "p.bloqueado")
	sb.From("productos p")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "grupos g", "g.idgrupo = p.idgrupo")
	sb.OrderBy("p.idproducto").Asc()

	query, args := sb.Build()
	var products []Product
	if err := r.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return products, nil
}

// GetAllInventory returns a full snapshot of stock items
func (r *Repository) GetAllInventory(ctx context.Context) ([]InventoryItem, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select("idinsumo", "descripcion", "unidad", "existencia", "minimo", "costounitario")
	sb.From("insumos")
	sb.OrderBy("idinsumo").Asc()

	query, args := sb.Build()
	var items []InventoryItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	return items, nil
}

// GetAllTables returns a full snapshot of dining tables
func (r *Repository) GetAllTables(ctx context.Context) ([]Table, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select("idmesa", "descripcion", "area", "personas", "estatus")
	sb.From("mesas")
	sb.OrderBy("idmesa").Asc()

	query, args := sb.Build()
	var tables []Table
	if err := r.db.SelectContext(ctx, &tables, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return tables, nil
}
