package syncproto

import "time"

// SaleRecord is the canonical form of a closed POS ticket
type SaleRecord struct {
	SourceOrderNumber string     `json:"source_order_number" validate:"required,max=64"`
	TicketNumber      string     `json:"ticket_number,omitempty"`
	EmpresaID         string     `json:"empresa_id,omitempty"`
	OpenedAt          time.Time  `json:"opened_at" validate:"required"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	TableNumber       string     `json:"table_number,omitempty"`
	WaiterID          string     `json:"waiter_id,omitempty"`
	Guests            int        `json:"guests" validate:"min=0"`
	Subtotal          float64    `json:"subtotal"`
	Tax               float64    `json:"tax"`
	Discount          float64    `json:"discount"`
	Tip               float64    `json:"tip"`
	Total             float64    `json:"total"`
	Currency          string     `json:"currency" validate:"required,len=3"`
	Items             []SaleItem `json:"items" validate:"dive"`
	Payments          []Payment  `json:"payments" validate:"dive"`
}

// NaturalKey returns the source system order number
func (r *SaleRecord) NaturalKey() string { return r.SourceOrderNumber }

// SaleItem is a single line on a ticket
type SaleItem struct {
	ProductID string  `json:"product_id" validate:"required"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity" validate:"min=0"`
	UnitPrice float64 `json:"unit_price"`
	Discount  float64 `json:"discount"`
	Total     float64 `json:"total"`
	Comment   string  `json:"comment,omitempty"`
}

// Payment is a single tender applied to a ticket
type Payment struct {
	Method   string  `json:"method" validate:"required"`
	Amount   float64 `json:"amount"`
	Tip      float64 `json:"tip"`
	Currency string  `json:"currency" validate:"required,len=3"`
}

// MenuItemRecord is the canonical form of a POS product
type MenuItemRecord struct {
	SourceProductID string  `json:"source_product_id" validate:"required,max=64"`
	Name            string  `json:"name" validate:"required"`
	Category        string  `json:"category,omitempty"`
	Price           float64 `json:"price" validate:"min=0"`
	Currency        string  `json:"currency" validate:"required,len=3"`
	Available       bool    `json:"available"`
}

// NaturalKey returns the source product identifier
func (r *MenuItemRecord) NaturalKey() string { return r.SourceProductID }

// InventoryRecord is the canonical form of a POS stock item
type InventoryRecord struct {
	SourceItemID string  `json:"source_item_id" validate:"required,max=64"`
	Name         string  `json:"name" validate:"required"`
	Unit         string  `json:"unit,omitempty"`
	Quantity     float64 `json:"quantity"`
	MinQuantity  float64 `json:"min_quantity"`
	UnitCost     float64 `json:"unit_cost"`
	Currency     string  `json:"currency" validate:"required,len=3"`
}

// NaturalKey returns the source inventory item identifier
func (r *InventoryRecord) NaturalKey() string { return r.SourceItemID }

// TableRecord is the canonical form of a dining table
type TableRecord struct {
	SourceTableID string `json:"source_table_id" validate:"required,max=64"`
	Name          string `json:"name" validate:"required"`
	Area          string `json:"area,omitempty"`
	Capacity      int    `json:"capacity" validate:"min=0"`
	Occupied      bool   `json:"occupied"`
}

// NaturalKey returns the source table identifier
func (r *TableRecord) NaturalKey() string { return r.SourceTableID }
