package dto

// CreateAgentRequest represents an installer generation request. The
// integration comes from the path.
type CreateAgentRequest struct {
	SyncSales           *bool `json:"sync_sales,omitempty"`
	SyncMenu            *bool `json:"sync_menu,omitempty"`
	SyncInventory       *bool `json:"sync_inventory,omitempty"`
	SyncTables          *bool `json:"sync_tables,omitempty"`
	SyncIntervalSeconds *int  `json:"sync_interval_seconds,omitempty" validate:"omitempty,min=10,max=3600"`
}

// UpdateSyncConfigRequest represents a partial sync configuration update
type UpdateSyncConfigRequest struct {
	SyncSales           *bool `json:"sync_sales,omitempty"`
	SyncMenu            *bool `json:"sync_menu,omitempty"`
	SyncInventory       *bool `json:"sync_inventory,omitempty"`
	SyncTables          *bool `json:"sync_tables,omitempty"`
	SyncIntervalSeconds *int  `json:"sync_interval_seconds,omitempty" validate:"omitempty,min=10,max=3600"`
}

// ListSyncLogsQuery represents the sync log listing query params
type ListSyncLogsQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=500"`
}
