// Package portal defines the boundary to the coordination platform: a
// grid client that reads the pending-documents table, an uploader that
// submits documents, and a probe for saved browser sessions. The
// concrete implementations talk to the local browser bridge service;
// everything above this package works against the interfaces.
package portal

import (
	"context"

	"github.com/ribera-group/coordina-cli/internal/model"
)

// GridQuery describes one pending-documents search on the platform.
type GridQuery struct {
	Coord      model.CoordContext `json:"coordination"`
	CompanyKey string             `json:"company_key"`
	PersonKey  string             `json:"person_key,omitempty"`
	Scope      model.Scope        `json:"scope"`
}

// RawRow is one grid row as scraped: the visible cell texts in column
// order. Shape is validated by the snapshot reader, not here.
type RawRow struct {
	Cells []string `json:"cells"`
}

// GridPage is one page of scraped grid rows plus the pagination signal.
type GridPage struct {
	Rows    []RawRow `json:"rows"`
	HasMore bool     `json:"has_more"`
	Page    int      `json:"page"`
}

// GridClient reads pages of the platform's pending-documents grid.
// Pages are numbered from 1.
type GridClient interface {
	FetchPage(ctx context.Context, q GridQuery, page int) (*GridPage, error)
}

// UploadRequest asks the platform to attach a catalog document to a
// pending obligation.
type UploadRequest struct {
	Coord          model.CoordContext `json:"coordination"`
	PendingItemKey string             `json:"pending_item_key"`
	DocID          string             `json:"doc_id"`
	TypeID         string             `json:"type_id"`
}

// UploadResult reports the platform's answer to one upload.
type UploadResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Uploader submits documents to the platform.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
}

// SessionProbe checks that a usable saved browser session exists for a
// platform before real execution is allowed to start.
type SessionProbe interface {
	HasValidSession(platform string) error
}
