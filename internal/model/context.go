package model

import "strings"

// CoordContext identifies the tenant a read or write applies to: our own
// company, the coordination platform, and the coordinated (client)
// company whose obligations we are reconciling. It travels as an
// explicit parameter on every operation that touches tenant-scoped
// state; there is no ambient default.
type CoordContext struct {
	OwnCompany         string `json:"own_company"`
	Platform           string `json:"platform"`
	CoordinatedCompany string `json:"coordinated_company"`
}

// Active reports whether the context names a concrete tenant. Writes
// against an inactive context must fail closed with
// MissingCoordinationContext rather than landing in a shared bucket.
func (c CoordContext) Active() bool {
	return strings.TrimSpace(c.OwnCompany) != "" &&
		strings.TrimSpace(c.Platform) != "" &&
		strings.TrimSpace(c.CoordinatedCompany) != ""
}
