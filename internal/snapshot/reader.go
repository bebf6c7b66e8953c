// Package snapshot turns raw scraped grid pages into a bounded,
// deduplicated list of pending items. A clean-but-empty grid is a valid
// result; only transport failures surface as errors.
package snapshot

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/portal"
	"github.com/ribera-group/coordina-cli/internal/resilience"
)

// ReasonNoRows marks a snapshot that came back legitimately empty after
// a completed search.
const ReasonNoRows = "no_rows_after_search"

// Bounds caps how much of the grid one snapshot may consume.
type Bounds struct {
	MaxPages int
	MaxItems int
}

// DefaultBounds are applied for zero values.
func DefaultBounds() Bounds {
	return Bounds{MaxPages: 20, MaxItems: 500}
}

func (b Bounds) withDefaults() Bounds {
	def := DefaultBounds()
	if b.MaxPages <= 0 {
		b.MaxPages = def.MaxPages
	}
	if b.MaxItems <= 0 {
		b.MaxItems = def.MaxItems
	}
	return b
}

// Result is one completed snapshot read.
type Result struct {
	Items       []model.PendingItem
	Diagnostics model.PlanDiagnostics
}

// Reader consumes the grid collaborator page by page.
type Reader struct {
	grid   portal.GridClient
	bounds Bounds
	retry  resilience.RetryConfig
}

// ReaderOption customizes a Reader.
type ReaderOption func(*Reader)

// WithRetry overrides the retry settings for page fetches.
func WithRetry(cfg resilience.RetryConfig) ReaderOption {
	return func(r *Reader) { r.retry = cfg }
}

// NewReader builds a Reader over the given grid client.
func NewReader(grid portal.GridClient, bounds Bounds, opts ...ReaderOption) *Reader {
	r := &Reader{
		grid:   grid,
		bounds: bounds.withDefaults(),
		retry:  resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read pulls pages until the grid reports no more, a bound is hit, or a
// page cannot be fetched. Rows dedupe on their derived key; malformed
// rows are quarantined and counted. Zero rows after a clean read is a
// valid result with diagnostics.reason set, not an error.
func (r *Reader) Read(ctx context.Context, q portal.GridQuery) (*Result, error) {
	log := zap.L().With(
		zap.String("platform", q.Coord.Platform),
		zap.String("company_key", q.CompanyKey),
		zap.String("scope", string(q.Scope)),
	)

	res := &Result{}
	seen := make(map[string]struct{})

	for page := 1; ; page++ {
		gp, err := r.fetchPage(ctx, q, page)
		if err != nil {
			log.Warn("grid page fetch failed", zap.Int("page", page), zap.Error(err))
			return nil, model.NewStructured(model.CodeSnapshotReadFailed,
				"the pending-documents grid could not be read").
				WithHint("check that the browser bridge is running and the portal session is fresh, then retry").
				WithCause(err)
		}
		res.Diagnostics.PagesProcessed = page
		res.Diagnostics.RowsSeen += len(gp.Rows)

		full := r.appendRows(res, seen, q, gp.Rows)
		if full {
			res.Diagnostics.Truncated = true
			log.Info("snapshot truncated at item bound",
				zap.Int("max_items", r.bounds.MaxItems),
				zap.Int("pages_processed", page))
			break
		}
		if !gp.HasMore {
			break
		}
		if page >= r.bounds.MaxPages {
			res.Diagnostics.Truncated = true
			log.Info("snapshot truncated at page bound",
				zap.Int("max_pages", r.bounds.MaxPages))
			break
		}
	}

	if len(res.Items) == 0 {
		res.Diagnostics.Reason = ReasonNoRows
	}
	log.Info("snapshot complete",
		zap.Int("items", len(res.Items)),
		zap.Int("rows_seen", res.Diagnostics.RowsSeen),
		zap.Int("duplicates", res.Diagnostics.DuplicatesDropped),
		zap.Int("quarantined", res.Diagnostics.QuarantinedRows),
		zap.Bool("truncated", res.Diagnostics.Truncated))
	return res, nil
}

func (r *Reader) fetchPage(ctx context.Context, q portal.GridQuery, page int) (*portal.GridPage, error) {
	var gp *portal.GridPage
	err := resilience.Do(ctx, r.retry, func(ctx context.Context) error {
		var err error
		gp, err = r.grid.FetchPage(ctx, q, page)
		return err
	})
	return gp, err
}

// appendRows folds a page of raw rows into the result, reporting true
// once the item bound is reached.
func (r *Reader) appendRows(res *Result, seen map[string]struct{}, q portal.GridQuery, rows []portal.RawRow) bool {
	for _, row := range rows {
		item, ok := parseRow(row, q.Scope)
		if !ok {
			res.Diagnostics.QuarantinedRows++
			continue
		}
		if _, dup := seen[item.Key]; dup {
			res.Diagnostics.DuplicatesDropped++
			continue
		}
		seen[item.Key] = struct{}{}
		res.Items = append(res.Items, item)
		if len(res.Items) >= r.bounds.MaxItems {
			return true
		}
	}
	return false
}

// parseRow validates one scraped row. The grid presents document type,
// subject, and optionally period in the first three columns; a row
// missing either required cell is quarantined.
func parseRow(row portal.RawRow, scope model.Scope) (model.PendingItem, bool) {
	cell := func(i int) string {
		if i < len(row.Cells) {
			return strings.TrimSpace(row.Cells[i])
		}
		return ""
	}

	docType := cell(0)
	subject := cell(1)
	period := cell(2)
	if docType == "" || subject == "" {
		return model.PendingItem{}, false
	}

	return model.PendingItem{
		Key:          model.PendingItemKey(docType, subject, period),
		DocTypeLabel: docType,
		SubjectText:  subject,
		PeriodHint:   period,
		Scope:        scope,
	}, true
}
