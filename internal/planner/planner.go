// Package planner turns a pending-grid snapshot into a persisted,
// reviewable submission plan: resolve each scraped row to a document
// type, score catalog candidates, and decide what may upload unattended.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ribera-group/coordina-cli/internal/doctypes"
	"github.com/ribera-group/coordina-cli/internal/match"
	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/normalize"
	"github.com/ribera-group/coordina-cli/internal/portal"
	"github.com/ribera-group/coordina-cli/internal/snapshot"
)

// Decision reason codes carried on every plan item.
const (
	ReasonConfidentMatch = "confident_match"
	ReasonBelowThreshold = "below_threshold"
	ReasonAmbiguousTie   = "ambiguous_tie"
	ReasonNoCandidate    = "no_candidate"
	ReasonTypeUnknown    = "type_unknown"
	ReasonWorkerUnknown  = "worker_not_in_roster"
)

// DefaultMinConfidence is the auto-upload threshold when none is
// configured.
const DefaultMinConfidence = 0.8

// SnapshotReader is the pending-grid read the planner performs.
type SnapshotReader interface {
	Read(ctx context.Context, q portal.GridQuery) (*snapshot.Result, error)
}

// Catalog is the slice of the store the planner consumes.
type Catalog interface {
	ListPeople(ctx context.Context, coord model.CoordContext) ([]model.PersonIdentity, error)
	ListDocuments(ctx context.Context, coord model.CoordContext) ([]model.DocumentRecord, error)
	SavePlan(ctx context.Context, coord model.CoordContext, plan *model.SubmissionPlan) error
}

// Request describes one BuildPlan call.
type Request struct {
	Coord      model.CoordContext `json:"coordination"`
	CompanyKey string             `json:"company_key"`
	PersonKey  string             `json:"person_key,omitempty"`
	Scope      model.Scope        `json:"scope"`
	Limit      int                `json:"limit,omitempty"`
	OnlyTarget bool               `json:"only_target,omitempty"`
}

// Builder assembles submission plans.
type Builder struct {
	store         Catalog
	reader        SnapshotReader
	types         *doctypes.Registry
	matcher       *match.Matcher
	minConfidence float64
	now           func() time.Time
}

// Option customizes a Builder.
type Option func(*Builder)

// WithMinConfidence overrides the auto-upload threshold.
func WithMinConfidence(v float64) Option {
	return func(b *Builder) { b.minConfidence = v }
}

// WithNow injects a clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(store Catalog, reader SnapshotReader, types *doctypes.Registry, matcher *match.Matcher, opts ...Option) *Builder {
	b := &Builder{
		store:         store,
		reader:        reader,
		types:         types,
		matcher:       matcher,
		minConfidence: DefaultMinConfidence,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build reads the pending grid and produces a decided, persisted plan.
// It never mutates the portal. An empty grid is a valid outcome: the
// plan comes back with zero decisions and a diagnostics reason.
func (b *Builder) Build(ctx context.Context, req Request) (*model.SubmissionPlan, error) {
	if !req.Coord.Active() {
		return nil, model.NewStructured(model.CodeMissingCoordinationContext,
			"no coordination context selected").
			WithHint("select the platform and coordinated company before building a plan")
	}
	if strings.TrimSpace(req.CompanyKey) == "" {
		return nil, eris.New("planner: company key is required")
	}
	if !req.Scope.Valid() {
		return nil, eris.Errorf("planner: invalid scope %q", req.Scope)
	}

	log := zap.L().With(
		zap.String("platform", req.Coord.Platform),
		zap.String("company_key", req.CompanyKey),
		zap.String("scope", string(req.Scope)),
	)

	snap, err := b.reader.Read(ctx, portal.GridQuery{
		Coord:      req.Coord,
		CompanyKey: req.CompanyKey,
		PersonKey:  req.PersonKey,
		Scope:      req.Scope,
	})
	if err != nil {
		return nil, err
	}

	items := snap.Items
	diags := snap.Diagnostics
	if req.Limit > 0 && len(items) > req.Limit {
		items = items[:req.Limit]
		diags.Truncated = true
	}
	if req.OnlyTarget {
		var skipped int
		items, skipped = filterTarget(items, req)
		diags.SkippedOtherSubjects = skipped
	}

	plan := &model.SubmissionPlan{
		PlanID:        uuid.New().String(),
		ConfirmToken:  uuid.New().String(),
		Platform:      req.Coord.Platform,
		Coord:         req.Coord,
		MinConfidence: b.minConfidence,
		CreatedAt:     b.now().UTC(),
	}

	if len(items) > 0 {
		people, docs, err := b.loadCatalog(ctx, req.Coord)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			dec, expired := b.decide(item, people, docs)
			diags.ExpiredExcluded += expired
			plan.Decisions = append(plan.Decisions, dec)
		}
	}

	plan.Diagnostics = diags
	plan.Summarize()

	if err := b.store.SavePlan(ctx, req.Coord, plan); err != nil {
		return nil, err
	}

	log.Info("plan built",
		zap.String("plan_id", plan.PlanID),
		zap.String("decision", string(plan.Decision)),
		zap.Int("total", plan.Summary.Total),
		zap.Int("auto_upload", plan.Summary.AutoUpload),
		zap.Int("review_required", plan.Summary.ReviewRequired),
		zap.Int("no_match", plan.Summary.NoMatch),
	)
	return plan, nil
}

// loadCatalog fetches the roster and document catalog concurrently.
func (b *Builder) loadCatalog(ctx context.Context, coord model.CoordContext) ([]model.PersonIdentity, []model.DocumentRecord, error) {
	var (
		people []model.PersonIdentity
		docs   []model.DocumentRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		people, err = b.store.ListPeople(gctx, coord)
		return err
	})
	g.Go(func() error {
		var err error
		docs, err = b.store.ListDocuments(gctx, coord)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "planner: load catalog")
	}
	return people, docs, nil
}

// decide resolves one pending item to a terminal per-item decision and
// reports how many candidate documents were excluded as expired.
func (b *Builder) decide(item model.PendingItem, people []model.PersonIdentity, docs []model.DocumentRecord) (model.Decision, int) {
	dec := model.Decision{PendingItemKey: item.Key, Item: item}

	typeIDs := b.types.ResolveScoped(item.DocTypeLabel, item.Scope)
	if len(typeIDs) == 0 {
		dec.Decision = model.DecisionNoMatch
		dec.ReasonCode = ReasonTypeUnknown
		dec.Reason = fmt.Sprintf("portal label %q does not resolve to a known document type", item.DocTypeLabel)
		return dec, 0
	}

	res := b.matcher.Best(item, typeIDs, docs, people)
	if res.Best == nil {
		dec.Decision = model.DecisionNoMatch
		dec.TypeID = typeIDs[0]
		if item.Scope == model.ScopeWorker && res.Person == nil {
			dec.ReasonCode = ReasonWorkerUnknown
			dec.Reason = fmt.Sprintf("subject %q was not found in the worker roster", item.SubjectText)
		} else {
			dec.ReasonCode = ReasonNoCandidate
			dec.Reason = "no catalog document matched this item"
		}
		return dec, res.ExpiredExcluded
	}

	dec.Confidence = res.Best.Confidence
	dec.TypeID = res.Best.Doc.TypeID
	dec.Candidate = &model.MatchCandidate{
		PendingItemKey: item.Key,
		DocID:          res.Best.Doc.DocID,
		Confidence:     res.Best.Confidence,
		MatchBasis:     res.Basis,
	}

	switch {
	case res.Ambiguous():
		dec.Decision = model.DecisionReviewRequired
		dec.ReasonCode = ReasonAmbiguousTie
		dec.Reason = fmt.Sprintf("%d documents tied at confidence %.2f", res.Tied, res.Best.Confidence)
	case res.Best.Confidence < b.minConfidence:
		dec.Decision = model.DecisionReviewRequired
		dec.ReasonCode = ReasonBelowThreshold
		dec.Reason = fmt.Sprintf("confidence %.2f is below the %.2f threshold", res.Best.Confidence, b.minConfidence)
	default:
		dec.Decision = model.DecisionAutoUpload
		dec.ReasonCode = ReasonConfidentMatch
		dec.Reason = fmt.Sprintf("document %s matched with confidence %.2f", res.Best.Doc.DocID, res.Best.Confidence)
	}
	return dec, res.ExpiredExcluded
}

// filterTarget drops rows belonging to subjects other than the one the
// request asked about. The grid search is fuzzy on the portal side, so
// rows for unrelated workers or companies can ride along.
func filterTarget(items []model.PendingItem, req Request) ([]model.PendingItem, int) {
	companyKey := normalize.CompanyKey(req.CompanyKey)
	personKey := normalize.Normalize(req.PersonKey)

	kept := items[:0]
	skipped := 0
	for _, item := range items {
		keep := true
		switch item.Scope {
		case model.ScopeCompany:
			keep = normalize.CompanyKey(item.SubjectText) == companyKey
		case model.ScopeWorker:
			if personKey != "" {
				keep = strings.Contains(normalize.Normalize(item.SubjectText), personKey)
			}
		}
		if keep {
			kept = append(kept, item)
		} else {
			skipped++
		}
	}
	return kept, skipped
}
