package match

import (
	"regexp"
	"strings"
	"time"

	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/normalize"
)

// Scored pairs a catalog document with the confidence it earned for a
// particular pending item.
type Scored struct {
	Doc        model.DocumentRecord
	Confidence float64
}

// Result is the outcome of matching one pending item against the
// catalog. Best is nil when nothing scored above zero. Tied counts the
// documents left sharing the top confidence after tie-breaking; a value
// above one means the match is ambiguous and needs a human pick.
type Result struct {
	Best            *Scored
	Basis           model.MatchBasis
	Tied            int
	ExpiredExcluded int
	Person          *model.PersonIdentity
}

// Ambiguous reports whether more than one document is tied for best.
func (r Result) Ambiguous() bool {
	return r.Tied > 1
}

// Matcher scores catalog documents against pending items.
type Matcher struct {
	cfg ScoringConfig
	now func() time.Time
}

// MatcherOption customizes a Matcher.
type MatcherOption func(*Matcher)

// WithNow overrides the clock used for document expiry checks.
func WithNow(now func() time.Time) MatcherOption {
	return func(m *Matcher) { m.now = now }
}

// NewMatcher builds a Matcher with the given penalty configuration.
func NewMatcher(cfg ScoringConfig, opts ...MatcherOption) *Matcher {
	m := &Matcher{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Best selects the highest-confidence document for item among docs whose
// type is in typeIDs. Worker-scoped items resolve their subject through
// the person registry; company-scoped items compare company keys.
// Documents past their validity window are excluded and counted, never
// scored.
func (m *Matcher) Best(item model.PendingItem, typeIDs []string, docs []model.DocumentRecord, people []model.PersonIdentity) Result {
	res := Result{Basis: model.MatchBasisNone}
	if len(typeIDs) == 0 {
		return res
	}
	typeSet := make(map[string]struct{}, len(typeIDs))
	for _, id := range typeIDs {
		typeSet[id] = struct{}{}
	}

	var pm PersonMatch
	if item.Scope == model.ScopeWorker {
		matched := false
		pm, matched = bestPersonFor(item.SubjectText, people)
		if !matched {
			return res
		}
		res.Person = &pm.Person
	}

	now := m.now()
	var scored []Scored
	best := 0.0
	for _, doc := range docs {
		if _, ok := typeSet[doc.TypeID]; !ok {
			continue
		}
		if doc.Expired(now) {
			res.ExpiredExcluded++
			continue
		}
		conf, ok := m.score(item, doc, pm)
		if !ok || conf <= 0 {
			continue
		}
		scored = append(scored, Scored{Doc: doc, Confidence: conf})
		if conf > best {
			best = conf
		}
	}
	if len(scored) == 0 {
		return res
	}

	top := make([]Scored, 0, 1)
	for _, s := range scored {
		if s.Confidence == best {
			top = append(top, s)
		}
	}
	top = preferExactPeriod(top, item.PeriodHint)

	res.Best = &top[0]
	res.Tied = len(top)
	if item.Scope == model.ScopeWorker {
		res.Basis = pm.Basis
	} else {
		res.Basis = model.MatchBasisNameTokens
	}
	return res
}

// score computes the confidence of doc for item, or ok=false when the
// subject does not correspond at all.
func (m *Matcher) score(item model.PendingItem, doc model.DocumentRecord, pm PersonMatch) (float64, bool) {
	conf := 1.0

	switch item.Scope {
	case model.ScopeWorker:
		if doc.SubjectKey != pm.Person.WorkerID {
			return 0, false
		}
		if pm.Basis != model.MatchBasisDNI {
			conf -= m.cfg.NoIdentifierPenalty
		}
		if pm.Partial {
			conf -= m.cfg.SubjectNearPenalty
		}
	case model.ScopeCompany:
		docKey := normalize.CompanyKey(doc.SubjectKey)
		itemKey := normalize.CompanyKey(item.SubjectText)
		switch {
		case docKey == "" || itemKey == "":
			return 0, false
		case docKey == itemKey:
		case strings.Contains(docKey, itemKey) || strings.Contains(itemKey, docKey):
			conf -= m.cfg.SubjectNearPenalty
		default:
			return 0, false
		}
	default:
		return 0, false
	}

	conf -= m.periodPenalty(item.PeriodHint, doc.PeriodKey)

	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf, true
}

func (m *Matcher) periodPenalty(hint, key string) float64 {
	h := normalize.Normalize(hint)
	k := normalize.Normalize(key)
	switch {
	case h == k:
		return 0
	case h == "" || k == "":
		return m.cfg.PeriodPartialPenalty
	}
	hy, ky := periodYear(h), periodYear(k)
	if hy != "" && hy == ky {
		return m.cfg.PeriodPartialPenalty
	}
	return m.cfg.PeriodMissPenalty
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

func periodYear(normalized string) string {
	return yearRe.FindString(normalized)
}

// preferExactPeriod narrows a tied set to the documents whose period
// exactly equals the pending item's hint, when any do.
func preferExactPeriod(top []Scored, hint string) []Scored {
	h := normalize.Normalize(hint)
	if h == "" {
		return top
	}
	exact := make([]Scored, 0, len(top))
	for _, s := range top {
		if normalize.Normalize(s.Doc.PeriodKey) == h {
			exact = append(exact, s)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return top
}

// bestPersonFor scans the registry for the person the subject text
// refers to. An identifier-backed match always wins over name evidence;
// among name matches, a full-name hit beats a single-surname one.
// Registry order breaks remaining ties to keep results deterministic.
func bestPersonFor(subjectText string, people []model.PersonIdentity) (PersonMatch, bool) {
	var best PersonMatch
	found := false
	for _, p := range people {
		pm, ok := MatchPerson(p, subjectText)
		if !ok {
			continue
		}
		if !found || strongerPerson(pm, best) {
			best = pm
			found = true
		}
		if best.Basis == model.MatchBasisDNI {
			break
		}
	}
	return best, found
}

func strongerPerson(a, b PersonMatch) bool {
	if a.Basis == model.MatchBasisDNI && b.Basis != model.MatchBasisDNI {
		return true
	}
	if a.Basis != model.MatchBasisDNI && b.Basis == model.MatchBasisDNI {
		return false
	}
	return !a.Partial && b.Partial
}
