// Package model defines the core domain types shared across the
// reconciliation pipeline: pending obligations scraped from the portal,
// local identity and document records, match decisions, submission plans,
// and execution artifacts.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Scope identifies what kind of subject a pending obligation refers to.
type Scope string

const (
	ScopeCompany Scope = "company"
	ScopeWorker  Scope = "worker"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	return s == ScopeCompany || s == ScopeWorker
}

// PendingItem is one obligation reported by the coordination portal: a
// document the portal expects to be supplied for a company or worker.
// Items are immutable once captured into a plan.
type PendingItem struct {
	Key          string `json:"pending_item_key"`
	DocTypeLabel string `json:"doc_type_label"`
	SubjectText  string `json:"subject_text"`
	PeriodHint   string `json:"period_hint,omitempty"`
	Scope        Scope  `json:"scope"`
}

// PendingItemKey derives the stable identity of a scraped row from its
// visible fields. The same row text always yields the same key, so items
// can be deduplicated across pages and referenced from decisions.
func PendingItemKey(docTypeLabel, subjectText, periodHint string) string {
	h := sha256.New()
	for _, part := range []string{docTypeLabel, subjectText, periodHint} {
		h.Write([]byte(strings.TrimSpace(part)))
		h.Write([]byte{0})
	}
	return "pi_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// PersonIdentity is a worker record from the local people registry.
// FullName holds the given name; Surname1/Surname2 the paternal and
// maternal surnames as kept in Spanish rosters. DNI is optional.
type PersonIdentity struct {
	WorkerID string `json:"worker_id"`
	FullName string `json:"full_name"`
	Surname1 string `json:"surname1,omitempty"`
	Surname2 string `json:"surname2,omitempty"`
	DNI      string `json:"dni,omitempty"`
}

// DocumentRecord is a catalog entry for a locally held document.
type DocumentRecord struct {
	DocID      string     `json:"doc_id"`
	TypeID     string     `json:"type_id"`
	SubjectKey string     `json:"subject_key"`
	PeriodKey  string     `json:"period_key,omitempty"`
	IssueDate  *time.Time `json:"issue_date,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// Expired reports whether the document's validity window has closed at t.
func (d DocumentRecord) Expired(t time.Time) bool {
	return d.ValidUntil != nil && d.ValidUntil.Before(t)
}

// MatchBasis records what evidence supported a candidate match.
type MatchBasis string

const (
	MatchBasisDNI        MatchBasis = "dni"
	MatchBasisNameTokens MatchBasis = "name_tokens"
	MatchBasisNone       MatchBasis = "none"
)

// MatchCandidate is the best catalog document found for a pending item,
// with the confidence the scorer assigned. DocID is empty when nothing
// scored above zero. Candidates are embedded in decisions, never
// persisted standalone.
type MatchCandidate struct {
	PendingItemKey string     `json:"pending_item_key"`
	DocID          string     `json:"doc_id,omitempty"`
	Confidence     float64    `json:"confidence"`
	MatchBasis     MatchBasis `json:"match_basis"`
}
