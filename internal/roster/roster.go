// Package roster imports people and document records into the local
// catalog from the spreadsheet exports HR and document-management
// systems produce. XLSX and CSV are accepted; headers are matched after
// normalization, so accents, case, and column order never matter.
package roster

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/ribera-group/coordina-cli/internal/doctypes"
	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/normalize"
)

// Catalog is the slice of the store imports write to.
type Catalog interface {
	UpsertPeople(ctx context.Context, coord model.CoordContext, people []model.PersonIdentity) (int, error)
	UpsertDocuments(ctx context.Context, coord model.CoordContext, docs []model.DocumentRecord) (int, error)
}

// ImportStats reports what an import did with the file's rows.
type ImportStats struct {
	RowsSeen int `json:"rows_seen"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Importer loads roster and catalog spreadsheets into the store.
type Importer struct {
	store Catalog
	types *doctypes.Registry
}

func NewImporter(store Catalog, types *doctypes.Registry) *Importer {
	return &Importer{store: store, types: types}
}

// Column aliases in their post-Normalize form. Spanish exports name
// these columns inconsistently across HR systems.
var (
	workerIDCols  = []string{"id", "codigo", "worker id", "id trabajador", "codigo trabajador"}
	nameCols      = []string{"nombre", "name"}
	surname1Cols  = []string{"apellido1", "primer apellido", "apellido 1"}
	surname2Cols  = []string{"apellido2", "segundo apellido", "apellido 2"}
	dniCols       = []string{"dni", "nif", "dni nie", "documento", "num documento"}
	docIDCols     = []string{"doc id", "id", "codigo", "id documento"}
	typeCols      = []string{"tipo", "tipo documento", "type"}
	subjectCols   = []string{"sujeto", "trabajador", "empresa", "subject", "id trabajador"}
	periodCols    = []string{"periodo", "period", "mes"}
	issueCols     = []string{"fecha emision", "emision", "issue date"}
	validFromCols = []string{"valido desde", "inicio validez", "valid from"}
	validToCols   = []string{"valido hasta", "fin validez", "caducidad", "valid until"}
)

// ImportPeople loads a worker roster file into the people registry.
func (im *Importer) ImportPeople(ctx context.Context, coord model.CoordContext, path string) (*ImportStats, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("roster: %s has no rows", filepath.Base(path))
	}

	log := zap.L().With(zap.String("file", filepath.Base(path)))
	idx := headerIndex(rows[0])
	if !hasColumn(idx, workerIDCols) {
		return nil, eris.Errorf("roster: %s has no worker id column", filepath.Base(path))
	}

	stats := &ImportStats{}
	var people []model.PersonIdentity
	for i, record := range rows[1:] {
		stats.RowsSeen++
		p := model.PersonIdentity{
			WorkerID: getCol(record, idx, workerIDCols),
			FullName: getCol(record, idx, nameCols),
			Surname1: getCol(record, idx, surname1Cols),
			Surname2: getCol(record, idx, surname2Cols),
		}
		if p.WorkerID == "" || (p.FullName == "" && p.Surname1 == "") {
			stats.Skipped++
			log.Warn("skipping roster row",
				zap.Int("row", i+2),
				zap.String("reason", "missing worker id or name"))
			continue
		}
		if raw := getCol(record, idx, dniCols); raw != "" {
			if id := normalize.CanonicalIdentifier(raw); id != "" && normalize.ValidIdentifier(id) {
				p.DNI = id
			} else {
				log.Warn("dropping identifier with bad checksum",
					zap.Int("row", i+2),
					zap.String("worker_id", p.WorkerID))
			}
		}
		people = append(people, p)
	}

	n, err := im.store.UpsertPeople(ctx, coord, people)
	if err != nil {
		return nil, err
	}
	stats.Imported = n
	log.Info("people imported",
		zap.Int("rows", stats.RowsSeen),
		zap.Int("imported", stats.Imported),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// ImportDocuments loads a document catalog file. The type column may
// hold a catalog type ID or any portal label the type registry
// resolves; rows with unknown or ambiguous types are skipped.
func (im *Importer) ImportDocuments(ctx context.Context, coord model.CoordContext, path string) (*ImportStats, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("roster: %s has no rows", filepath.Base(path))
	}

	log := zap.L().With(zap.String("file", filepath.Base(path)))
	idx := headerIndex(rows[0])

	stats := &ImportStats{}
	var docs []model.DocumentRecord
	for i, record := range rows[1:] {
		stats.RowsSeen++
		d := model.DocumentRecord{
			DocID:      getCol(record, idx, docIDCols),
			SubjectKey: getCol(record, idx, subjectCols),
			PeriodKey:  getCol(record, idx, periodCols),
		}
		typeID, ok := im.resolveType(getCol(record, idx, typeCols))
		if d.DocID == "" || d.SubjectKey == "" || !ok {
			stats.Skipped++
			log.Warn("skipping catalog row",
				zap.Int("row", i+2),
				zap.String("doc_id", d.DocID),
				zap.String("reason", skipReason(d, ok)))
			continue
		}
		d.TypeID = typeID
		d.IssueDate = parseDate(getCol(record, idx, issueCols))
		d.ValidFrom = parseDate(getCol(record, idx, validFromCols))
		d.ValidUntil = parseDate(getCol(record, idx, validToCols))
		docs = append(docs, d)
	}

	n, err := im.store.UpsertDocuments(ctx, coord, docs)
	if err != nil {
		return nil, err
	}
	stats.Imported = n
	log.Info("documents imported",
		zap.Int("rows", stats.RowsSeen),
		zap.Int("imported", stats.Imported),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func (im *Importer) resolveType(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if _, ok := im.types.Get(raw); ok {
		return raw, true
	}
	ids := im.types.Resolve(raw)
	if len(ids) != 1 {
		return "", false
	}
	return ids[0], true
}

func skipReason(d model.DocumentRecord, typeOK bool) string {
	switch {
	case d.DocID == "":
		return "missing doc id"
	case d.SubjectKey == "":
		return "missing subject"
	case !typeOK:
		return "unknown or ambiguous type"
	}
	return "invalid row"
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006"}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func headerIndex(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[normalize.Normalize(col)] = i
	}
	return m
}

func hasColumn(idx map[string]int, aliases []string) bool {
	for _, a := range aliases {
		if _, ok := idx[a]; ok {
			return true
		}
	}
	return false
}

// getCol returns the first non-empty value among the aliased columns.
func getCol(record []string, idx map[string]int, aliases []string) string {
	for _, a := range aliases {
		i, ok := idx[a]
		if !ok || i >= len(record) {
			continue
		}
		if v := strings.TrimSpace(record[i]); v != "" {
			return v
		}
	}
	return ""
}

func readRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSXRows(path)
	case ".csv":
		return readCSVRows(path)
	default:
		return nil, eris.Errorf("roster: unsupported file type %q", filepath.Ext(path))
	}
}

func readXLSXRows(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "roster: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("roster: %s has no sheets", filepath.Base(path))
	}
	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// readCSVRows parses a CSV file, accepting the semicolon separator
// Spanish spreadsheet exports default to alongside plain commas.
func readCSVRows(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "roster: read csv")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	head := string(data)
	if i := strings.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if strings.Count(head, ";") > strings.Count(head, ",") {
		reader.Comma = ';'
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "roster: parse csv")
	}
	for _, record := range records {
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
	}
	return records, nil
}
