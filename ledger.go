package proforma

import (
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"proforma/period"
)

// FlowPurpose classifies a transaction record by its role in the deal's
// cash flow statement.
type FlowPurpose int

const (
	// Operating marks property-level operating cash flow (NOI).
	Operating FlowPurpose = iota
	// CapitalUse marks project spending: acquisition, construction,
	// capitalized interest, refinancing payoff.
	CapitalUse
	// CapitalSource marks project funding: equity contributions, debt
	// draws, sale and refinancing proceeds.
	CapitalSource
	// FinancingService marks ongoing debt service and distributions to
	// capital providers.
	FinancingService
)

func (f FlowPurpose) String() string {
	switch f {
	case Operating:
		return "operating"
	case CapitalUse:
		return "capital use"
	case CapitalSource:
		return "capital source"
	case FinancingService:
		return "financing service"
	default:
		return "unknown"
	}
}

// ParseFlowPurpose parses a string into a FlowPurpose.
func ParseFlowPurpose(s string) (FlowPurpose, error) {
	switch s {
	case "operating":
		return Operating, nil
	case "capital use":
		return CapitalUse, nil
	case "capital source":
		return CapitalSource, nil
	case "financing service":
		return FinancingService, nil
	default:
		return 0, fmt.Errorf("unknown flow purpose: %q", s)
	}
}

// Pass identifies the posting stage of a record. Pass-2 records may
// depend on aggregates that only exist once every pass-1 record is in
// the ledger.
type Pass int

const (
	Pass1 Pass = 1
	Pass2 Pass = 2
)

// Ledger categories used by the engine's own postings.
const (
	CategoryNOI          = "net operating income"
	CategoryProjectCost  = "project cost"
	CategoryEquity       = "equity"
	CategoryDebt         = "debt"
	CategoryInterest     = "interest"
	CategoryPrincipal    = "principal"
	CategorySweep        = "cash sweep"
	CategoryRefinance    = "refinancing"
	CategorySale         = "sale"
	CategoryDistribution = "distribution"
)

// Metadata tags a series of amounts with everything the ledger needs to
// answer queries about them later.
type Metadata struct {
	Purpose     FlowPurpose
	Category    string
	Subcategory string
	Item        string
	SourceID    string // entity that caused the flow (facility, partner, asset)
	AssetID     string
	Pass        Pass
}

// Validate rejects malformed metadata before it can enter the ledger.
func (m Metadata) Validate() error {
	var errs error
	if m.Category == "" {
		errs = errors.Join(errs, errors.New("metadata category is missing"))
	}
	if m.Item == "" {
		errs = errors.Join(errs, errors.New("metadata item name is missing"))
	}
	if m.Pass != Pass1 && m.Pass != Pass2 {
		errs = errors.Join(errs, fmt.Errorf("metadata pass must be 1 or 2, got %d", m.Pass))
	}
	return errs
}

// Record is a single immutable fact: a signed amount, dated to a
// monthly period, tagged with metadata. Records are never deleted or
// mutated; corrections are new offsetting records.
type Record struct {
	ID     uuid.UUID
	Period period.Period
	Amount Money
	Metadata
}

// Row is one line of the materialized ledger table.
type Row struct {
	Date        period.Period
	Amount      decimal.Decimal
	Purpose     FlowPurpose
	Category    string
	Subcategory string
	Item        string
	SourceID    string
	AssetID     string
	Pass        Pass
	ID          uuid.UUID
}

// Table is a materialized snapshot of the ledger, ordered by date.
type Table struct {
	Rows []Row
}

// Ledger is the append-only store of transaction records and the single
// source of truth for every downstream computation. There is exactly
// one Ledger per deal analysis run; it is owned by the Deal and passed
// by reference to every component that posts facts.
//
// Records are always in non-decreasing date order.
type Ledger struct {
	records []Record
	table   *Table // cached materialization, nil when stale
	sealed  bool   // true once a pass-2 record exists
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{records: make([]Record, 0)}
}

// Len returns the number of records in the ledger.
func (l *Ledger) Len() int { return len(l.records) }

// Add appends a single fact. Zero amounts are never recorded and are
// skipped silently, mirroring the zero-filtering of AddSeries.
func (l *Ledger) Add(on period.Period, amount Money, meta Metadata) error {
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("invalid metadata for %q: %w", meta.Item, err)
	}
	if meta.Pass == Pass1 && l.sealed {
		return fmt.Errorf("cannot post pass-1 record %q: pass-2 records already exist", meta.Item)
	}
	if amount.IsZero() {
		return nil
	}
	l.records = append(l.records, Record{
		ID:       uuid.New(),
		Period:   on,
		Amount:   amount,
		Metadata: meta,
	})
	if meta.Pass == Pass2 {
		l.sealed = true
	}
	l.table = nil
	// Postings usually arrive in chronological order; only an
	// out-of-order record forces a re-sort.
	if n := len(l.records); n > 1 && on.Before(l.records[n-2].Period) {
		l.stableSort()
	}
	return nil
}

// AddSeries converts a time-indexed series into zero-filtered records
// tagged with the given metadata and appends them.
func (l *Ledger) AddSeries(s *Series, meta Metadata) error {
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("invalid metadata for %q: %w", meta.Item, err)
	}
	if meta.Pass == Pass1 && l.sealed {
		return fmt.Errorf("cannot post pass-1 series %q: pass-2 records already exist", meta.Item)
	}
	for on, v := range s.Values() {
		if v.IsZero() {
			continue // zero-valued facts are never recorded
		}
		l.records = append(l.records, Record{
			ID:       uuid.New(),
			Period:   on,
			Amount:   Money{value: v},
			Metadata: meta,
		})
	}
	if meta.Pass == Pass2 {
		l.sealed = true
	}
	l.table = nil
	l.stableSort()
	return nil
}

// BatchEntry pairs one series with its metadata for AddBatch.
type BatchEntry struct {
	Series *Series
	Meta   Metadata
}

// AddBatch appends many series at once without re-materializing the
// table in between. This is the performance path for bulk posting.
func (l *Ledger) AddBatch(entries []BatchEntry) error {
	// Validate everything up front so a batch is all-or-nothing.
	var errs error
	for _, e := range entries {
		if err := e.Meta.Validate(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("invalid metadata for %q: %w", e.Meta.Item, err))
		}
		if e.Meta.Pass == Pass1 && l.sealed {
			errs = errors.Join(errs, fmt.Errorf("cannot post pass-1 series %q: pass-2 records already exist", e.Meta.Item))
		}
	}
	if errs != nil {
		return errs
	}
	for _, e := range entries {
		for on, v := range e.Series.Values() {
			if v.IsZero() {
				continue
			}
			l.records = append(l.records, Record{
				ID:       uuid.New(),
				Period:   on,
				Amount:   Money{value: v},
				Metadata: e.Meta,
			})
		}
		if e.Meta.Pass == Pass2 {
			l.sealed = true
		}
	}
	l.table = nil
	l.stableSort()
	return nil
}

// stableSort sorts the ledger by period. The sort is stable, so records
// in the same period keep their posting order.
func (l *Ledger) stableSort() {
	sort.SliceStable(l.records, func(i, j int) bool {
		return l.records[i].Period.Before(l.records[j].Period)
	})
}

// Materialize returns the tabular snapshot of the ledger. The snapshot
// is cached: repeated calls without an intervening addition return the
// identical table.
func (l *Ledger) Materialize() *Table {
	if l.table != nil {
		return l.table
	}
	rows := make([]Row, 0, len(l.records))
	for _, r := range l.records {
		rows = append(rows, Row{
			Date:        r.Period,
			Amount:      r.Amount.Decimal(),
			Purpose:     r.Purpose,
			Category:    r.Category,
			Subcategory: r.Subcategory,
			Item:        r.Item,
			SourceID:    r.SourceID,
			AssetID:     r.AssetID,
			Pass:        r.Pass,
			ID:          r.ID,
		})
	}
	l.table = &Table{Rows: rows}
	return l.table
}

// Records returns an iterator over records matching any of the filters,
// in chronological order. With no filters every record is yielded.
func (l *Ledger) Records(filters ...func(Record) bool) iter.Seq2[int, Record] {
	return func(yield func(int, Record) bool) {
		for i, r := range l.records {
			if len(filters) > 0 {
				accept := false
				for _, filter := range filters {
					if filter(r) {
						accept = true
						break
					}
				}
				if !accept {
					continue
				}
			}
			if !yield(i, r) {
				return
			}
		}
	}
}

// Span returns the range from the earliest to the latest record, and
// false when the ledger is empty.
func (l *Ledger) Span() (period.Range, bool) {
	if len(l.records) == 0 {
		return period.Range{}, false
	}
	return period.Range{
		From: l.records[0].Period,
		To:   l.records[len(l.records)-1].Period,
	}, true
}
