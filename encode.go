package proforma

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"proforma/period"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// recordJSON is the wire shape of one ledger record: one JSON object
// per line, human-readable and diff-friendly.
type recordJSON struct {
	ID          uuid.UUID       `json:"id"`
	Period      period.Period   `json:"period"`
	Amount      decimal.Decimal `json:"amount"`
	Purpose     string          `json:"purpose"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory,omitempty"`
	Item        string          `json:"item"`
	SourceID    string          `json:"source,omitempty"`
	AssetID     string          `json:"asset,omitempty"`
	Pass        Pass            `json:"pass"`
}

// EncodeLedger writes the ledger as JSONL, one record per line in
// chronological order. The output decodes back to an equal ledger.
func EncodeLedger(w io.Writer, l *Ledger) error {
	enc := json.NewEncoder(w)
	for _, r := range l.Records() {
		line := recordJSON{
			ID:          r.ID,
			Period:      r.Period,
			Amount:      r.Amount.Decimal(),
			Purpose:     r.Purpose.String(),
			Category:    r.Category,
			Subcategory: r.Subcategory,
			Item:        r.Item,
			SourceID:    r.SourceID,
			AssetID:     r.AssetID,
			Pass:        r.Pass,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encoding record %s: %w", r.ID, err)
		}
	}
	return nil
}

// DecodeLedger reads a JSONL stream produced by EncodeLedger and
// returns the reconstructed ledger. Records are restored verbatim,
// including their identifiers and posting passes; the pass-1 sealing
// state is derived from the presence of pass-2 records.
func DecodeLedger(r io.Reader) (*Ledger, error) {
	ledger := NewLedger()
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec recordJSON
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		purpose, err := ParseFlowPurpose(rec.Purpose)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		meta := Metadata{
			Purpose:     purpose,
			Category:    rec.Category,
			Subcategory: rec.Subcategory,
			Item:        rec.Item,
			SourceID:    rec.SourceID,
			AssetID:     rec.AssetID,
			Pass:        rec.Pass,
		}
		if err := meta.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		// Records are appended directly: a decoded stream interleaves
		// pass-1 and pass-2 records chronologically, which the posting
		// barrier would otherwise reject.
		ledger.records = append(ledger.records, Record{
			ID:       rec.ID,
			Period:   rec.Period,
			Amount:   Money{value: rec.Amount},
			Metadata: meta,
		})
		if rec.Pass == Pass2 {
			ledger.sealed = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	ledger.stableSort()
	return ledger, nil
}
