package ingest

import (
	"errors"
	"fmt"

	"openlegalrag/internal/dataset"
)

var ErrInvalidYearRange = errors.New("year_min must be inferior to year_max")

// Filters select which cases are ingested. Zero values disable a filter.
type Filters struct {
	CourtJurisdiction string
	CourtType         string
	YearMin           int
	YearMax           int
	// Limit caps the number of ingested cases; reaching it ends the run.
	Limit int
}

func (f Filters) Validate() error {
	if f.YearMin > 0 && f.YearMax > 0 && f.YearMin >= f.YearMax {
		return fmt.Errorf("%w: %d >= %d", ErrInvalidYearRange, f.YearMin, f.YearMax)
	}
	if f.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", f.Limit)
	}
	return nil
}

// Filter reasons reported in skip events.
const (
	ReasonJurisdiction = "court_jurisdiction"
	ReasonCourtType    = "court_type"
	ReasonNoDate       = "missing_date_filed"
	ReasonBeforeMin    = "year_below_min"
	ReasonAfterMax     = "year_above_max"
)

// Match checks the predicates in order and returns the first failing reason.
func (f Filters) Match(c dataset.Case) (bool, string) {
	if f.CourtJurisdiction != "" && c.CourtJurisdiction != f.CourtJurisdiction {
		return false, ReasonJurisdiction
	}
	if f.CourtType != "" && c.CourtType != f.CourtType {
		return false, ReasonCourtType
	}
	if f.YearMin == 0 && f.YearMax == 0 {
		return true, ""
	}
	year, ok := c.YearFiled()
	if !ok {
		return false, ReasonNoDate
	}
	if f.YearMin > 0 && year < f.YearMin {
		return false, ReasonBeforeMin
	}
	if f.YearMax > 0 && year > f.YearMax {
		return false, ReasonAfterMax
	}
	return true, ""
}
