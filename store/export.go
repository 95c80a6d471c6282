package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// IncidentsCSVHeader is the header row of an incident export.
var IncidentsCSVHeader = []string{"timestamp", "risk_level", "people_count", "risk_score", "factors"}

// DetectionsCSVHeader is the header row of a detection log export.
var DetectionsCSVHeader = []string{"timestamp", "object_label", "confidence"}

// ExportIncidentsCSV writes every incident, oldest first, as CSV. The factors
// column holds the factor breakdown as a JSON object.
//
// Returns:
//   - error: ErrStoreUnavailable if the store is closed, or an error wrapping ErrSinkWrite if w fails.
func (s *Store) ExportIncidentsCSV(ctx context.Context, w io.Writer) error {
	incidents, err := s.ReadAll(ctx)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(incidents))
	for _, incident := range incidents {
		factors, err := json.Marshal(incident.Factors)
		if err != nil {
			return errors.Wrap(err, "encode factors")
		}
		rows = append(rows, []string{
			formatTime(incident.Timestamp),
			string(incident.Level),
			strconv.Itoa(incident.PeopleCount),
			strconv.FormatFloat(incident.Score, 'f', -1, 64),
			string(factors),
		})
	}
	return writeCSV(w, IncidentsCSVHeader, rows)
}

// ExportDetectionsCSV writes the detection log, oldest first, as CSV.
func (s *Store) ExportDetectionsCSV(ctx context.Context, w io.Writer) error {
	records, err := s.Detections(ctx)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			formatTime(r.Timestamp),
			r.Label,
			strconv.FormatFloat(r.Confidence, 'f', -1, 64),
		})
	}
	return writeCSV(w, DetectionsCSVHeader, rows)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrapf(ErrSinkWrite, "write header: %v", err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return errors.Wrapf(ErrSinkWrite, "write row: %v", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrapf(ErrSinkWrite, "flush: %v", err)
	}
	return nil
}
