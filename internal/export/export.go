// Package export renders stored reports into downloadable artifacts. It only
// reads persisted entries (and, for annotation, the original upload); it
// never re-invokes a detector.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"vigil/internal/history"
)

// ErrUnsupportedFormat is returned for unknown export formats.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format identifies an export format.
type Format string

const (
	FormatJSON      Format = "json"
	FormatCSV       Format = "csv"
	FormatXLSX      Format = "xlsx"
	FormatAnnotated Format = "annotated"
)

// Artifact is a rendered export ready to be served.
type Artifact struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Exporter renders history entries.
type Exporter struct{}

// NewExporter creates an exporter.
func NewExporter() *Exporter { return &Exporter{} }

// Render produces the artifact for one stored entry. The output is a pure
// function of the entry, so repeated calls return identical bytes for the
// json and csv formats.
func (x *Exporter) Render(ctx context.Context, e *history.Entry, format Format) (*Artifact, error) {
	switch format {
	case FormatJSON:
		return x.renderJSON(e)
	case FormatCSV:
		return x.renderCSV(e)
	case FormatXLSX:
		return x.renderXLSX(e)
	case FormatAnnotated:
		return x.renderAnnotated(e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func (x *Exporter) renderJSON(e *history.Entry) (*Artifact, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: %w", e.JobID, err)
	}
	return &Artifact{
		Data:        append(data, '\n'),
		Filename:    "report_" + e.JobID + ".json",
		ContentType: "application/json",
	}, nil
}

func (x *Exporter) renderCSV(e *history.Entry) (*Artifact, error) {
	var b strings.Builder
	b.WriteString("frame_index,time_offset_sec,label,confidence,x,y,w,h,model\n")
	if e.Report != nil {
		for _, d := range e.Report.Detections {
			row := []string{
				strconv.Itoa(d.FrameIndex),
				strconv.FormatFloat(d.TimeOffsetSec, 'f', 3, 64),
				csvQuote(d.Label),
				strconv.FormatFloat(d.Confidence, 'f', 4, 64),
				strconv.FormatFloat(d.Box.X, 'f', 4, 64),
				strconv.FormatFloat(d.Box.Y, 'f', 4, 64),
				strconv.FormatFloat(d.Box.W, 'f', 4, 64),
				strconv.FormatFloat(d.Box.H, 'f', 4, 64),
				csvQuote(d.Model),
			}
			b.WriteString(strings.Join(row, ","))
			b.WriteByte('\n')
		}
	}
	return &Artifact{
		Data:        []byte(b.String()),
		Filename:    "report_" + e.JobID + ".csv",
		ContentType: "text/csv",
	}, nil
}

// csvQuote quotes a field only when it needs quoting, keeping output stable.
func csvQuote(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
