package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/care-waitlist-api/pkg/errors"
	"github.com/noah-isme/care-waitlist-api/pkg/export"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// ExportService renders the ranked waitlist for a scope into a
// downloadable report.
type ExportService struct {
	ranker scopeRanker
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(ranker scopeRanker, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		ranker: ranker,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
	}
}

// ExportRankedWaitlist ranks the scope and renders the candidates in
// offer order. Returns the document bytes and its content type.
func (s *ExportService) ExportRankedWaitlist(ctx context.Context, facilityID string, programID *string, format string) ([]byte, string, error) {
	format = strings.ToLower(format)
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	ranking, err := s.ranker.RankCandidates(ctx, facilityID, programID, time.Time{})
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"Rank", "Child", "Position", "Score", "Status", "Joined", "Desired Start"},
	}
	for i, candidate := range ranking.Candidates {
		entry := candidate.Entry
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Rank":          strconv.Itoa(i + 1),
			"Child":         entry.ChildName,
			"Position":      strconv.Itoa(entry.Position),
			"Score":         fmt.Sprintf("%.1f", candidate.Score),
			"Status":        string(entry.Status),
			"Joined":        entry.CreatedAt.Format("2006-01-02"),
			"Desired Start": entry.DesiredStartDate.Format("2006-01-02"),
		})
	}

	s.logger.Info("waitlist export rendered",
		zap.String("facility_id", facilityID),
		zap.String("format", format),
		zap.Int("candidates", len(ranking.Candidates)))

	switch format {
	case ExportFormatPDF:
		title := fmt.Sprintf("Waitlist %s", facilityID)
		doc, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return doc, "application/pdf", nil
	default:
		doc, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return doc, "text/csv", nil
	}
}
