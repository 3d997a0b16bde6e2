package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"grantledger/internal"
	"grantledger/internal/config"
	"grantledger/internal/storage"
	"grantledger/internal/util"
)

const (
	StatusFetched   = "fetched"
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// ImportNotifier is told about every recorded import run.
type ImportNotifier interface {
	PublishImport(ctx context.Context, run internal.ImportRun) error
}

type runRecorder interface {
	InsertImportRun(run internal.ImportRun) (int64, error)
}

type ProcessingService struct {
	db         *storage.DB
	runs       runRecorder
	cfg        config.Config
	classifier *Classifier
	notifier   ImportNotifier
}

func NewProcessingService(db *storage.DB, cfg config.Config, classifier *Classifier) *ProcessingService {
	return &ProcessingService{db: db, runs: db, cfg: cfg, classifier: classifier}
}

// WithNotifier sets where finished import runs are announced. Announcing is
// best effort: a failed publish is logged and the run still counts.
func (s *ProcessingService) WithNotifier(n ImportNotifier) *ProcessingService {
	s.notifier = n
	return s
}

type ProcessResult struct {
	MessageID    int
	Inventory    bool
	Tables       int
	Rows         int
	CoercedCells int
	TotalCost    float64
	ReportPath   string
}

func (s *ProcessingService) ProcessByProviderMessageID(ctx context.Context, provider, messageID string) (ProcessResult, error) {
	msg, err := s.db.MustMessageByProviderMessageID(provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessMessage(ctx, msg)
}

// ProcessPending works through fetched messages oldest first. A message that
// fails is marked failed and the batch moves on; the first such error is
// returned once the batch is done.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int, provider string) (int, int, error) {
	pending, err := s.db.ListMessagesByStatus(StatusFetched, limit)
	if err != nil {
		return 0, 0, err
	}
	processed, rows := 0, 0
	var firstErr error
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			return processed, rows, err
		}
		if provider != "" && msg.Provider != provider {
			continue
		}
		res, err := s.ProcessMessage(ctx, msg)
		if err != nil {
			util.Log.WithError(err).WithField("message", msg.ID).Error("processing failed")
			if uerr := s.db.UpdateMessageStatus(msg.ID, StatusFailed); uerr != nil {
				return processed, rows, uerr
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		processed++
		rows += res.Rows
	}
	return processed, rows, firstErr
}

// ProcessMessage imports one stored message. The import run is recorded
// before the status moves on, so a message is only marked processed or
// skipped once its run exists.
func (s *ProcessingService) ProcessMessage(ctx context.Context, msg internal.InboxMessage) (ProcessResult, error) {
	start := time.Now()
	trace := uuid.NewString()
	log := util.Log.WithFields(logrus.Fields{"trace": trace, "message": msg.ID, "provider": msg.Provider})

	raw, err := os.ReadFile(msg.RawRef)
	if err != nil {
		return ProcessResult{}, err
	}
	extraction, err := ExtractTablesFromEmailRaw(raw)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("parse message %d: %w", msg.ID, err)
	}

	res := ProcessResult{MessageID: msg.ID}
	detect := DetectInventoryMail(util.FirstNonEmpty(extraction.Subject, msg.Subject), extraction.Text, extraction.HTML, extraction.Attachments)
	res.Inventory = detect.IsInventory && len(extraction.Tables) > 0
	if !res.Inventory {
		log.WithFields(logrus.Fields{"score": detect.Score, "reason": detect.Reason}).Info("message skipped")
		return res, s.finish(ctx, trace, msg.ID, StatusSkipped, res)
	}

	normalized := make([]internal.Table, 0, len(extraction.Tables))
	for _, t := range extraction.Tables {
		nt, stats := NormalizeTable(t, s.classifier)
		res.CoercedCells += stats.CoercedCells
		normalized = append(normalized, nt)
	}
	merged := Merge(fmt.Sprintf("message_%d", msg.ID), normalized)
	res.Tables = len(normalized)
	res.Rows = len(merged.Rows)
	res.TotalCost, _ = TotalCost(merged, internal.ColumnCost)

	if s.cfg.MailListenerAutoExport {
		name := fmt.Sprintf("%d_%s.xlsx", msg.ID, sanitizeMessageID(msg.MessageID))
		path := filepath.Join(s.cfg.OutputDir, "inbox", name)
		if err := ExportRecordsXLSX(merged, path); err != nil {
			return res, err
		}
		res.ReportPath = path
	}

	if err := s.finish(ctx, trace, msg.ID, StatusProcessed, res); err != nil {
		return res, err
	}
	log.WithFields(logrus.Fields{
		"tables": res.Tables,
		"rows":   res.Rows,
		"total":  res.TotalCost,
		"ms":     time.Since(start).Milliseconds(),
	}).Info("message processed")
	return res, nil
}

// finish records the import run, moves the message to status and then
// announces the run.
func (s *ProcessingService) finish(ctx context.Context, trace string, messageID int, status string, res ProcessResult) error {
	run := internal.ImportRun{
		TraceID:      trace,
		MessageID:    util.IntPtr(messageID),
		Source:       "inbox",
		Tables:       res.Tables,
		Rows:         res.Rows,
		CoercedCells: res.CoercedCells,
		TotalCost:    res.TotalCost,
	}
	if res.ReportPath != "" {
		run.ReportPath = util.StringPtr(res.ReportPath)
	}
	id, err := s.runs.InsertImportRun(run)
	if err != nil {
		return fmt.Errorf("record import run for message %d: %w", messageID, err)
	}
	if err := s.db.UpdateMessageStatus(messageID, status); err != nil {
		return err
	}
	if s.notifier != nil {
		run.ID = int(id)
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.notifier.PublishImport(ctx, run); err != nil {
			util.Log.WithError(err).WithField("trace", trace).Warn("import event not published")
		}
	}
	return nil
}

func sanitizeMessageID(input string) string {
	repl := strings.NewReplacer("<", "", ">", "", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "@", "_")
	out := repl.Replace(input)
	if len(out) > 120 {
		out = out[:120]
	}
	if out == "" {
		out = "message"
	}
	return out
}
