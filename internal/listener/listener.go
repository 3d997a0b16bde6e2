package listener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"grantledger/internal/config"
	"grantledger/internal/connectors"
	gmailconnector "grantledger/internal/connectors/gmail"
	imapconnector "grantledger/internal/connectors/imap"
	"grantledger/internal/pipeline"
	"grantledger/internal/storage"
	"grantledger/internal/util"
)

// LastCycleKey is the metadata key holding the time of the last finished cycle.
const LastCycleKey = "listener.last_cycle"

// Service polls a mailbox and turns new messages into import runs.
type Service struct {
	db        *storage.DB
	cfg       config.Config
	processor *pipeline.ProcessingService
	connector connectors.MailConnector
}

func NewService(db *storage.DB, cfg config.Config, classifier *pipeline.Classifier) *Service {
	return &Service{
		db:        db,
		cfg:       cfg,
		processor: pipeline.NewProcessingService(db, cfg, classifier),
	}
}

// WithConnector replaces the provider picked from the config.
func (s *Service) WithConnector(c connectors.MailConnector) *Service {
	s.connector = c
	return s
}

// WithNotifier announces every import run the listener records.
func (s *Service) WithNotifier(n pipeline.ImportNotifier) *Service {
	s.processor.WithNotifier(n)
	return s
}

// Run blocks until ctx is cancelled. Cycle errors are logged, not returned.
func (s *Service) Run(ctx context.Context) error {
	interval := s.cfg.MailListenerInterval
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		if err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			util.Log.WithError(err).Error("listener cycle failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Service) RunCycle(ctx context.Context) error {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
	mailConnector, err := s.makeConnector(ctx, provider)
	if err != nil {
		return err
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.InboxDir, mailConnector)
	fetched, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return err
	}

	processed, rows, err := s.processor.ProcessPending(ctx, s.cfg.MailListenerProcessBatch, provider)
	if merr := s.db.SetMetadata(LastCycleKey, time.Now().UTC().Format(time.RFC3339)); merr != nil {
		util.Log.WithError(merr).Warn("listener cycle time not saved")
	}
	util.Log.WithFields(logrus.Fields{
		"provider":  provider,
		"fetched":   fetched.Fetched,
		"stored":    fetched.Stored,
		"processed": processed,
		"rows":      rows,
	}).Info("listener cycle done")
	return err
}

func (s *Service) makeConnector(ctx context.Context, provider string) (connectors.MailConnector, error) {
	if s.connector != nil {
		return s.connector, nil
	}
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(ctx, s.cfg)
	case "imap":
		return imapconnector.NewConnector(s.cfg)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}
