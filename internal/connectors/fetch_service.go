package connectors

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"grantledger/internal/storage"
	"grantledger/internal/util"
)

type FetchService struct {
	connector MailConnector
	store     *MailStoreService
}

type FetchResult struct {
	Fetched int
	Stored  int
}

func NewFetchService(db *storage.DB, inboxDir string, connector MailConnector) *FetchService {
	return &FetchService{
		connector: connector,
		store:     NewMailStoreService(db, inboxDir),
	}
}

func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", label, err)
	}

	stored := 0
	for _, msg := range messages {
		row, err := s.store.Store(ctx, msg)
		if errors.Is(err, ErrEmptyMessage) {
			util.Log.WithField("message", msg.MessageID).Warn("empty message skipped")
			continue
		}
		if err != nil {
			return FetchResult{Fetched: len(messages), Stored: stored}, err
		}
		stored++
		util.Log.WithFields(logrus.Fields{"provider": row.Provider, "id": row.ID, "subject": row.Subject}).Debug("message stored")
	}

	return FetchResult{Fetched: len(messages), Stored: stored}, nil
}
