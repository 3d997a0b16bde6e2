package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"grantledger/internal"
	"grantledger/internal/storage"
	"grantledger/internal/util"
)

var ErrEmptyMessage = errors.New("empty message")

// MailStoreService keeps raw messages on disk under the sha256 of their
// bytes and records them in the inbox table. Storing the same message again
// refreshes its headers and keeps its processing status.
type MailStoreService struct {
	db       *storage.DB
	inboxDir string
}

func NewMailStoreService(db *storage.DB, inboxDir string) *MailStoreService {
	return &MailStoreService{db: db, inboxDir: inboxDir}
}

func (s *MailStoreService) Store(ctx context.Context, msg internal.FetchedMailMessage) (internal.InboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return internal.InboxMessage{}, err
	}
	if len(msg.Raw) == 0 {
		return internal.InboxMessage{}, fmt.Errorf("%w: %s %s", ErrEmptyMessage, msg.Provider, msg.MessageID)
	}

	sum := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(sum[:])
	messageID := strings.TrimSpace(msg.MessageID)
	if messageID == "" {
		messageID = "sha256-" + hash
	}

	rawPath, written, err := s.writeRaw(hash, msg.Raw)
	if err != nil {
		return internal.InboxMessage{}, fmt.Errorf("store %s: %w", messageID, err)
	}
	util.Log.WithFields(logrus.Fields{
		"provider": msg.Provider,
		"message":  messageID,
		"path":     rawPath,
		"new":      written,
	}).Debug("raw message saved")

	return s.db.UpsertMessage(msg.Provider, messageID, msg.Subject, msg.From, msg.ReceivedAt, hash, rawPath, "fetched")
}

// writeRaw saves raw unless a file with the same hash already exists. The
// bytes go to a temp file first so a partial write never takes the final
// name.
func (s *MailStoreService) writeRaw(hash string, raw []byte) (string, bool, error) {
	if err := os.MkdirAll(s.inboxDir, 0o755); err != nil {
		return "", false, err
	}
	rawPath := filepath.Join(s.inboxDir, hash+".eml")
	if _, err := os.Stat(rawPath); err == nil {
		return rawPath, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", false, err
	}

	tmp, err := os.CreateTemp(s.inboxDir, hash+".*.tmp")
	if err != nil {
		return "", false, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return "", false, err
	}
	if err := tmp.Close(); err != nil {
		return "", false, err
	}
	if err := os.Rename(tmp.Name(), rawPath); err != nil {
		return "", false, err
	}
	return rawPath, true, nil
}
