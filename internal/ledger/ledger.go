package ledger

import (
	"context"
	"errors"
	"time"

	"grantledger/internal"
)

var (
	ErrGrantNotFound  = errors.New("grant not found")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrDuplicateGrant = errors.New("grant already exists")
	ErrInvalidGrant   = errors.New("invalid grant")
)

// Mutation edits g in place and returns the journal entry describing the
// change, or nil when the change is not journaled. Returning an error
// discards the edit.
type Mutation func(g *internal.Grant) (*internal.LedgerEntry, error)

// Store persists grants and their journal. UpdateGrant must run the
// read, the mutation and the write as one atomic step per grant.
type Store interface {
	CreateGrant(ctx context.Context, g internal.Grant) error
	GrantByName(ctx context.Context, name string) (internal.Grant, error)
	GrantByID(ctx context.Context, id string) (internal.Grant, error)
	ListGrants(ctx context.Context) ([]internal.Grant, error)
	UpdateGrant(ctx context.Context, name string, fn Mutation) (internal.Grant, error)
	DeleteGrant(ctx context.Context, id string) (bool, error)
	Entries(ctx context.Context, grantID string) ([]internal.LedgerEntry, error)
}

type EventKind string

const (
	EventCreated  EventKind = "created"
	EventAllocate EventKind = EventKind(internal.EntryAllocate)
	EventRelease  EventKind = EventKind(internal.EntryRelease)
	EventReset    EventKind = EventKind(internal.EntryReset)
	EventBalance  EventKind = EventKind(internal.EntryBalance)
	EventRules    EventKind = "rules"
	EventDeleted  EventKind = "deleted"
)

// Event describes a committed ledger change.
type Event struct {
	Kind  EventKind
	Grant internal.Grant
	Entry *internal.LedgerEntry
	At    time.Time
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
