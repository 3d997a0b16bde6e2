package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"grantledger/internal"
	"grantledger/internal/util"
)

// Service applies budget operations to grants addressed by name.
type Service struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

// NewService wires a store and an optional event publisher.
func NewService(store Store, publisher Publisher) *Service {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Service{store: store, publisher: publisher, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) CreateGrant(ctx context.Context, id, name string, totalBalance float64, allowedItems []string) (internal.Grant, error) {
	id, name = strings.TrimSpace(id), strings.TrimSpace(name)
	if id == "" || name == "" {
		return internal.Grant{}, fmt.Errorf("%w: id and name are required", ErrInvalidGrant)
	}
	if err := checkAmount(totalBalance); err != nil {
		return internal.Grant{}, err
	}

	now := s.now()
	g := internal.Grant{
		ID:           id,
		Name:         name,
		TotalBalance: totalBalance,
		AllowedItems: cleanItems(allowedItems),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	settle(&g, decimal.Zero)
	if err := s.store.CreateGrant(ctx, g); err != nil {
		return internal.Grant{}, err
	}

	util.Log.WithFields(logrus.Fields{"grant": name, "id": id, "total": totalBalance}).Info("grant created")
	s.publish(ctx, Event{Kind: EventCreated, Grant: g, At: now})
	return g, nil
}

// Allocate adds amount to the grant's cumulative spend. Every call counts,
// so allocating the same amount twice doubles it.
func (s *Service) Allocate(ctx context.Context, name string, amount float64) (internal.Grant, error) {
	return s.AllocateWithNote(ctx, name, amount, "")
}

func (s *Service) AllocateWithNote(ctx context.Context, name string, amount float64, note string) (internal.Grant, error) {
	if err := checkAmount(amount); err != nil {
		return internal.Grant{}, err
	}
	return s.mutate(ctx, name, EventAllocate, func(g *internal.Grant) (*internal.LedgerEntry, error) {
		allocated := decimal.NewFromFloat(g.AllocatedCost).Add(decimal.NewFromFloat(amount))
		settle(g, allocated)
		return s.entry(g, internal.EntryAllocate, amount, note), nil
	})
}

// Release takes a previously allocated amount back off the grant.
func (s *Service) Release(ctx context.Context, name string, amount float64) (internal.Grant, error) {
	if err := checkAmount(amount); err != nil {
		return internal.Grant{}, err
	}
	return s.mutate(ctx, name, EventRelease, func(g *internal.Grant) (*internal.LedgerEntry, error) {
		current := decimal.NewFromFloat(g.AllocatedCost)
		amt := decimal.NewFromFloat(amount)
		if amt.GreaterThan(current) {
			return nil, fmt.Errorf("%w: release %s exceeds allocation %s", ErrInvalidAmount, amt, current)
		}
		settle(g, current.Sub(amt))
		return s.entry(g, internal.EntryRelease, amount, ""), nil
	})
}

// ResetAllocation clears the allocation so net equals the total balance.
func (s *Service) ResetAllocation(ctx context.Context, name string) (internal.Grant, error) {
	return s.mutate(ctx, name, EventReset, func(g *internal.Grant) (*internal.LedgerEntry, error) {
		previous := g.AllocatedCost
		settle(g, decimal.Zero)
		return s.entry(g, internal.EntryReset, previous, ""), nil
	})
}

// SetTotalBalance is the explicit grant edit; allocation is kept.
func (s *Service) SetTotalBalance(ctx context.Context, name string, total float64) (internal.Grant, error) {
	if err := checkAmount(total); err != nil {
		return internal.Grant{}, err
	}
	return s.mutate(ctx, name, EventBalance, func(g *internal.Grant) (*internal.LedgerEntry, error) {
		g.TotalBalance = total
		settle(g, decimal.NewFromFloat(g.AllocatedCost))
		return s.entry(g, internal.EntryBalance, total, ""), nil
	})
}

func (s *Service) AllowItem(ctx context.Context, name, item string) (internal.Grant, error) {
	item = strings.TrimSpace(item)
	if item == "" {
		return internal.Grant{}, fmt.Errorf("%w: blank allowed item", ErrInvalidGrant)
	}
	return s.mutate(ctx, name, EventRules, func(g *internal.Grant) (*internal.LedgerEntry, error) {
		g.AllowedItems = cleanItems(append(g.AllowedItems, item))
		return nil, nil
	})
}

// DisallowItem removes a spending rule. Removing a rule that is not there
// leaves the grant as it was.
func (s *Service) DisallowItem(ctx context.Context, name, item string) (internal.Grant, error) {
	item = strings.TrimSpace(item)
	return s.mutate(ctx, name, EventRules, func(g *internal.Grant) (*internal.LedgerEntry, error) {
		kept := g.AllowedItems[:0:0]
		for _, it := range g.AllowedItems {
			if !strings.EqualFold(it, item) {
				kept = append(kept, it)
			}
		}
		g.AllowedItems = kept
		return nil, nil
	})
}

// DeleteGrant removes a grant and its journal. A missing id reports false.
func (s *Service) DeleteGrant(ctx context.Context, id string) (bool, error) {
	g, err := s.store.GrantByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return false, nil
		}
		return false, err
	}
	deleted, err := s.store.DeleteGrant(ctx, g.ID)
	if err != nil || !deleted {
		return deleted, err
	}
	util.Log.WithFields(logrus.Fields{"grant": g.Name, "id": g.ID}).Info("grant deleted")
	s.publish(ctx, Event{Kind: EventDeleted, Grant: g, At: s.now()})
	return true, nil
}

func (s *Service) Grant(ctx context.Context, name string) (internal.Grant, error) {
	return s.store.GrantByName(ctx, strings.TrimSpace(name))
}

func (s *Service) Grants(ctx context.Context) ([]internal.Grant, error) {
	return s.store.ListGrants(ctx)
}

func (s *Service) History(ctx context.Context, name string) ([]internal.LedgerEntry, error) {
	g, err := s.store.GrantByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	return s.store.Entries(ctx, g.ID)
}

func (s *Service) mutate(ctx context.Context, name string, kind EventKind, fn Mutation) (internal.Grant, error) {
	name = strings.TrimSpace(name)
	var entry *internal.LedgerEntry
	g, err := s.store.UpdateGrant(ctx, name, func(g *internal.Grant) (*internal.LedgerEntry, error) {
		e, err := fn(g)
		if err != nil {
			return nil, err
		}
		g.UpdatedAt = s.now()
		entry = e
		return e, nil
	})
	if err != nil {
		return internal.Grant{}, err
	}

	util.Log.WithFields(logrus.Fields{
		"grant":     g.Name,
		"op":        kind,
		"allocated": g.AllocatedCost,
		"net":       g.NetAmount,
	}).Info("grant updated")
	s.publish(ctx, Event{Kind: kind, Grant: g, Entry: entry, At: g.UpdatedAt})
	return g, nil
}

func (s *Service) entry(g *internal.Grant, kind internal.LedgerEntryKind, amount float64, note string) *internal.LedgerEntry {
	return &internal.LedgerEntry{
		ID:             uuid.NewString(),
		GrantID:        g.ID,
		Kind:           kind,
		Amount:         amount,
		AllocatedAfter: g.AllocatedCost,
		NetAfter:       g.NetAmount,
		Note:           strings.TrimSpace(note),
		CreatedAt:      s.now(),
	}
}

// publish never fails the caller: the change is already committed.
func (s *Service) publish(ctx context.Context, ev Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		util.Log.WithError(err).WithFields(logrus.Fields{"grant": ev.Grant.Name, "event": ev.Kind}).Warn("ledger event not published")
	}
}

// settle stores the allocation and recomputes net from it.
func settle(g *internal.Grant, allocated decimal.Decimal) {
	g.AllocatedCost, _ = allocated.Float64()
	g.NetAmount, _ = decimal.NewFromFloat(g.TotalBalance).Sub(allocated).Float64()
}

func checkAmount(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, v)
	}
	return nil
}

func cleanItems(items []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if it == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}
