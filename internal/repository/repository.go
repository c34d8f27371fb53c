package repository

import (
	"context"

	"github.com/mekleo/dnsvantage/internal/domain"
)

// DomainStore persists tracked domains and their measurement events.
//
// SaveDomains must leave every drained event queued on its domain when the
// write fails, so a later flush can retry it.
type DomainStore interface {
	// LoadDomains returns every tracked domain, ordered by rank.
	LoadDomains(ctx context.Context) ([]*domain.Domain, error)
	// AddDomains inserts the given domains; storage assigns each one its
	// rank.
	AddDomains(ctx context.Context, domains []*domain.Domain) error
	// DeleteDomains removes tracked domains by name.
	DeleteDomains(ctx context.Context, names []string) error
	// SaveDomains persists current statistics for every domain and drains
	// each domain's pending events into the measurement log.
	SaveDomains(ctx context.Context, domains []*domain.Domain) error
}
