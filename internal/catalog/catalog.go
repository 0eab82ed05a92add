// Package catalog resolves the read-mostly taxonomy and SLA reference data:
// the closed service-task list and the region-scoped SLA profiles matched
// against it.
package catalog

import (
	"context"
	"sort"

	"github.com/fielddispatch/gateway/internal/apperr"
	"github.com/fielddispatch/gateway/internal/domain"
)

// Store is the persistence seam the catalog reads through. internal/store
// provides the pgx-backed implementation; tests supply an in-memory one.
type Store interface {
	GetTask(ctx context.Context, id domain.ID) (*domain.Task, error)
	ActiveSLAProfiles(ctx context.Context, level domain.ProviderLevel, country string) ([]domain.SLAProfile, error)
}

// Catalog resolves tasks and SLA profiles against the reference store.
type Catalog struct {
	store Store
}

// New builds a Catalog backed by store.
func New(store Store) *Catalog {
	return &Catalog{store: store}
}

// ResolveTask looks up a task by id.
func (c *Catalog) ResolveTask(ctx context.Context, taskID domain.ID) (*domain.Task, error) {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperr.New(apperr.KindNotFound, "task not found")
	}
	return task, nil
}

// FindSLA resolves the single best-matching SLA profile for the given
// level, country, task and service region, applying the specificity and
// priority tie-break rules. Returns nil, nil when nothing matches — the
// caller proceeds in degraded mode with all deadline fields absent.
func (c *Catalog) FindSLA(ctx context.Context, level domain.ProviderLevel, country string, taskID domain.ID, serviceRegion string) (*domain.SLAProfile, error) {
	profiles, err := c.store.ActiveSLAProfiles(ctx, level, country)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.SLAProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.TaskID != nil && *p.TaskID != taskID {
			continue // scoped to a different task, not a level-wide match
		}
		if p.RegionType != domain.RegionCountry && p.RegionValue != serviceRegion {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		aSpecific := a.TaskID != nil && *a.TaskID == taskID
		bSpecific := b.TaskID != nil && *b.TaskID == taskID
		if aSpecific != bSpecific {
			return aSpecific
		}
		if a.PriorityOrder != b.PriorityOrder {
			return a.PriorityOrder > b.PriorityOrder
		}
		return a.RegionType.Specificity() > b.RegionType.Specificity()
	})

	best := candidates[0]
	return &best, nil
}
