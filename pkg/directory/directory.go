// Package directory holds the trackable projects fetched once per page load and
// the recently-used ordering that survives page loads.
package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/kol-signals/pkg/models"
)

type ProjectLister interface {
	ListProjects(ctx context.Context) ([]models.TrackedProject, error)
}

type Directory struct {
	lister ProjectLister
	sf     singleflight.Group

	mu       sync.RWMutex
	loaded   bool
	projects []models.TrackedProject
	byHandle map[string]int
	byID     map[string]int
}

func New(lister ProjectLister) *Directory {
	return &Directory{lister: lister}
}

// Load fetches the directory on first use. Concurrent callers share one
// request. A failed fetch leaves the directory empty for the page lifetime.
func (d *Directory) Load(ctx context.Context) {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if loaded {
		return
	}

	d.sf.Do("verified", func() (interface{}, error) {
		d.mu.RLock()
		done := d.loaded
		d.mu.RUnlock()
		if done {
			return nil, nil
		}

		projects, err := d.lister.ListProjects(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("project directory unavailable")
			projects = nil
		}
		d.set(projects)
		return nil, nil
	})
}

func (d *Directory) set(projects []models.TrackedProject) {
	byHandle := make(map[string]int, len(projects))
	byID := make(map[string]int, len(projects))
	for i, p := range projects {
		if h := p.Handle(); h != "" {
			if _, dup := byHandle[h]; !dup {
				byHandle[h] = i
			}
		}
		byID[p.ID] = i
	}

	d.mu.Lock()
	d.projects = projects
	d.byHandle = byHandle
	d.byID = byID
	d.loaded = true
	d.mu.Unlock()

	log.Debug().Int("projects", len(projects)).Msg("project directory loaded")
}

func (d *Directory) Projects() []models.TrackedProject {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.TrackedProject, len(d.projects))
	copy(out, d.projects)
	return out
}

// ByHandle looks a project up by twitter handle, case-insensitively.
func (d *Directory) ByHandle(handle string) (models.TrackedProject, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.byHandle[models.NormalizeHandle(handle)]
	if !ok {
		return models.TrackedProject{}, false
	}
	return d.projects[i], true
}

func (d *Directory) ByID(id string) (models.TrackedProject, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.byID[id]
	if !ok {
		return models.TrackedProject{}, false
	}
	return d.projects[i], true
}

// Results partitions search matches into recently used and the rest.
type Results struct {
	Recent []models.TrackedProject `json:"recent"`
	Others []models.TrackedProject `json:"others"`
}

func (r Results) Empty() bool { return len(r.Recent) == 0 && len(r.Others) == 0 }

func (r Results) All() []models.TrackedProject {
	out := make([]models.TrackedProject, 0, len(r.Recent)+len(r.Others))
	out = append(out, r.Recent...)
	return append(out, r.Others...)
}

// Search matches query as a case-insensitive substring of display name or
// handle. Recent matches come first in recent order, then the rest in
// directory order.
func (d *Directory) Search(query string, recent []string) Results {
	return Search(d.Projects(), query, recent)
}

func Search(projects []models.TrackedProject, query string, recent []string) Results {
	q := strings.ToLower(strings.TrimSpace(query))
	var matches []models.TrackedProject
	for _, p := range projects {
		if q == "" ||
			strings.Contains(strings.ToLower(p.DisplayName), q) ||
			strings.Contains(strings.ToLower(p.TwitterHandle), q) {
			matches = append(matches, p)
		}
	}

	rank := make(map[string]int, len(recent))
	for i, id := range recent {
		rank[id] = i
	}

	var res Results
	recentSlots := make([]*models.TrackedProject, len(recent))
	for i := range matches {
		if r, ok := rank[matches[i].ID]; ok {
			if recentSlots[r] == nil {
				recentSlots[r] = &matches[i]
			}
			continue
		}
		res.Others = append(res.Others, matches[i])
	}
	for _, p := range recentSlots {
		if p != nil {
			res.Recent = append(res.Recent, *p)
		}
	}
	return res
}
