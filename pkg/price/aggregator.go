// Package price computes how a tracked project has moved since a post called it.
package price

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kol-signals/pkg/models"
)

// Source is the set of price upstreams. A nil time asks for the latest price.
type Source interface {
	TokenPrice(ctx context.Context, chain models.Chain, address string, at *time.Time) (float64, error)
	CoinGeckoPrice(ctx context.Context, id string, date *time.Time) (float64, error)
	NFTFloorPrice(ctx context.Context, chain models.Chain, address string, date *time.Time) (float64, error)
}

// ProjectFinder resolves project handles. Load blocks until the projects are
// available and is called before every lookup.
type ProjectFinder interface {
	Load(ctx context.Context)
	ByHandle(handle string) (models.TrackedProject, bool)
}

var errNotPositive = errors.New("price not positive")

type Aggregator struct {
	source   Source
	projects ProjectFinder
}

func NewAggregator(source Source, projects ProjectFinder) *Aggregator {
	return &Aggregator{source: source, projects: projects}
}

// PercentChange returns the change between the project's price on the post's
// calendar day and its price now. ok is false whenever either price cannot be
// had, including unknown projects and projects with price tracking off.
func (a *Aggregator) PercentChange(ctx context.Context, projectHandle string, postTime time.Time) (float64, bool) {
	a.projects.Load(ctx)
	project, found := a.projects.ByHandle(projectHandle)
	if !found {
		log.Debug().Str("project", projectHandle).Msg("price: project not in directory")
		return 0, false
	}
	if !project.PriceTrackingEnabled {
		return 0, false
	}

	call, current, err := a.Prices(ctx, project, postTime)
	if err != nil {
		log.Debug().Err(err).Str("project", project.Handle()).Str("shape", project.Shape().String()).Msg("price unavailable")
		return 0, false
	}
	return Change(call, current)
}

// Prices fetches call-time and latest prices concurrently.
func (a *Aggregator) Prices(ctx context.Context, project models.TrackedProject, postTime time.Time) (call, current float64, err error) {
	callFn, currentFn, err := a.fetchers(project, models.CalendarDay(postTime))
	if err != nil {
		return 0, 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := callFn(gctx)
		if err != nil {
			return fmt.Errorf("call price: %w", err)
		}
		if v <= 0 {
			return errNotPositive
		}
		call = v
		return nil
	})
	g.Go(func() error {
		v, err := currentFn(gctx)
		if err != nil {
			return fmt.Errorf("current price: %w", err)
		}
		if v <= 0 {
			return errNotPositive
		}
		current = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return call, current, nil
}

type fetchFunc func(ctx context.Context) (float64, error)

func (a *Aggregator) fetchers(p models.TrackedProject, day time.Time) (fetchFunc, fetchFunc, error) {
	switch p.Shape() {
	case models.ShapeTokenContract:
		return func(ctx context.Context) (float64, error) {
				return a.source.TokenPrice(ctx, p.Chain, p.ContractAddress, &day)
			}, func(ctx context.Context) (float64, error) {
				return a.source.TokenPrice(ctx, p.Chain, p.ContractAddress, nil)
			}, nil
	case models.ShapeTokenExternalID:
		return func(ctx context.Context) (float64, error) {
				return a.source.CoinGeckoPrice(ctx, p.CoinGeckoID, &day)
			}, func(ctx context.Context) (float64, error) {
				return a.source.CoinGeckoPrice(ctx, p.CoinGeckoID, nil)
			}, nil
	case models.ShapeNFTContract:
		return func(ctx context.Context) (float64, error) {
				return a.source.NFTFloorPrice(ctx, p.Chain, p.ContractAddress, &day)
			}, func(ctx context.Context) (float64, error) {
				return a.source.NFTFloorPrice(ctx, p.Chain, p.ContractAddress, nil)
			}, nil
	}
	return nil, nil, fmt.Errorf("no price source for %s project %q", p.Kind, p.Handle())
}

// Change is (current-call)/call*100. ok is false unless both prices are positive.
func Change(call, current float64) (float64, bool) {
	if call <= 0 || current <= 0 {
		return 0, false
	}
	return (current - call) / call * 100, true
}

// Format renders a change the way the badge shows it, e.g. "+12.3%".
func Format(pct float64) string {
	return fmt.Sprintf("%+.1f%%", pct)
}
