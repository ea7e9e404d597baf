package ninjakiwi

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/flor3z/ct-planner-bot/internal/cache"
)

const (
	// BannerTTL is how long the banner list of the running event is kept.
	BannerTTL = 12 * time.Hour
	// RelicTTL is how long the relic list is kept.
	RelicTTL = 5 * 24 * time.Hour
)

// Relic is a relic tile of the running event.
type Relic struct {
	Name     string
	TileCode string
}

// TileSource serves the current event's banner and relic tiles from
// expiring caches.
type TileSource struct {
	client  *Client
	now     func() time.Time
	banners *cache.Loader[[]string]
	relics  *cache.Loader[[]Relic]
}

// NewTileSource creates a TileSource over client.
func NewTileSource(client *Client) *TileSource {
	s := &TileSource{client: client, now: time.Now}
	s.banners = cache.NewLoader(BannerTTL, s.fetchBanners)
	s.relics = cache.NewLoader(RelicTTL, s.fetchRelics)
	return s
}

func (s *TileSource) currentTiles(ctx context.Context) ([]Tile, error) {
	ev, err := s.client.CurrentEvent(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return s.client.Tiles(ctx, ev.ID)
}

func (s *TileSource) fetchBanners(ctx context.Context) ([]string, error) {
	tiles, err := s.currentTiles(ctx)
	if err != nil {
		return nil, err
	}
	var codes []string
	for _, t := range tiles {
		if t.Type == TileBanner {
			codes = append(codes, strings.ToUpper(t.ID))
		}
	}
	slices.Sort(codes)
	return codes, nil
}

func (s *TileSource) fetchRelics(ctx context.Context) ([]Relic, error) {
	tiles, err := s.currentTiles(ctx)
	if err != nil {
		return nil, err
	}
	var relics []Relic
	for _, t := range tiles {
		if t.Type == TileRelic && t.Relic != "" {
			relics = append(relics, Relic{Name: t.Relic, TileCode: strings.ToUpper(t.ID)})
		}
	}
	slices.SortFunc(relics, func(a, b Relic) int { return strings.Compare(a.Name, b.Name) })
	return relics, nil
}

// Banners returns the banner tile codes of the running event, sorted.
func (s *TileSource) Banners(ctx context.Context) ([]string, error) {
	codes, err := s.banners.Get(ctx)
	return slices.Clone(codes), err
}

// Relics returns the relic tiles of the running event, sorted by name.
func (s *TileSource) Relics(ctx context.Context) ([]Relic, error) {
	relics, err := s.relics.Get(ctx)
	return slices.Clone(relics), err
}

// RelicTile resolves a relic name such as "Monkey Boost" or "monkey_boost"
// to its tile code.
func (s *TileSource) RelicTile(ctx context.Context, name string) (string, bool, error) {
	relics, err := s.relics.Get(ctx)
	if err != nil {
		return "", false, err
	}
	want := relicKey(name)
	for _, r := range relics {
		if relicKey(r.Name) == want {
			return r.TileCode, true, nil
		}
	}
	return "", false, nil
}

func relicKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(name))
}
