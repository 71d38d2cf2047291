// Package layout places scored images into a single centred column,
// breaking onto a new page when the next image no longer fits.
package layout

import (
	"context"
	"math"
	"sort"
)

// Item is one image waiting to be placed.
type Item struct {
	Seq    int // discovery order, used to break metric ties
	Name   string
	Metric float64
	Width  int // source pixels
	Height int
}

// Placement is where an item ends up.
type Placement struct {
	Seq    int     `json:"seq"`
	Name   string  `json:"name"`
	Metric float64 `json:"metric"`
	Page   int     `json:"page"` // 0-based
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// Plan is the complete placement of a batch.
type Plan struct {
	PageWidth  float64     `json:"page_width"`
	PageHeight float64     `json:"page_height"`
	Pages      int         `json:"pages"`
	Placements []Placement `json:"placements"`
}

// cursor tracks the next free slot while placing.
type cursor struct {
	page  int
	y     float64
	count int // images on the current page
}

// SortDescending orders items by metric, highest first. Ties keep their Seq order.
func SortDescending(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Metric != items[j].Metric {
			return items[i].Metric > items[j].Metric
		}
		return items[i].Seq < items[j].Seq
	})
}

// Fit returns the uniform scale and resulting size for a w x h pixel image.
func Fit(w, h int, cfg Config) (scale, sw, sh float64) {
	ppu := cfg.PixelsPerUnit
	if ppu <= 0 {
		ppu = 1
	}
	uw, uh := float64(w)/ppu, float64(h)/ppu
	scale = math.Min(cfg.MaxWidth/uw, cfg.MaxHeight/uh)
	if !cfg.Upscale && scale > 1 {
		scale = 1
	}
	return scale, uw * scale, uh * scale
}

// Build sorts items and places them. Items with non-positive dimensions are dropped.
// The context is checked between placements only.
func Build(ctx context.Context, items []Item, cfg Config) (Plan, error) {
	if err := cfg.Validate(); err != nil {
		return Plan{}, err
	}
	sorted := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Width > 0 && it.Height > 0 {
			sorted = append(sorted, it)
		}
	}
	SortDescending(sorted)

	plan := Plan{PageWidth: cfg.PageWidth, PageHeight: cfg.PageHeight}
	if len(sorted) == 0 {
		return plan, nil
	}

	cur := cursor{y: cfg.Margin}
	limit := cfg.BreakLimit()
	for _, it := range sorted {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		scale, sw, sh := Fit(it.Width, it.Height, cfg)
		x := (cfg.PageWidth - sw) / 2
		if cur.y+sh > limit && cur.count > 0 {
			cur.page++
			cur.y = cfg.Margin
			cur.count = 0
		}
		plan.Placements = append(plan.Placements, Placement{
			Seq:    it.Seq,
			Name:   it.Name,
			Metric: it.Metric,
			Page:   cur.page,
			X:      x,
			Y:      cur.y,
			Width:  sw,
			Height: sh,
			Scale:  scale,
		})
		cur.y += sh + cfg.Margin
		cur.count++
	}
	plan.Pages = cur.page + 1
	return plan, nil
}

// OnPage returns the placements assigned to the given page.
func (p Plan) OnPage(page int) []Placement {
	var out []Placement
	for _, pl := range p.Placements {
		if pl.Page == page {
			out = append(out, pl)
		}
	}
	return out
}
