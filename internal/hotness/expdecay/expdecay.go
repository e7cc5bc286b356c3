// Package expdecay keeps a per-region request rate that halves every
// HalfLife without traffic.
package expdecay

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/terrain-contours/internal/hotness"
)

const shardCount = 64

// Tracker is safe for concurrent use. Scores decay lazily when touched.
type Tracker struct {
	HalfLife time.Duration

	now    func() time.Time
	shards [shardCount]shard
}

type shard struct {
	mu    sync.Mutex
	cells map[string]entry
}

type entry struct {
	score float64
	at    time.Time
}

func (e entry) valueAt(now time.Time, halfLife time.Duration) float64 {
	return decay(e.score, now.Sub(e.at), halfLife)
}

// CellScore is a cell with its decayed score.
type CellScore struct {
	Cell  string
	Score float64
}

var _ hotness.Interface = (*Tracker)(nil)

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = 5 * time.Minute
	}
	t := &Tracker{HalfLife: halfLife, now: time.Now}
	for i := range t.shards {
		t.shards[i].cells = make(map[string]entry)
	}
	return t
}

func (t *Tracker) Inc(cell string) {
	if cell == "" {
		return
	}
	now := t.now()
	s := t.shardFor(cell)
	s.mu.Lock()
	e := s.cells[cell]
	s.cells[cell] = entry{score: e.valueAt(now, t.HalfLife) + 1, at: now}
	s.mu.Unlock()
}

func (t *Tracker) Score(cell string) float64 {
	if cell == "" {
		return 0
	}
	s := t.shardFor(cell)
	s.mu.Lock()
	e, ok := s.cells[cell]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return e.valueAt(t.now(), t.HalfLife)
}

// Reset forgets cells, typically after their tiles were invalidated.
func (t *Tracker) Reset(cells ...string) {
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		s := t.shardFor(cell)
		s.mu.Lock()
		delete(s.cells, cell)
		s.mu.Unlock()
	}
}

// Prune drops cells that decayed below floor and returns how many went.
func (t *Tracker) Prune(floor float64) int {
	now := t.now()
	removed := 0
	t.each(func(s *shard) {
		for cell, e := range s.cells {
			if e.valueAt(now, t.HalfLife) < floor {
				delete(s.cells, cell)
				removed++
			}
		}
	})
	return removed
}

// Hottest returns up to n cells ordered by descending score.
func (t *Tracker) Hottest(n int) []CellScore {
	if n <= 0 {
		return nil
	}
	now := t.now()
	var all []CellScore
	t.each(func(s *shard) {
		for cell, e := range s.cells {
			all = append(all, CellScore{Cell: cell, Score: e.valueAt(now, t.HalfLife)})
		}
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Cell < all[j].Cell
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func (t *Tracker) Size() int {
	total := 0
	t.each(func(s *shard) { total += len(s.cells) })
	return total
}

func (t *Tracker) each(fn func(s *shard)) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		fn(s)
		s.mu.Unlock()
	}
}

// decay halves score once per elapsed halfLife.
func decay(score float64, elapsed, halfLife time.Duration) float64 {
	if score == 0 || elapsed <= 0 || halfLife <= 0 {
		return score
	}
	return score * math.Exp2(-elapsed.Seconds()/halfLife.Seconds())
}

func (t *Tracker) shardFor(cell string) *shard {
	return &t.shards[xxhash.Sum64String(cell)%shardCount]
}
