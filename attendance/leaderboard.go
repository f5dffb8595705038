package attendance

import (
	"context"
	"sync"
	"time"
)

// Row is one rendered leaderboard line. Rank is dense and 1-based among the
// viewers that passed the minimum-presence filter: every viewer sharing a
// present count shares a rank, and the next distinct count is exactly one
// rank lower.
type Row struct {
	Rank    int    `json:"rank"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	Present int    `json:"present"`
	Absent  int    `json:"absent"`
	Minutes int64  `json:"mins"`
}

// Page is one fixed-size slice of the leaderboard. Every page is
// self-describing so a client can fetch the rest without extra calls.
type Page struct {
	Page          int   `json:"page"`
	LastPage      int   `json:"last_page"`
	TotalSessions int   `json:"total_sessions"`
	Data          []Row `json:"data"`
}

// Board is a complete, internally consistent leaderboard snapshot.
type Board struct {
	Pages         []Page
	TotalSessions int
	BuiltAt       time.Time
}

// RankSource is the slice of Store the projector needs. Narrowed to an
// interface so tests can drive the projection from fixed batches.
type RankSource interface {
	TotalSessions(ctx context.Context) (int, error)
	ForEachRankedDescending(ctx context.Context, batchSize, minPresent int, fn func([]ViewerRow) error) error
}

// BuildLeaderboard folds the store's ranked batches into pages of pageSize
// rows. The scan reads in batchSize chunks, but the assembled pages do hold
// every viewer above the presence filter: the board is the serving cache, so
// its size is the price of answering page requests without touching the
// store. Filtered-out viewers never leave the database.
func BuildLeaderboard(ctx context.Context, src RankSource, pageSize, batchSize, minPresent int) (*Board, error) {
	if pageSize <= 0 {
		pageSize = 500
	}

	var (
		pages       []Page
		cur         []Row
		rank        int
		prevPresent = -1
		total       = -1
	)
	err := src.ForEachRankedDescending(ctx, batchSize, minPresent, func(batch []ViewerRow) error {
		for _, v := range batch {
			if total < 0 {
				// Present+Absent is the stream count of the scan's own
				// snapshot, which keeps the header consistent with the rows.
				total = v.Present + v.Absent
			}
			if v.Present != prevPresent {
				rank++
				prevPresent = v.Present
			}
			cur = append(cur, Row{
				Rank:    rank,
				Name:    v.Name,
				Role:    v.Role,
				Present: v.Present,
				Absent:  v.Absent,
				Minutes: v.Minutes,
			})
			if len(cur) == pageSize {
				pages = append(pages, Page{Data: cur})
				cur = nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(cur) > 0 {
		pages = append(pages, Page{Data: cur})
	}
	if total < 0 {
		n, err := src.TotalSessions(ctx)
		if err != nil {
			return nil, err
		}
		total = n
	}

	last := len(pages)
	for i := range pages {
		pages[i].Page = i + 1
		pages[i].LastPage = last
		pages[i].TotalSessions = total
	}
	return &Board{Pages: pages, TotalSessions: total, BuiltAt: time.Now()}, nil
}

// Projector holds the latest leaderboard snapshot for concurrent readers.
// The poll cycle swaps in a full rebuild; HTTP handlers only ever see a
// complete board.
type Projector struct {
	mu    sync.RWMutex
	board *Board
}

func NewProjector() *Projector { return &Projector{} }

// Update replaces the current snapshot.
func (p *Projector) Update(b *Board) {
	p.mu.Lock()
	p.board = b
	p.mu.Unlock()
}

// Snapshot returns the current board, or nil before the first build.
func (p *Projector) Snapshot() *Board {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.board
}

// PageFor returns the 1-based page n. An empty board serves page 1 as an
// empty page so clients always get a well-formed response.
func (p *Projector) PageFor(n int) (Page, bool) {
	b := p.Snapshot()
	if b == nil {
		return Page{}, false
	}
	if len(b.Pages) == 0 {
		if n == 1 {
			return Page{Page: 1, LastPage: 1, TotalSessions: b.TotalSessions, Data: []Row{}}, true
		}
		return Page{}, false
	}
	if n < 1 || n > len(b.Pages) {
		return Page{}, false
	}
	return b.Pages[n-1], true
}
