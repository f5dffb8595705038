package attendance

import (
	"context"
	"testing"
	"time"
)

// sliceSource serves fixed pre-sorted viewer rows in batches, mirroring the
// store's scan contract.
type sliceSource struct {
	rows  []ViewerRow
	total int
}

func (s *sliceSource) TotalSessions(ctx context.Context) (int, error) { return s.total, nil }

func (s *sliceSource) ForEachRankedDescending(ctx context.Context, batchSize, minPresent int, fn func([]ViewerRow) error) error {
	if batchSize <= 0 {
		batchSize = 2
	}
	var filtered []ViewerRow
	for _, v := range s.rows {
		if v.Present >= minPresent {
			filtered = append(filtered, v)
		}
	}
	for len(filtered) > 0 {
		n := batchSize
		if n > len(filtered) {
			n = len(filtered)
		}
		if err := fn(filtered[:n]); err != nil {
			return err
		}
		filtered = filtered[n:]
	}
	return nil
}

func TestBuildLeaderboardDenseRanks(t *testing.T) {
	// Pre-sorted by present DESC, name ASC; 6 total sessions.
	src := &sliceSource{
		total: 6,
		rows: []ViewerRow{
			{Name: "alice", Role: RoleViewer, Present: 5, Absent: 1, Minutes: 600},
			{Name: "carol", Role: RoleVIP, Present: 5, Absent: 1, Minutes: 580},
			{Name: "bob", Role: RoleModerator, Present: 3, Absent: 3, Minutes: 200},
			{Name: "dave", Role: RoleViewer, Present: 1, Absent: 5, Minutes: 30},
		},
	}

	board, err := BuildLeaderboard(context.Background(), src, 500, 2, 2)
	if err != nil {
		t.Fatalf("BuildLeaderboard: %v", err)
	}
	if len(board.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(board.Pages))
	}
	rows := board.Pages[0].Data
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 (dave filtered at minPresent=2)", len(rows))
	}
	// Tied present counts share a rank; the next distinct count is one lower.
	wantRanks := map[string]int{"alice": 1, "carol": 1, "bob": 2}
	for _, row := range rows {
		if want := wantRanks[row.Name]; row.Rank != want {
			t.Errorf("%s rank = %d, want %d", row.Name, row.Rank, want)
		}
	}
	if board.TotalSessions != 6 {
		t.Errorf("TotalSessions = %d, want 6 (derived from Present+Absent)", board.TotalSessions)
	}
}

func TestBuildLeaderboardPaging(t *testing.T) {
	var rows []ViewerRow
	for i := 0; i < 5; i++ {
		rows = append(rows, ViewerRow{
			Name:    string(rune('a' + i)),
			Role:    RoleViewer,
			Present: 10 - i,
			Absent:  i,
		})
	}
	src := &sliceSource{rows: rows, total: 10}

	board, err := BuildLeaderboard(context.Background(), src, 2, 3, 1)
	if err != nil {
		t.Fatalf("BuildLeaderboard: %v", err)
	}
	if len(board.Pages) != 3 {
		t.Fatalf("got %d pages, want 3 (5 rows, page size 2)", len(board.Pages))
	}
	for i, p := range board.Pages {
		if p.Page != i+1 {
			t.Errorf("page %d numbered %d", i, p.Page)
		}
		if p.LastPage != 3 {
			t.Errorf("page %d LastPage = %d, want 3", i, p.LastPage)
		}
		if p.TotalSessions != 10 {
			t.Errorf("page %d TotalSessions = %d, want 10", i, p.TotalSessions)
		}
	}
	if got := len(board.Pages[2].Data); got != 1 {
		t.Errorf("last page has %d rows, want 1", got)
	}
}

func TestBuildLeaderboardEmpty(t *testing.T) {
	src := &sliceSource{total: 4}
	board, err := BuildLeaderboard(context.Background(), src, 500, 1000, 1)
	if err != nil {
		t.Fatalf("BuildLeaderboard: %v", err)
	}
	if len(board.Pages) != 0 {
		t.Errorf("got %d pages, want 0", len(board.Pages))
	}
	// With no rows, the total falls back to the store's stream count.
	if board.TotalSessions != 4 {
		t.Errorf("TotalSessions = %d, want 4", board.TotalSessions)
	}
}

func TestProjectorPageFor(t *testing.T) {
	p := NewProjector()

	// Before the first build there is nothing to serve.
	if _, ok := p.PageFor(1); ok {
		t.Error("PageFor should fail before the first build")
	}
	if p.Snapshot() != nil {
		t.Error("Snapshot should be nil before the first build")
	}

	// An empty board serves a well-formed empty page 1.
	p.Update(&Board{TotalSessions: 2, BuiltAt: time.Now()})
	page, ok := p.PageFor(1)
	if !ok {
		t.Fatal("empty board should serve page 1")
	}
	if page.Page != 1 || page.LastPage != 1 || page.TotalSessions != 2 || len(page.Data) != 0 {
		t.Errorf("unexpected empty page: %+v", page)
	}
	if _, ok := p.PageFor(2); ok {
		t.Error("empty board should not serve page 2")
	}

	p.Update(&Board{
		Pages: []Page{
			{Page: 1, LastPage: 2, Data: []Row{{Rank: 1, Name: "alice"}}},
			{Page: 2, LastPage: 2, Data: []Row{{Rank: 2, Name: "bob"}}},
		},
		TotalSessions: 3,
	})
	page, ok = p.PageFor(2)
	if !ok || page.Data[0].Name != "bob" {
		t.Errorf("PageFor(2) = %+v, ok=%v", page, ok)
	}
	if _, ok := p.PageFor(0); ok {
		t.Error("page 0 should not exist")
	}
	if _, ok := p.PageFor(3); ok {
		t.Error("page 3 should not exist")
	}
}
