package comments

import (
	"errors"
	"testing"
)

func TestNewSortingRejectsUnknownTokens(t *testing.T) {
	for _, raw := range []string{"", "score", "*time", "-likes"} {
		if _, err := NewSorting(raw); !errors.Is(err, ErrInvalidSorting) {
			t.Fatalf("expected ErrInvalidSorting for %q, got %v", raw, err)
		}
	}
	sorting, err := NewSorting(" +active ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sorting.Key() != "active" || sorting.Descending() {
		t.Fatalf("unexpected sorting parts for %s", sorting)
	}
}

func TestSortRepliesIsStableAndRecursive(t *testing.T) {
	forest := Forest{
		{Comment: Comment{ID: "x", Score: 1, Time: "2024-01-01T00:00:00Z"}},
		{
			Comment: Comment{ID: "y", Score: 5, Time: "2024-01-02T00:00:00Z"},
			Replies: []Node{
				{Comment: Comment{ID: "y1", ParentID: "y", Score: 0, Time: "2024-01-03T00:00:00Z"}},
				{Comment: Comment{ID: "y2", ParentID: "y", Score: 2, Time: "2024-01-04T00:00:00Z"}},
				{Comment: Comment{ID: "y3", ParentID: "y", Score: 0, Time: "2024-01-05T00:00:00Z"}},
			},
		},
		{Comment: Comment{ID: "z", Score: 1, Time: "2024-01-06T00:00:00Z"}},
	}

	sorted := SortReplies(forest, SortScoreDesc)
	assertOrder(t, sorted, "y", "x", "z")
	assertOrder(t, Forest(sorted[0].Replies), "y2", "y1", "y3")

	ascending := SortReplies(forest, SortScoreAsc)
	assertOrder(t, ascending, "x", "z", "y")
	assertOrder(t, Forest(ascending[2].Replies), "y1", "y3", "y2")

	assertOrder(t, forest, "x", "y", "z")
	assertOrder(t, Forest(forest[1].Replies), "y1", "y2", "y3")
}

func TestSortRepliesByActivityUsesLatestReply(t *testing.T) {
	forest := Forest{
		{
			Comment: Comment{ID: "old-thread", Time: "2024-01-01T00:00:00Z"},
			Replies: []Node{
				{Comment: Comment{ID: "fresh-reply", ParentID: "old-thread", Time: "2024-03-01T00:00:00Z"}},
			},
		},
		{Comment: Comment{ID: "newer-thread", Time: "2024-02-01T00:00:00Z"}},
	}

	assertOrder(t, SortReplies(forest, SortActiveDesc), "old-thread", "newer-thread")
	assertOrder(t, SortReplies(forest, SortTimeDesc), "newer-thread", "old-thread")
}

func TestApplyVoteFlipCancels(t *testing.T) {
	comment := Comment{ID: "c", Score: 4, Vote: 1}
	flipped := ApplyVote(comment, VoteDown)
	if flipped.Vote != 0 || flipped.Score != 3 {
		t.Fatalf("unexpected vote state %+v", flipped)
	}
	if comment.Vote != 1 {
		t.Fatalf("input comment must not be mutated")
	}
}

func assertOrder(t *testing.T, nodes Forest, ids ...string) {
	t.Helper()
	if len(nodes) != len(ids) {
		t.Fatalf("expected %d nodes, got %d", len(ids), len(nodes))
	}
	for index, id := range ids {
		if nodes[index].Comment.ID != id {
			t.Fatalf("expected %s at index %d, got %s", id, index, nodes[index].Comment.ID)
		}
	}
}
