package comments

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidSorting indicates a sort token outside of the supported set.
var ErrInvalidSorting = errors.New("comments: invalid sorting")

// Sorting is a signed sort token. A leading '-' sorts descending, '+' ascending.
type Sorting string

const (
	SortScoreDesc       Sorting = "-score"
	SortScoreAsc        Sorting = "+score"
	SortTimeDesc        Sorting = "-time"
	SortTimeAsc         Sorting = "+time"
	SortActiveDesc      Sorting = "-active"
	SortActiveAsc       Sorting = "+active"
	SortControversyDesc Sorting = "-controversy"
	SortControversyAsc  Sorting = "+controversy"

	// DefaultSorting is used when no preference has been stored.
	DefaultSorting = SortScoreDesc
)

const (
	sortKeyScore       = "score"
	sortKeyTime        = "time"
	sortKeyActive      = "active"
	sortKeyControversy = "controversy"
)

// NewSorting validates raw input and returns a Sorting.
func NewSorting(rawInput string) (Sorting, error) {
	switch sorting := Sorting(strings.TrimSpace(rawInput)); sorting {
	case SortScoreDesc, SortScoreAsc, SortTimeDesc, SortTimeAsc,
		SortActiveDesc, SortActiveAsc, SortControversyDesc, SortControversyAsc:
		return sorting, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSorting, rawInput)
	}
}

// String returns the sort token.
func (s Sorting) String() string {
	return string(s)
}

// Key returns the unsigned sort key.
func (s Sorting) Key() string {
	return strings.TrimLeft(string(s), "+-")
}

// Descending reports whether the token sorts from high to low.
func (s Sorting) Descending() bool {
	return strings.HasPrefix(string(s), "-")
}

type sortEntry struct {
	node        Node
	score       int
	createdAt   time.Time
	activeAt    time.Time
	controversy float64
}

// SortReplies returns a forest ordered by the sorting at every level, top-level
// threads included. The sort is stable so ties keep the server order.
func SortReplies(forest Forest, sorting Sorting) Forest {
	sorted, _ := sortNodes(forest, sorting)
	return Forest(sorted)
}

func sortNodes(nodes []Node, sorting Sorting) ([]Node, time.Time) {
	if len(nodes) == 0 {
		return nodes, time.Time{}
	}

	entries := make([]sortEntry, len(nodes))
	var latest time.Time
	for i, node := range nodes {
		replies, repliesLatest := sortNodes(node.Replies, sorting)
		node.Replies = replies

		createdAt, _ := node.Comment.CreatedAt()
		activeAt := createdAt
		if repliesLatest.After(activeAt) {
			activeAt = repliesLatest
		}
		if activeAt.After(latest) {
			latest = activeAt
		}

		entries[i] = sortEntry{
			node:        node,
			score:       node.Comment.Score,
			createdAt:   createdAt,
			activeAt:    activeAt,
			controversy: node.Comment.Controversy,
		}
	}

	compare := comparatorFor(sorting)
	slices.SortStableFunc(entries, compare)

	sorted := make([]Node, len(entries))
	for i, entry := range entries {
		sorted[i] = entry.node
	}
	return sorted, latest
}

func comparatorFor(sorting Sorting) func(a, b sortEntry) int {
	var ascending func(a, b sortEntry) int
	switch sorting.Key() {
	case sortKeyTime:
		ascending = func(a, b sortEntry) int { return a.createdAt.Compare(b.createdAt) }
	case sortKeyActive:
		ascending = func(a, b sortEntry) int { return a.activeAt.Compare(b.activeAt) }
	case sortKeyControversy:
		ascending = func(a, b sortEntry) int { return cmp.Compare(a.controversy, b.controversy) }
	default:
		ascending = func(a, b sortEntry) int { return cmp.Compare(a.score, b.score) }
	}
	if sorting.Descending() {
		return func(a, b sortEntry) int { return ascending(b, a) }
	}
	return ascending
}
