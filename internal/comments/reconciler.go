package comments

// Reconciler operations never mutate their input. Only the path from the root to
// the target node is copied; every other subtree is shared with the input forest.
// Each operation reports whether the target id was found so callers can log misses.

// Find returns the node with the given comment id using a depth-first search.
func Find(forest Forest, commentID string) (Node, bool) {
	return findNode(forest, commentID)
}

func findNode(nodes []Node, commentID string) (Node, bool) {
	for _, node := range nodes {
		if node.Comment.ID == commentID {
			return node, true
		}
		if found, ok := findNode(node.Replies, commentID); ok {
			return found, true
		}
	}
	return Node{}, false
}

// ThreadIndex returns the position of the top-level thread containing the comment.
func ThreadIndex(forest Forest, commentID string) (int, bool) {
	for index, thread := range forest {
		if thread.Comment.ID == commentID {
			return index, true
		}
		if _, ok := findNode(thread.Replies, commentID); ok {
			return index, true
		}
	}
	return -1, false
}

// Size counts the nodes of the forest.
func Size(forest Forest) int {
	return countNodes(forest)
}

func countNodes(nodes []Node) int {
	total := len(nodes)
	for _, node := range nodes {
		total += countNodes(node.Replies)
	}
	return total
}

// AppendThread adds a new top-level thread at the end of the forest.
func AppendThread(forest Forest, comment Comment) Forest {
	comment.ParentID = ""
	return Forest(appendNode(forest, Node{Comment: comment}))
}

// InsertReply appends the comment to the replies of parentID. Stored order is
// arrival order; sorting is applied separately by SortReplies.
func InsertReply(forest Forest, parentID string, comment Comment) (Forest, bool) {
	comment.ParentID = parentID
	updated, found, _ := rewrite(forest, parentID, func(node Node) (Node, bool) {
		node.Replies = appendNode(node.Replies, Node{Comment: comment})
		return node, true
	})
	return Forest(updated), found
}

// ReplaceComment swaps the comment of the matching node and keeps its replies.
func ReplaceComment(forest Forest, updated Comment) (Forest, bool) {
	result, found, _ := rewrite(forest, updated.ID, func(node Node) (Node, bool) {
		updated.ParentID = node.Comment.ParentID
		if node.Comment == updated {
			return node, false
		}
		node.Comment = updated
		return node, true
	})
	return Forest(result), found
}

// MarkDeleted tombstones the comment. Replies stay in place.
func MarkDeleted(forest Forest, commentID string) (Forest, bool) {
	result, found, _ := rewrite(forest, commentID, func(node Node) (Node, bool) {
		if node.Comment.Delete {
			return node, false
		}
		node.Comment.Delete = true
		return node, true
	})
	return Forest(result), found
}

// CollectPinned returns pinned comments at any depth in traversal order:
// threads in forest order, depth-first within each thread.
func CollectPinned(forest Forest) []Comment {
	var pinned []Comment
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, node := range nodes {
			if node.Comment.Pin {
				pinned = append(pinned, node.Comment)
			}
			walk(node.Replies)
		}
	}
	walk(forest)
	return pinned
}

// rewrite applies fn to the node with the given id. It returns the input slice
// untouched when the id is missing or fn reports no change.
func rewrite(nodes []Node, commentID string, fn func(Node) (Node, bool)) ([]Node, bool, bool) {
	for index := range nodes {
		if nodes[index].Comment.ID == commentID {
			updated, changed := fn(nodes[index])
			if !changed {
				return nodes, true, false
			}
			return replaceAt(nodes, index, updated), true, true
		}
		replies, found, changed := rewrite(nodes[index].Replies, commentID, fn)
		if !found {
			continue
		}
		if !changed {
			return nodes, true, false
		}
		node := nodes[index]
		node.Replies = replies
		return replaceAt(nodes, index, node), true, true
	}
	return nodes, false, false
}

func replaceAt(nodes []Node, index int, node Node) []Node {
	copied := make([]Node, len(nodes))
	copy(copied, nodes)
	copied[index] = node
	return copied
}

func appendNode(nodes []Node, node Node) []Node {
	copied := make([]Node, len(nodes), len(nodes)+1)
	copy(copied, nodes)
	return append(copied, node)
}

// UpdateAuthor applies fn to the author of every comment written by userID.
// Subtrees without a change are shared with the input.
func UpdateAuthor(forest Forest, userID string, fn func(User) User) Forest {
	updated, _ := updateAuthor(forest, userID, fn)
	return Forest(updated)
}

func updateAuthor(nodes []Node, userID string, fn func(User) User) ([]Node, bool) {
	var copied []Node
	for index, node := range nodes {
		changed := false
		if node.Comment.User.ID == userID {
			if user := fn(node.Comment.User); user != node.Comment.User {
				node.Comment.User = user
				changed = true
			}
		}
		if replies, repliesChanged := updateAuthor(node.Replies, userID, fn); repliesChanged {
			node.Replies = replies
			changed = true
		}
		if !changed {
			continue
		}
		if copied == nil {
			copied = make([]Node, len(nodes))
			copy(copied, nodes)
		}
		copied[index] = node
	}
	if copied == nil {
		return nodes, false
	}
	return copied, true
}
