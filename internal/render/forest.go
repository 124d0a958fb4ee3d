package render

import (
	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/policy"
)

// NodeView pairs a comment with its derived state and rendered replies.
type NodeView struct {
	Comment comments.Comment `json:"comment"`
	State   NodeState        `json:"state"`
	Replies []NodeView       `json:"replies,omitempty"`
}

// RenderForest evaluates every node of the forest in order.
func RenderForest(forest comments.Forest, params Params) []NodeView {
	return renderNodes(forest, params)
}

func renderNodes(nodes []comments.Node, params Params) []NodeView {
	if len(nodes) == 0 {
		return nil
	}
	views := make([]NodeView, len(nodes))
	for index, node := range nodes {
		views[index] = NodeView{
			Comment: node.Comment,
			State:   Evaluate(node.Comment, params),
			Replies: renderNodes(node.Replies, params),
		}
	}
	return views
}

// RenderPinned evaluates the pinned list on the pinned surface.
func RenderPinned(pinned []comments.Comment, params Params) []NodeView {
	params.View = policy.ViewPinned
	views := make([]NodeView, 0, len(pinned))
	for _, comment := range pinned {
		views = append(views, NodeView{Comment: comment, State: Evaluate(comment, params)})
	}
	return views
}
