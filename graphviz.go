package atom

import (
	"fmt"

	"github.com/emicklei/dot"
)

// DotGraph renders the live dependency graph for debugging. Stale nodes
// are dashed; edges point from a node to its dependents.
func (r *Registry) DotGraph() *dot.Graph {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()

	g := dot.NewGraph(dot.Directed)

	ids := make(map[*node]dot.Node, len(r.nodes))
	for _, n := range r.nodes {
		label := n.d.label
		if label == "" {
			label = fmt.Sprintf("%T", n.value)
		}
		gn := g.Node(fmt.Sprintf("%p", n)).Attr("label", label)
		if n.flags.has(flagWaitingForValue) {
			gn = gn.Attr("style", "dashed")
		}
		if len(n.listeners) > 0 {
			gn.Attr("penwidth", "2")
		}
		ids[n] = gn
	}

	for _, n := range r.nodes {
		for _, child := range n.children {
			if gc, ok := ids[child]; ok {
				g.Edge(ids[n], gc)
			}
		}
	}

	return g
}
