// Package network models the trust network between peers, gatekeepers and
// venues. Every change is an explicit Action applied by Reduce; a Network
// value is never modified in place.
package network

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ajitpratap0/microplan/internal/models"
)

// Network is the node and bridge set of one ward.
type Network struct {
	Nodes   []models.SocialNode  `json:"nodes"`
	Bridges []models.TrustBridge `json:"bridges"`
}

// Action is one state transition.
type Action interface {
	apply(n Network) (Network, error)
}

// AddNode adds a node. An empty ID is assigned.
type AddNode struct{ Node models.SocialNode }

// RemoveNode removes a node and every bridge touching it.
type RemoveNode struct{ ID string }

// AddBridge links two existing nodes. A bridge that already joins the pair in
// either direction is replaced.
type AddBridge struct{ Bridge models.TrustBridge }

// RemoveBridge removes the bridge joining From and To in either direction.
type RemoveBridge struct{ From, To string }

// MoveNode sets the layout position of a node.
type MoveNode struct {
	ID   string
	X, Y float64
}

// Reduce returns the network that results from applying a to n.
func Reduce(n Network, a Action) (Network, error) {
	if a == nil {
		return n, fmt.Errorf("nil network action")
	}
	return a.apply(n.clone())
}

// Apply reduces every action in order, stopping at the first error.
func Apply(n Network, actions ...Action) (Network, error) {
	var err error
	for _, a := range actions {
		if n, err = Reduce(n, a); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (n Network) clone() Network {
	out := Network{
		Nodes:   make([]models.SocialNode, len(n.Nodes)),
		Bridges: make([]models.TrustBridge, len(n.Bridges)),
	}
	copy(out.Nodes, n.Nodes)
	copy(out.Bridges, n.Bridges)
	for i := range out.Nodes {
		out.Nodes[i].InfluenceScore = clonePtr(out.Nodes[i].InfluenceScore)
		out.Nodes[i].X = clonePtr(out.Nodes[i].X)
		out.Nodes[i].Y = clonePtr(out.Nodes[i].Y)
	}
	return out
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Node returns the node with id.
func (n Network) Node(id string) (models.SocialNode, bool) {
	i := n.index(id)
	if i < 0 {
		return models.SocialNode{}, false
	}
	return n.Nodes[i], true
}

func (n Network) index(id string) int {
	for i, node := range n.Nodes {
		if node.ID == id {
			return i
		}
	}
	return -1
}

func (a AddNode) apply(n Network) (Network, error) {
	node := a.Node
	if strings.TrimSpace(node.Name) == "" {
		return n, models.NewValidationError("name", "is required")
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if n.index(node.ID) >= 0 {
		return n, models.NewValidationError("id", fmt.Sprintf("node %s already exists", node.ID))
	}
	node.InfluenceScore = nil
	n.Nodes = append(n.Nodes, node)
	return n, nil
}

func (a RemoveNode) apply(n Network) (Network, error) {
	i := n.index(a.ID)
	if i < 0 {
		return n, fmt.Errorf("%w: node %s", models.ErrNotFound, a.ID)
	}
	n.Nodes = append(n.Nodes[:i], n.Nodes[i+1:]...)
	kept := n.Bridges[:0]
	for _, b := range n.Bridges {
		if b.From != a.ID && b.To != a.ID {
			kept = append(kept, b)
		}
	}
	n.Bridges = kept
	return n, nil
}

func (a AddBridge) apply(n Network) (Network, error) {
	b := a.Bridge
	var errs []models.FieldError
	if b.From == b.To {
		errs = append(errs, models.FieldError{Field: "to", Message: "a node cannot bridge to itself"})
	}
	if n.index(b.From) < 0 {
		errs = append(errs, models.FieldError{Field: "from", Message: fmt.Sprintf("unknown node %q", b.From)})
	}
	if n.index(b.To) < 0 {
		errs = append(errs, models.FieldError{Field: "to", Message: fmt.Sprintf("unknown node %q", b.To)})
	}
	if !b.Strength.IsValid() {
		errs = append(errs, models.FieldError{Field: "strength", Message: "must be Weak, Moderate, Strong or Critical"})
	}
	if len(errs) > 0 {
		return n, models.NewValidationErrors(errs)
	}
	for i, existing := range n.Bridges {
		if existing.Connects(b.From, b.To) {
			n.Bridges[i] = b
			return n, nil
		}
	}
	n.Bridges = append(n.Bridges, b)
	return n, nil
}

func (a RemoveBridge) apply(n Network) (Network, error) {
	for i, b := range n.Bridges {
		if b.Connects(a.From, a.To) {
			n.Bridges = append(n.Bridges[:i], n.Bridges[i+1:]...)
			return n, nil
		}
	}
	return n, fmt.Errorf("%w: bridge %s-%s", models.ErrNotFound, a.From, a.To)
}

func (a MoveNode) apply(n Network) (Network, error) {
	i := n.index(a.ID)
	if i < 0 {
		return n, fmt.Errorf("%w: node %s", models.ErrNotFound, a.ID)
	}
	x, y := a.X, a.Y
	n.Nodes[i].X, n.Nodes[i].Y = &x, &y
	return n, nil
}

// Neighbors returns the IDs joined to id by any bridge, sorted.
func (n Network) Neighbors(id string) []string {
	seen := map[string]bool{}
	for _, b := range n.Bridges {
		switch id {
		case b.From:
			seen[b.To] = true
		case b.To:
			seen[b.From] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// InfluenceScores sums the strength weights of the bridges incident to each
// node. Every node has an entry.
func (n Network) InfluenceScores() map[string]float64 {
	scores := make(map[string]float64, len(n.Nodes))
	for _, node := range n.Nodes {
		scores[node.ID] = 0
	}
	for _, b := range n.Bridges {
		w := float64(b.Strength.Weight())
		scores[b.From] += w
		scores[b.To] += w
	}
	return scores
}

// WithInfluence returns a copy of n whose nodes carry their influence score.
func (n Network) WithInfluence() Network {
	out := n.clone()
	scores := n.InfluenceScores()
	for i := range out.Nodes {
		s := scores[out.Nodes[i].ID]
		out.Nodes[i].InfluenceScore = &s
	}
	return out
}

// Ranked returns nodes ordered by influence, highest first, ties by name.
func (n Network) Ranked() []models.SocialNode {
	w := n.WithInfluence()
	sort.SliceStable(w.Nodes, func(i, j int) bool {
		si, sj := *w.Nodes[i].InfluenceScore, *w.Nodes[j].InfluenceScore
		if si != sj {
			return si > sj
		}
		return w.Nodes[i].Name < w.Nodes[j].Name
	})
	return w.Nodes
}
