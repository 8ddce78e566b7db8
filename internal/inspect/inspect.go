// Package inspect is the host-side model the demo binary exposes: a component
// tree that re-renders on a timer and the render statistics gathered once the
// tree hook is installed.
package inspect

import (
	"fmt"
	"sync"
	"time"

	"devtools-rpc/codec"
	"devtools-rpc/rpc"
)

// Node is one component in the tree.
type Node struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Props    map[string]any `json:"props,omitempty"`
	Children []*Node        `json:"children,omitempty"`
}

// RenderStats summarizes renders observed since the hook was installed.
type RenderStats struct {
	Renders     int64            `json:"renders"`
	LastRender  time.Time        `json:"lastRender"`
	PerNode     map[string]int64 `json:"perNode"`
	SlowestNode string           `json:"slowestNode"`
	SlowestMs   float64          `json:"slowestMs"`
}

// Inspector holds the live tree. It is safe for concurrent use.
type Inspector struct {
	mu        sync.Mutex
	root      *Node
	installed bool
	stats     RenderStats
	now       func() time.Time
}

func New() *Inspector {
	return &Inspector{
		root: &Node{ID: "0", Name: "App", Children: []*Node{
			{ID: "1", Name: "Header", Props: map[string]any{"title": "devtools"}},
			{ID: "2", Name: "List", Props: map[string]any{"items": 0}},
		}},
		stats: RenderStats{PerNode: map[string]int64{}},
		now:   time.Now,
	}
}

// InstallHook starts collecting render statistics. It reports whether this
// call installed it.
func (in *Inspector) InstallHook() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.installed {
		return false
	}
	in.installed = true
	return true
}

// Installed reports whether the hook is in place.
func (in *Inspector) Installed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.installed
}

// Render simulates one commit: the list grows by one item and, with the hook
// installed, every node's render is counted.
func (in *Inspector) Render(took time.Duration) {
	in.mu.Lock()
	defer in.mu.Unlock()

	list := in.root.Children[1]
	n, _ := list.Props["items"].(int)
	list.Props["items"] = n + 1
	list.Children = append(list.Children, &Node{ID: fmt.Sprintf("2.%d", n), Name: "Item", Props: map[string]any{"index": n}})

	if !in.installed {
		return
	}
	in.stats.Renders++
	in.stats.LastRender = in.now().UTC()
	for _, id := range ids(in.root) {
		in.stats.PerNode[id]++
	}
	if ms := float64(took) / float64(time.Millisecond); ms > in.stats.SlowestMs {
		in.stats.SlowestMs, in.stats.SlowestNode = ms, list.ID
	}
}

func ids(n *Node) []string {
	out := []string{n.ID}
	for _, c := range n.Children {
		out = append(out, ids(c)...)
	}
	return out
}

func clone(n *Node) *Node {
	c := &Node{ID: n.ID, Name: n.Name}
	if n.Props != nil {
		c.Props = make(map[string]any, len(n.Props))
		for k, v := range n.Props {
			c.Props[k] = v
		}
	}
	for _, ch := range n.Children {
		c.Children = append(c.Children, clone(ch))
	}
	return c
}

// Tree returns a copy of the tree, or nil while the hook is not installed.
func (in *Inspector) Tree() *Node {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.installed {
		return nil
	}
	return clone(in.root)
}

// Stats returns a copy of the statistics.
func (in *Inspector) Stats() RenderStats {
	in.mu.Lock()
	defer in.mu.Unlock()
	s := in.stats
	s.PerNode = make(map[string]int64, len(in.stats.PerNode))
	for k, v := range in.stats.PerNode {
		s.PerNode[k] = v
	}
	return s
}

// Functions is the table served to plugins.
func (in *Inspector) Functions() rpc.Functions {
	return rpc.Functions{
		"ping": func() string { return "pong" },
		"getComponentTree": func() any {
			if t := in.Tree(); t != nil {
				return t
			}
			return codec.Undefined{}
		},
		"getRenderStats": func() RenderStats { return in.Stats() },
		"getComponentNames": func() *codec.Set {
			names := codec.NewSet()
			if t := in.Tree(); t != nil {
				var walk func(*Node)
				walk = func(n *Node) {
					names.Add(n.Name)
					for _, c := range n.Children {
						walk(c)
					}
				}
				walk(t)
			}
			return names
		},
	}
}
