// Package ast defines the control-flow tree built from a flat step list and
// the linear execution plan produced by expanding it.
package ast

import (
	"time"

	"github.com/tombee/scriptflow/pkg/script"
)

// Kind is the discriminator of FlowType.
type Kind string

const (
	KindSequential  Kind = "sequential"
	KindLoop        Kind = "loop"
	KindConditional Kind = "conditional"
	KindTryCatch    Kind = "try_catch"
)

// Branch names used by conditional and try/catch nodes.
const (
	BranchThen   = "then"
	BranchElse   = "else"
	SectionTry   = "try"
	SectionCatch = "catch"
)

// FlowType is a tagged variant. Only the field matching Kind is set.
type FlowType struct {
	Kind        Kind          `json:"kind"`
	Loop        *LoopSpec     `json:"loop,omitempty"`
	Conditional *CondSpec     `json:"conditional,omitempty"`
	TryCatch    *TryCatchSpec `json:"try_catch,omitempty"`
}

// LoopSpec describes a loop node. Iterations must be > 0 unless IsInfinite,
// in which case the handler's cap replaces it.
type LoopSpec struct {
	LoopID     string `json:"loop_id"`
	Iterations int32  `json:"iterations"`
	IsInfinite bool   `json:"is_infinite"`
}

// CondSpec describes a conditional node. Branch is set on branch children
// ("then" or "else") and empty on the conditional itself.
type CondSpec struct {
	ConditionID string `json:"condition_id"`
	Condition   string `json:"condition,omitempty"`
	Branch      string `json:"branch,omitempty"`
}

// TryCatchSpec describes a try/catch node. Section is "try" or "catch" on
// section children and empty on the block itself.
type TryCatchSpec struct {
	TryID   string `json:"try_id"`
	Section string `json:"section,omitempty"`
}

// Sequential returns the FlowType of a plain step segment.
func Sequential() FlowType { return FlowType{Kind: KindSequential} }

// Loop returns the FlowType of a loop node.
func Loop(id string, iterations int32, infinite bool) FlowType {
	return FlowType{Kind: KindLoop, Loop: &LoopSpec{LoopID: id, Iterations: iterations, IsInfinite: infinite}}
}

// Conditional returns the FlowType of a conditional block or one of its branches.
func Conditional(id, condition, branch string) FlowType {
	return FlowType{Kind: KindConditional, Conditional: &CondSpec{ConditionID: id, Condition: condition, Branch: branch}}
}

// TryCatch returns the FlowType of a try/catch block or one of its sections.
func TryCatch(id, section string) FlowType {
	return FlowType{Kind: KindTryCatch, TryCatch: &TryCatchSpec{TryID: id, Section: section}}
}

// Metadata is descriptive information attached to a node by the parser.
type Metadata struct {
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	// SourceIndex is the position of the opening marker in the input, or -1
	SourceIndex int `json:"source_index"`
}

// Node is a control-flow tree node. Steps is the leaf payload attached
// directly to the node; Children are nested structures in source order.
type Node struct {
	ID       string        `json:"id"`
	FlowType FlowType      `json:"flow_type"`
	Children []*Node       `json:"children,omitempty"`
	Steps    []script.Step `json:"steps,omitempty"`
	Metadata Metadata      `json:"metadata"`
}

// NewNode returns a node with no children or steps.
func NewNode(id string, ft FlowType) *Node {
	return &Node{
		ID:       id,
		FlowType: ft,
		Metadata: Metadata{CreatedAt: time.Now(), SourceIndex: -1},
	}
}

// AddChild appends child and returns it.
func (n *Node) AddChild(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// Depth returns 1 for a leaf, otherwise 1 plus the deepest child.
func (n *Node) Depth() int {
	deepest := 0
	for _, c := range n.Children {
		if d := c.Depth(); d > deepest {
			deepest = d
		}
	}
	return 1 + deepest
}

// IsLoop reports whether n is a loop node.
func (n *Node) IsLoop() bool { return n.FlowType.Kind == KindLoop }

// IsSequential reports whether n is a plain step segment.
func (n *Node) IsSequential() bool { return n.FlowType.Kind == KindSequential }

// TotalStepCount returns the number of steps n expands to. Infinite loops
// count as infiniteCap iterations. Both branches of a conditional and both
// sections of a try/catch are counted.
func (n *Node) TotalStepCount(infiniteCap int32) int {
	count := len(n.Steps)
	for _, c := range n.Children {
		count += c.TotalStepCount(infiniteCap)
	}
	if n.IsLoop() {
		iterations := n.FlowType.Loop.Iterations
		if n.FlowType.Loop.IsInfinite {
			iterations = infiniteCap
		}
		if iterations < 0 {
			iterations = 0
		}
		count *= int(iterations)
	}
	return count
}

// Walk calls fn for n and every descendant in depth-first pre-order. fn
// receives the nesting depth of each node, with n at depth 0. Returning
// false skips the node's children.
func (n *Node) Walk(fn func(node *Node, depth int) bool) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int) bool, depth int) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// StructureCounts tallies control structures by kind.
type StructureCounts struct {
	Loops        int `json:"loops"`
	Conditionals int `json:"conditionals"`
	TryCatches   int `json:"try_catches"`
}

// Total returns the sum of all structure counts.
func (c StructureCounts) Total() int { return c.Loops + c.Conditionals + c.TryCatches }

// CountStructures counts loop, conditional and try/catch blocks below n.
// Branch and section children are not counted separately.
func CountStructures(n *Node) StructureCounts {
	var counts StructureCounts
	n.Walk(func(node *Node, _ int) bool {
		switch node.FlowType.Kind {
		case KindLoop:
			counts.Loops++
		case KindConditional:
			if node.FlowType.Conditional.Branch == "" {
				counts.Conditionals++
			}
		case KindTryCatch:
			if node.FlowType.TryCatch.Section == "" {
				counts.TryCatches++
			}
		}
		return true
	})
	return counts
}

// MaxNesting returns the deepest stack of control structures below n.
// Sequential segments and branch/section children do not add a level.
func MaxNesting(n *Node) int {
	deepest := 0
	for _, c := range n.Children {
		if d := MaxNesting(c); d > deepest {
			deepest = d
		}
	}
	if isStructure(n) {
		return deepest + 1
	}
	return deepest
}

func isStructure(n *Node) bool {
	switch n.FlowType.Kind {
	case KindLoop:
		return true
	case KindConditional:
		return n.FlowType.Conditional.Branch == ""
	case KindTryCatch:
		return n.FlowType.TryCatch.Section == ""
	}
	return false
}
