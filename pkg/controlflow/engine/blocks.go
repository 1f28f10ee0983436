package engine

import (
	"fmt"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
)

// VarConditionPrefix prefixes the variable holding a conditional's result.
const VarConditionPrefix = "__condition_"

// blocks tracks the run-time state of conditional and try/catch instances.
// Instances are keyed by block id plus loop qualification, so each loop
// iteration of a block is decided independently.
type blocks struct {
	// taken branch per conditional instance; "" when evaluation failed
	branches map[string]string
	failed   map[string]bool
}

func newBlocks() *blocks {
	return &blocks{
		branches: make(map[string]string),
		failed:   make(map[string]bool),
	}
}

// decideFunc evaluates the condition of a conditional instance and returns
// the branch to take.
type decideFunc func(seg ast.PathSegment) (string, error)

// route walks segs from the outermost block inward. It returns a skip
// reason, or the index of the segment whose condition failed to evaluate
// together with that error. Inner conditions are only evaluated once every
// enclosing block has admitted the step.
func (b *blocks) route(segs []ast.PathSegment, decide decideFunc) (string, int, error) {
	for i, seg := range segs {
		key := seg.Key()
		switch seg.Kind {
		case ast.SegmentIf:
			taken, ok := b.branches[key]
			if !ok {
				var err error
				taken, err = decide(seg)
				b.branches[key] = taken
				if err != nil {
					return "", i, err
				}
			}
			if taken == "" {
				return fmt.Sprintf("condition %s could not be evaluated", seg.BlockID), i, nil
			}
			if taken != seg.Branch {
				return fmt.Sprintf("condition %s took the %s branch", seg.BlockID, taken), i, nil
			}
		case ast.SegmentTry:
			if b.failed[key] {
				return fmt.Sprintf("try block %s already failed", seg.BlockID), i, nil
			}
		case ast.SegmentCatch:
			if !b.failed[key] {
				return fmt.Sprintf("try block %s succeeded", seg.BlockID), i, nil
			}
		}
	}
	return "", -1, nil
}

// innermostTry returns the instance key of the innermost try section in segs.
func innermostTry(segs []ast.PathSegment) (string, bool) {
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i].Kind == ast.SegmentTry {
			return segs[i].Key(), true
		}
	}
	return "", false
}
