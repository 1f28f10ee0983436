package handler

import (
	"context"
	"log/slog"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/scope"
	"github.com/tombee/scriptflow/pkg/script"
)

// expandSection linearizes one branch or section of a block. Direct steps
// are tagged with segment and params; nested structures go through
// cfg.Dispatch and have segment prefixed to their paths.
func expandSection(
	ctx context.Context,
	logger *slog.Logger,
	block, section *ast.Node,
	sc *scope.Context,
	cfg Config,
	segment string,
	params map[string]any,
) ([]ast.LinearStep, int, error) {
	var out []ast.LinearStep
	original := 0

	for _, child := range section.Children {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if child.IsSequential() {
			for _, st := range child.Steps {
				original++
				c := st.Clone()
				for k, v := range params {
					c.SetParam(k, v)
				}
				c.SetParam(script.ParamOriginalStepID, st.ID)
				path := segment
				out = append(out, ast.LinearStep{
					Step: c,
					Context: ast.StepContext{
						SourceNodeID:    block.ID,
						ConditionalPath: &path,
						NestingLevel:    sc.CurrentDepth(),
					},
				})
			}
			continue
		}

		if cfg.Dispatch == nil {
			logger.Warn("skipping nested structure without dispatcher",
				"block_id", block.ID,
				"child_id", child.ID,
				"kind", child.FlowType.Kind)
			continue
		}
		sub, err := cfg.Dispatch(ctx, child, sc)
		if err != nil {
			return nil, 0, err
		}
		original += len(sub)
		for _, ls := range sub {
			path := ast.JoinPath(segment, ls.Context.ConditionalPath)
			ls.Context.ConditionalPath = &path
			out = append(out, ls)
		}
	}
	return out, original, nil
}

// sections returns the branch or section children of a block node.
func sections(block *ast.Node, kind ast.Kind) []*ast.Node {
	var out []*ast.Node
	for _, c := range block.Children {
		if c.FlowType.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func sectionSteps(section *ast.Node) int {
	n := 0
	for _, c := range section.Children {
		n += c.TotalStepCount(DefaultInfiniteLoopCap)
	}
	return n
}
