// Package parser builds a control-flow tree from a flat, marker-delimited
// step list.
//
// Parsing is a single left-to-right scan with an explicit stack of open
// structures. Leaf steps are collected into Sequential segments of the
// innermost open structure so their order relative to nested structures is
// preserved:
//
//	root (sequential)
//	├── seq_1            [stepA]
//	├── L1 (loop x3)
//	│   ├── L1_body_1    [stepB stepC]
//	│   └── L2 (loop x2)
//	│       └── L2_body_1 [stepD]
//	└── seq_2            [stepE]
//
// Conditionals and try/catch blocks get one child per branch or section,
// each laid out the same way.
package parser

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/spf13/cast"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/errors"
	"github.com/tombee/scriptflow/pkg/script"
)

// RootID is the id of the tree root.
const RootID = "root"

// DefaultLoopCount is used when a loop_start carries no loop_count.
const DefaultLoopCount = 3

// Config controls parsing.
type Config struct {
	// ValidateNesting enables the MaxNestingDepth check
	ValidateNesting bool `yaml:"validate_nesting" json:"validate_nesting"`

	// MaxNestingDepth is the maximum number of simultaneously open structures
	MaxNestingDepth int `yaml:"max_nesting_depth" json:"max_nesting_depth"`

	// AllowUnmatched closes structures still open at end of input instead of
	// failing. End markers without a matching start always fail.
	AllowUnmatched bool `yaml:"allow_unmatched" json:"allow_unmatched"`
}

// DefaultConfig returns strict parsing with a nesting limit of 10.
func DefaultConfig() Config {
	return Config{
		ValidateNesting: true,
		MaxNestingDepth: 10,
	}
}

// Stats describes the last Parse call.
type Stats struct {
	StructuresParsed int      `json:"structures_parsed"`
	MaxNestingFound  int      `json:"max_nesting_found"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Parser converts step lists into control-flow trees. A Parser is not safe
// for concurrent use; Stats reflects the most recent Parse.
type Parser struct {
	config Config
	logger *slog.Logger
	stats  Stats
}

// New creates a parser.
func New(cfg Config) *Parser {
	return &Parser{
		config: cfg,
		logger: slog.Default(),
	}
}

// WithLogger sets the parser's logger.
func (p *Parser) WithLogger(logger *slog.Logger) *Parser {
	p.logger = logger
	return p
}

// Stats returns statistics from the most recent Parse.
func (p *Parser) Stats() Stats { return p.stats }

// frame is an open structure on the parse stack.
type frame struct {
	kind ast.Kind
	id   string
	node *ast.Node

	// container receives segments and nested structures: the loop node
	// itself, or the current branch/section child
	container *ast.Node
	section   string
	segment   *ast.Node
	segments  int
	index     int
	step      script.Step
}

// Parse builds the tree for steps.
func (p *Parser) Parse(steps []script.Step) (*ast.Node, error) {
	p.stats = Stats{}

	root := ast.NewNode(RootID, ast.Sequential())
	root.Metadata.Name = "root"
	stack := []*frame{{kind: ast.KindSequential, id: RootID, node: root, container: root, index: -1}}
	blockIDs := make(map[string]int)

	for i, step := range steps {
		top := stack[len(stack)-1]

		switch step.Type {
		case script.StepTypeLoopStart, script.StepTypeIfStart, script.StepTypeTryStart:
			f, err := p.open(step, i, blockIDs)
			if err != nil {
				return nil, err
			}
			if p.config.ValidateNesting && len(stack) > p.config.MaxNestingDepth {
				return nil, &errors.ParseError{
					Kind:     errors.NestingTooDeep,
					MarkerID: f.id,
					StepID:   step.ID,
					Index:    i,
					Message:  fmt.Sprintf("nesting depth %d exceeds limit %d", len(stack), p.config.MaxNestingDepth),
					Hint:     "flatten the script or raise parser.max_nesting_depth",
				}
			}
			top.container.AddChild(f.node)
			top.segment = nil
			stack = append(stack, f)
			p.stats.StructuresParsed++
			if depth := len(stack) - 1; depth > p.stats.MaxNestingFound {
				p.stats.MaxNestingFound = depth
			}

		case script.StepTypeElse, script.StepTypeCatch:
			id, err := p.markerID(step, i)
			if err != nil {
				return nil, err
			}
			if err := p.switchSection(stack, step, i, id); err != nil {
				return nil, err
			}

		case script.StepTypeLoopEnd, script.StepTypeIfEnd, script.StepTypeTryEnd:
			id, err := p.markerID(step, i)
			if err != nil {
				return nil, err
			}
			kind := kindOf(step.Type)
			if len(stack) == 1 {
				return nil, &errors.ParseError{
					Kind:     errors.UnmatchedMarker,
					MarkerID: id,
					StepID:   step.ID,
					Index:    i,
					Message:  fmt.Sprintf("%s %q has no matching start marker", step.Type, id),
					Hint:     fmt.Sprintf("add a %s marker for %q before this step or remove it", startOf(kind), id),
				}
			}
			if top.kind != kind || top.id != id {
				return nil, p.mismatch(stack, step, i, id)
			}
			stack = stack[:len(stack)-1]
			stack[len(stack)-1].segment = nil

		default:
			p.appendLeaf(top, step)
		}
	}

	if len(stack) > 1 {
		open := stack[len(stack)-1]
		if !p.config.AllowUnmatched {
			return nil, &errors.ParseError{
				Kind:     errors.UnmatchedStructure,
				MarkerID: open.id,
				StepID:   open.step.ID,
				Index:    -1,
				Message:  fmt.Sprintf("%d structure(s) not closed; innermost is %s %q opened at step %d", len(stack)-1, open.kind, open.id, open.index),
				Hint:     fmt.Sprintf("add an end marker for %q", open.id),
			}
		}
		for j := len(stack) - 1; j > 0; j-- {
			msg := fmt.Sprintf("%s %q opened at step %d closed implicitly at end of script", stack[j].kind, stack[j].id, stack[j].index)
			p.stats.Warnings = append(p.stats.Warnings, msg)
			p.logger.Warn("unclosed structure", "kind", stack[j].kind, "id", stack[j].id, "index", stack[j].index)
		}
	}

	p.logger.Debug("parsed script",
		"steps", len(steps),
		"structures", p.stats.StructuresParsed,
		"max_nesting", p.stats.MaxNestingFound)
	return root, nil
}

func (p *Parser) open(step script.Step, index int, blockIDs map[string]int) (*frame, error) {
	id, err := p.markerID(step, index)
	if err != nil {
		return nil, err
	}

	f := &frame{id: id, index: index, step: step}
	switch step.Type {
	case script.StepTypeLoopStart:
		iterations, infinite, err := loopParams(step, index)
		if err != nil {
			return nil, err
		}
		f.kind = ast.KindLoop
		f.node = ast.NewNode(id, ast.Loop(id, iterations, infinite))
		f.node.Metadata.Name = "Loop " + id
		f.container = f.node

	case script.StepTypeIfStart:
		if err := checkBlockID(step, index, id, blockIDs); err != nil {
			return nil, err
		}
		condition, _ := step.Param(script.ParamCondition)
		expr := cast.ToString(condition)
		f.kind = ast.KindConditional
		f.node = ast.NewNode(id, ast.Conditional(id, expr, ""))
		f.node.Metadata.Name = "If " + id
		f.section = ast.BranchThen
		f.container = f.node.AddChild(ast.NewNode(id+"_"+ast.BranchThen, ast.Conditional(id, expr, ast.BranchThen)))

	case script.StepTypeTryStart:
		if err := checkBlockID(step, index, id, blockIDs); err != nil {
			return nil, err
		}
		f.kind = ast.KindTryCatch
		f.node = ast.NewNode(id, ast.TryCatch(id, ""))
		f.node.Metadata.Name = "Try " + id
		f.section = ast.SectionTry
		f.container = f.node.AddChild(ast.NewNode(id+"_"+ast.SectionTry, ast.TryCatch(id, ast.SectionTry)))
	}

	f.node.Metadata.Description = step.Description
	f.node.Metadata.SourceIndex = index
	return f, nil
}

// switchSection moves an open conditional to its else branch or an open
// try block to its catch section.
func (p *Parser) switchSection(stack []*frame, step script.Step, index int, id string) error {
	top := stack[len(stack)-1]
	kind := kindOf(step.Type)
	if len(stack) == 1 || top.kind != kind || top.id != id {
		return p.mismatch(stack, step, index, id)
	}

	var next string
	var ft ast.FlowType
	switch step.Type {
	case script.StepTypeElse:
		next = ast.BranchElse
		ft = ast.Conditional(id, top.node.FlowType.Conditional.Condition, next)
	default:
		next = ast.SectionCatch
		ft = ast.TryCatch(id, next)
	}
	if top.section == next {
		return &errors.ParseError{
			Kind:     errors.InvalidMarker,
			MarkerID: id,
			StepID:   step.ID,
			Index:    index,
			Message:  fmt.Sprintf("%q already has a %s section", id, next),
		}
	}

	top.section = next
	top.container = top.node.AddChild(ast.NewNode(id+"_"+next, ft))
	top.segment = nil
	top.segments = 0
	return nil
}

func (p *Parser) appendLeaf(top *frame, step script.Step) {
	if top.segment == nil {
		top.segments++
		var id string
		switch top.kind {
		case ast.KindSequential:
			id = fmt.Sprintf("seq_%d", top.segments)
		case ast.KindLoop:
			id = fmt.Sprintf("%s_body_%d", top.id, top.segments)
		default:
			id = fmt.Sprintf("%s_%s_%d", top.id, top.section, top.segments)
		}
		top.segment = top.container.AddChild(ast.NewNode(id, ast.Sequential()))
	}
	top.segment.Steps = append(top.segment.Steps, step)
}

func (p *Parser) mismatch(stack []*frame, step script.Step, index int, id string) error {
	top := stack[len(stack)-1]
	open := make([]string, 0, len(stack)-1)
	for _, f := range stack[1:] {
		open = append(open, f.id)
	}

	expected := "no open structure"
	if len(stack) > 1 {
		expected = fmt.Sprintf("open %s %q", top.kind, top.id)
	}
	return &errors.ParseError{
		Kind:     errors.UnmatchedMarker,
		MarkerID: id,
		StepID:   step.ID,
		Index:    index,
		Message:  fmt.Sprintf("%s %q does not match %s", step.Type, id, expected),
		Hint:     suggest(id, open),
	}
}

// suggest picks the open id closest to id.
func suggest(id string, open []string) string {
	if len(open) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindNormalizedFold(id, open)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return fmt.Sprintf("did you mean %q?", ranks[0].Target)
	}
	return fmt.Sprintf("the innermost open structure is %q", open[len(open)-1])
}

func (p *Parser) markerID(step script.Step, index int) (string, error) {
	key := idParam(step.Type)
	raw, ok := step.Param(key)
	id, err := cast.ToStringE(raw)
	if !ok || err != nil || id == "" {
		return "", &errors.ParseError{
			Kind:    errors.InvalidMarker,
			StepID:  step.ID,
			Index:   index,
			Message: fmt.Sprintf("%s marker requires a %s parameter", step.Type, key),
			Hint:    fmt.Sprintf("set parameters.%s", key),
		}
	}
	return id, nil
}

func loopParams(step script.Step, index int) (int32, bool, error) {
	iterations := int32(DefaultLoopCount)
	if raw, ok := step.Param(script.ParamLoopCount); ok && raw != nil {
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return 0, false, &errors.ParseError{
				Kind:    errors.InvalidMarker,
				StepID:  step.ID,
				Index:   index,
				Message: fmt.Sprintf("loop_count %v is not an integer", raw),
			}
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false, &errors.ParseError{
				Kind:    errors.InvalidMarker,
				StepID:  step.ID,
				Index:   index,
				Message: fmt.Sprintf("loop_count %d is out of range", n),
				Hint:    fmt.Sprintf("use at most %d iterations", math.MaxInt32),
			}
		}
		iterations = int32(n)
	}

	infinite := false
	if raw, ok := step.Param(script.ParamInfinite); ok && raw != nil {
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return 0, false, &errors.ParseError{
				Kind:    errors.InvalidMarker,
				StepID:  step.ID,
				Index:   index,
				Message: fmt.Sprintf("is_infinite_loop %v is not a boolean", raw),
			}
		}
		infinite = b
	}
	return iterations, infinite, nil
}

// checkBlockID enforces unique conditional and try ids free of the
// characters used by conditional paths.
func checkBlockID(step script.Step, index int, id string, blockIDs map[string]int) error {
	if strings.ContainsAny(id, ast.ReservedIDChars) {
		return &errors.ParseError{
			Kind:     errors.InvalidMarker,
			MarkerID: id,
			StepID:   step.ID,
			Index:    index,
			Message:  fmt.Sprintf("block id %q contains one of %q", id, ast.ReservedIDChars),
		}
	}
	if prev, ok := blockIDs[id]; ok {
		return &errors.ParseError{
			Kind:     errors.InvalidMarker,
			MarkerID: id,
			StepID:   step.ID,
			Index:    index,
			Message:  fmt.Sprintf("block id %q already used at step %d", id, prev),
			Hint:     "give every conditional and try block a unique id",
		}
	}
	blockIDs[id] = index
	return nil
}

func idParam(t script.StepType) string {
	switch kindOf(t) {
	case ast.KindConditional:
		return script.ParamConditionID
	case ast.KindTryCatch:
		return script.ParamTryID
	default:
		return script.ParamLoopID
	}
}

func kindOf(t script.StepType) ast.Kind {
	switch t {
	case script.StepTypeLoopStart, script.StepTypeLoopEnd:
		return ast.KindLoop
	case script.StepTypeIfStart, script.StepTypeElse, script.StepTypeIfEnd:
		return ast.KindConditional
	case script.StepTypeTryStart, script.StepTypeCatch, script.StepTypeTryEnd:
		return ast.KindTryCatch
	}
	return ast.KindSequential
}

func startOf(k ast.Kind) script.StepType {
	switch k {
	case ast.KindConditional:
		return script.StepTypeIfStart
	case ast.KindTryCatch:
		return script.StepTypeTryStart
	default:
		return script.StepTypeLoopStart
	}
}
