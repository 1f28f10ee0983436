package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Conditional paths record which branches and try/catch sections enclose a
// linear step, outermost first, separated by "/":
//
//	if:C1:then
//	try:T1/if:C2:else@3
//
// Each enclosing loop appends "@<iteration>" to the segments it repeats, so
// every block instance gets a distinct key.

// SegmentKind identifies a path segment.
type SegmentKind string

const (
	SegmentIf    SegmentKind = "if"
	SegmentTry   SegmentKind = "try"
	SegmentCatch SegmentKind = "catch"
)

// ReservedIDChars may not appear in conditional or try block ids.
const ReservedIDChars = ":/@"

// PathSegment is one element of a conditional path.
type PathSegment struct {
	Kind    SegmentKind
	BlockID string
	// Branch is "then" or "else" for SegmentIf
	Branch string
	// Instance holds the loop qualifiers, e.g. "@2@1"
	Instance string
}

// String formats the segment.
func (s PathSegment) String() string {
	switch {
	case s.Kind == SegmentIf:
		return fmt.Sprintf("if:%s:%s%s", s.BlockID, s.Branch, s.Instance)
	case s.BlockID == "":
		return string(s.Kind) + s.Instance
	}
	return fmt.Sprintf("%s:%s%s", s.Kind, s.BlockID, s.Instance)
}

// IsControl reports whether the segment is an if, try or catch segment.
// Other kinds are tags set by caller-registered handlers and carry no
// run-time routing.
func (s PathSegment) IsControl() bool { return isControlKind(s.Kind) }

func isControlKind(k SegmentKind) bool {
	switch k {
	case SegmentIf, SegmentTry, SegmentCatch:
		return true
	}
	return false
}

// Key identifies the block instance the segment belongs to.
func (s PathSegment) Key() string { return s.BlockID + s.Instance }

// IfSegment returns the path segment of a conditional branch.
func IfSegment(conditionID, branch string) string {
	return PathSegment{Kind: SegmentIf, BlockID: conditionID, Branch: branch}.String()
}

// TrySegment returns the path segment of a try or catch section.
func TrySegment(tryID, section string) string {
	kind := SegmentTry
	if section == SectionCatch {
		kind = SegmentCatch
	}
	return PathSegment{Kind: kind, BlockID: tryID}.String()
}

// ParsePath splits a conditional path into segments. Segments of unknown
// kinds are kept as opaque tags; malformed if, try and catch segments are
// errors.
func ParsePath(path string) ([]PathSegment, error) {
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, "/")
	out := make([]PathSegment, 0, len(parts))
	for _, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

func parseSegment(part string) (PathSegment, error) {
	var seg PathSegment
	if at := strings.IndexByte(part, '@'); at >= 0 {
		seg.Instance = part[at:]
		part = part[:at]
	}
	fields := strings.Split(part, ":")
	switch {
	case len(fields) == 3 && fields[0] == string(SegmentIf):
		seg.Kind, seg.BlockID, seg.Branch = SegmentIf, fields[1], fields[2]
	case len(fields) == 2 && (fields[0] == string(SegmentTry) || fields[0] == string(SegmentCatch)):
		seg.Kind, seg.BlockID = SegmentKind(fields[0]), fields[1]
	case fields[0] == "" || isControlKind(SegmentKind(fields[0])):
		return seg, fmt.Errorf("malformed conditional path segment %q", part)
	default:
		seg.Kind, seg.BlockID = SegmentKind(fields[0]), strings.Join(fields[1:], ":")
	}
	return seg, nil
}

// JoinPath prefixes inner with outer. A nil inner yields outer.
func JoinPath(outer string, inner *string) string {
	if inner == nil || *inner == "" {
		return outer
	}
	if outer == "" {
		return *inner
	}
	return outer + "/" + *inner
}

// QualifyPath appends "@iteration" to every segment of path.
func QualifyPath(path string, iteration int32) string {
	if path == "" {
		return ""
	}
	suffix := "@" + strconv.Itoa(int(iteration))
	parts := strings.Split(path, "/")
	for i := range parts {
		parts[i] += suffix
	}
	return strings.Join(parts, "/")
}
