package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathRoundTrip(t *testing.T) {
	inner := IfSegment("C2", BranchElse)
	path := JoinPath(TrySegment("T1", SectionTry), &inner)
	path = QualifyPath(path, 3)
	assert.Equal(t, "try:T1@3/if:C2:else@3", path)

	segs, err := ParsePath(path)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, PathSegment{Kind: SegmentTry, BlockID: "T1", Instance: "@3"}, segs[0])
	assert.Equal(t, PathSegment{Kind: SegmentIf, BlockID: "C2", Branch: BranchElse, Instance: "@3"}, segs[1])
	assert.Equal(t, "C2@3", segs[1].Key())
	assert.Equal(t, "if:C2:else@3", segs[1].String())
}

func TestQualifyPath_Nested(t *testing.T) {
	p := QualifyPath(QualifyPath(IfSegment("C1", BranchThen), 2), 1)
	assert.Equal(t, "if:C1:then@2@1", p)

	segs, err := ParsePath(p)
	require.NoError(t, err)
	assert.Equal(t, "C1@2@1", segs[0].Key())
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "catch:T1", JoinPath(TrySegment("T1", SectionCatch), nil))
	empty := ""
	assert.Equal(t, "x", JoinPath("x", &empty))
	inner := "if:C:then"
	assert.Equal(t, "if:C:then", JoinPath("", &inner))
}

func TestParsePath_Errors(t *testing.T) {
	segs, err := ParsePath("")
	assert.NoError(t, err)
	assert.Nil(t, segs)

	for _, bad := range []string{"if:C1", "try:T1:x", "catch", "if:C1:then//try:T1", ":P1"} {
		_, err = ParsePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePath_ForeignSegments(t *testing.T) {
	segs, err := ParsePath("parallel:P1@2/if:C1:then@2")
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, PathSegment{Kind: "parallel", BlockID: "P1", Instance: "@2"}, segs[0])
	assert.False(t, segs[0].IsControl())
	assert.Equal(t, "parallel:P1@2", segs[0].String())
	assert.True(t, segs[1].IsControl())

	segs, err = ParsePath("batch")
	require.NoError(t, err)
	assert.Equal(t, "batch", segs[0].String())
}
