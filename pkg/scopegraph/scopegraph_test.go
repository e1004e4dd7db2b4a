package scopegraph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pavex-go/pavexc/pkg/scopegraph"
)

func TestAncestry(t *testing.T) {
	g := scopegraph.New()
	child := g.NewChild(scopegraph.Root)
	grandchild := g.NewChild(child)
	sibling := g.NewChild(scopegraph.Root)

	assert.True(t, g.IsAncestor(scopegraph.Root, grandchild))
	assert.True(t, g.IsAncestor(child, grandchild))
	assert.False(t, g.IsAncestor(sibling, grandchild))
	assert.True(t, g.IsAncestor(grandchild, grandchild))
}

func TestNearestCommonAncestor(t *testing.T) {
	g := scopegraph.New()
	child := g.NewChild(scopegraph.Root)
	a := g.NewChild(child)
	b := g.NewChild(child)
	assert.Equal(t, child, g.NearestCommonAncestor(a, b))

	sibling := g.NewChild(scopegraph.Root)
	assert.Equal(t, scopegraph.Root, g.NearestCommonAncestor(a, sibling))
}
