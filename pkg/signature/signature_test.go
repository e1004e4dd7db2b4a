package signature_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pavex-go/pavexc/pkg/signature"
	"github.com/pavex-go/pavexc/pkg/types"
)

func TestMarkFallible(t *testing.T) {
	s := &signature.Signature{ImportPath: "app::build_state"}
	assert.False(t, s.IsFallible())

	ok := types.Path("app", []string{"State"})
	errT := types.Path("app", []string{"BuildError"})
	s.MarkFallible(ok, errT)

	assert.True(t, s.IsFallible())
	assert.True(t, types.Equal(s.Output, ok))
	assert.True(t, types.Equal(s.ErrType(), errT))

	res, ok2 := s.AsResult()
	assert.True(t, ok2)
	assert.True(t, types.Equal(res.OkType, ok))
}

func TestInputCaptureSupersetOfBorrow(t *testing.T) {
	in := signature.Input{Name: "body", Type: types.Scalar("str"), BorrowsFrom: true, Captures: true}
	assert.True(t, in.Captures)
	assert.True(t, in.BorrowsFrom)
}
