package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipal_Require(t *testing.T) {
	p := Principal{SubjectID: "s1", Role: RoleSeller}

	require.NoError(t, p.Require(RoleSeller, RoleAdmin))
	require.ErrorIs(t, p.Require(RoleAdmin), ErrForbidden)
	assert.False(t, p.Is())
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{SubjectID: "u1", Role: RoleUser})
	p, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", p.SubjectID)
	assert.Equal(t, RoleUser, p.Role)
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleSeller, RoleDelivery, RoleAdmin} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Role("root").Valid())
}

func TestHashKey(t *testing.T) {
	a := HashKey([]byte("pepper"), "key-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashKey([]byte("pepper"), "key-1"))
	assert.NotEqual(t, a, HashKey([]byte("other"), "key-1"))
	assert.NotEqual(t, a, HashKey([]byte("pepper"), "key-2"))
}
