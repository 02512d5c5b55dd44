package utils_test

import (
	"testing"

	"github.com/jrsteele09/go-session-keeper/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestToStringSlice(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, utils.ToStringSlice([]any{"a", 1, "b", nil}))
	require.Nil(t, utils.ToStringSlice([]any{1, 2}))
	require.Nil(t, utils.ToStringSlice(nil))
}

func TestIntersects(t *testing.T) {
	require.True(t, utils.Intersects([]string{"admin", "staff"}, []string{"staff"}))
	require.False(t, utils.Intersects([]string{"admin"}, []string{"staff"}))
	require.False(t, utils.Intersects(nil, []string{"staff"}))
	require.False(t, utils.Intersects([]string{"staff"}, []string{}))
}
