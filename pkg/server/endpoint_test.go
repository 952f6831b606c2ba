package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, ":0", Normalize(""))
	require.Equal(t, ":8080", Normalize("8080"))
	require.Equal(t, ":9090", Normalize(":9090"))
}
