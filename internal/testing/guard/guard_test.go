package guard

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardSetsTestEnvironment(t *testing.T) {
	require.Equal(t, "1", os.Getenv("RESTOPOS_TEST_MODE"))
	require.NotEmpty(t, os.Getenv("JWT_SECRET"))
}
