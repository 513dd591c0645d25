package serviceutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvOverride(t *testing.T) {
	host := "localhost"
	t.Setenv("POSTGRES_HOST", "")
	EnvOverride(&host, "POSTGRES_HOST")
	require.Equal(t, "localhost", host)

	t.Setenv("POSTGRES_HOST", "db.internal")
	EnvOverride(&host, "POSTGRES_HOST")
	require.Equal(t, "db.internal", host)

	port := 5432
	EnvOverrideInt(&port, "POSTGRES_PORT_UNSET")
	require.Equal(t, 5432, port)
	t.Setenv("POSTGRES_PORT", "5433")
	EnvOverrideInt(&port, "POSTGRES_PORT")
	require.Equal(t, 5433, port)
}
