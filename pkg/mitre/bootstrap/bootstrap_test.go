package bootstrap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leehambley/mitre/pkg/mitre/bootstrap"
)

func TestMigrations_BindsToGivenConfigurationName(t *testing.T) {
	migrations := bootstrap.Migrations("mitre")
	require.Len(t, migrations, 1)
	assert.Equal(t, "mitre", migrations[0].ConfigurationName)
	assert.True(t, migrations[0].BuiltIn)
	assert.Equal(t, bootstrap.LedgerSchemaVersion, migrations[0].Version)
}

func TestIsReserved(t *testing.T) {
	assert.True(t, bootstrap.IsReserved(bootstrap.ReservedPrefixStart))
	assert.True(t, bootstrap.IsReserved(bootstrap.ReservedPrefixEnd))
	assert.True(t, bootstrap.IsReserved(50))
	assert.False(t, bootstrap.IsReserved(0))
	assert.False(t, bootstrap.IsReserved(20210101000000))
}
