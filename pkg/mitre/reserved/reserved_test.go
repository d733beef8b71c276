package reserved_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leehambley/mitre/pkg/mitre/reserved"
)

func TestLookup_KnownWord(t *testing.T) {
	w, ok := reserved.Lookup("mysql")
	assert.True(t, ok)
	assert.Equal(t, reserved.KindRunner, w.Kind)
}

func TestLookup_UnknownWord(t *testing.T) {
	_, ok := reserved.Lookup("appdb")
	assert.False(t, ok)
}

func TestIsFlaggable(t *testing.T) {
	assert.True(t, reserved.IsFlaggable("data"))
	assert.True(t, reserved.IsFlaggable("risky"))
	assert.True(t, reserved.IsFlaggable("anything_else"))
	assert.False(t, reserved.IsFlaggable("up"))
	assert.False(t, reserved.IsFlaggable("mysql"))
}

func TestIsValidConfigurationName(t *testing.T) {
	assert.True(t, reserved.IsValidConfigurationName("appdb"))
	assert.False(t, reserved.IsValidConfigurationName("curl"))
	assert.False(t, reserved.IsValidConfigurationName("data"))
}

func TestDefaultDisallowedTags(t *testing.T) {
	_, dataDisallowed := reserved.DefaultDisallowedTags["data"]
	_, riskyDisallowed := reserved.DefaultDisallowedTags["risky"]
	_, longDisallowed := reserved.DefaultDisallowedTags["long"]
	assert.True(t, dataDisallowed)
	assert.True(t, riskyDisallowed)
	assert.True(t, longDisallowed)
}

func TestAll_ContainsEveryKind(t *testing.T) {
	kinds := map[reserved.Kind]bool{}
	for _, w := range reserved.All() {
		kinds[w.Kind] = true
	}
	assert.True(t, kinds[reserved.KindRunner])
	assert.True(t, kinds[reserved.KindDirection])
	assert.True(t, kinds[reserved.KindFlag])
}
