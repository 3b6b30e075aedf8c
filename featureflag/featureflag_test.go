package featureflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureFlag(t *testing.T) {
	f := New([]string{"feature1"})

	t.Run("run if enabled", func(t *testing.T) {
		var runFeature1 bool
		f.IfSet("FEATURE1", func() {
			runFeature1 = true
		})
		require.True(t, runFeature1)

		var runFeature2 bool
		f.IfSet("FEATURE2", func() {
			runFeature2 = true
		})
		require.False(t, runFeature2)
	})

	t.Run("run if disabled", func(t *testing.T) {
		var runFeature1 bool
		f.IfNotSet("FEATURE1", func() {
			runFeature1 = true
		})
		require.False(t, runFeature1)

		var runFeature2 bool
		f.IfNotSet("FEATURE2", func() {
			runFeature2 = true
		})
		require.True(t, runFeature2)
	})

	t.Run("has", func(t *testing.T) {
		require.True(t, f.Has("FEATURE1"))
		require.False(t, f.Has(FlagDisableCulling))
	})
}

func TestNewNormalizesFlags(t *testing.T) {
	f := New([]string{" disable_culling", "", "  ", "DISABLE_SHADOWS", "disable_shadows"})

	require.True(t, f.Has(FlagDisableCulling))
	require.True(t, f.Has(FlagDisableShadows))
	require.False(t, f.Has(FlagDisableVisibilityCache))
	require.Equal(t, []string{"DISABLE_CULLING", "DISABLE_SHADOWS"}, f.Flags())

	require.Empty(t, New(nil).Flags())
}
