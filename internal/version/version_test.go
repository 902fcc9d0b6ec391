package version

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func withVersion(t *testing.T, v string) {
	t.Helper()
	orig := Version
	Version = v
	t.Cleanup(func() { Version = orig })
}

func TestStringDefaultsToDev(t *testing.T) {
	withVersion(t, "  ")
	assert.Equal(t, "dev", String())
}

func TestColoredWithoutColor(t *testing.T) {
	orig := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = orig })

	withVersion(t, "1.2.3-rc1")
	assert.Equal(t, "1.2.3-rc1", Colored())

	withVersion(t, "nightly")
	assert.Equal(t, "nightly", Colored())
}

func TestColoredHighlightsComponents(t *testing.T) {
	orig := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = orig })

	withVersion(t, "1.2.3")
	out := Colored()
	assert.NotEqual(t, "1.2.3", out)
	assert.Contains(t, out, "\x1b[")
}
