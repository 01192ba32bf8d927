package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Men's Shirts":     "men-s-shirts",
		"  Shoes & Bags  ": "shoes-bags",
		"Summer 2026":      "summer-2026",
		"---":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestNormalize(t *testing.T) {
	c := Category{Name: "  Home Decor "}
	require.NoError(t, c.Normalize())
	assert.Equal(t, "Home Decor", c.Name)
	assert.Equal(t, "home-decor", c.Slug)

	c = Category{Name: "Kids", Slug: "children"}
	require.NoError(t, c.Normalize())
	assert.Equal(t, "children", c.Slug)

	c = Category{Name: " "}
	require.ErrorIs(t, c.Normalize(), ErrInvalid)
}
