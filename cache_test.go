package acdat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeWindow(t *testing.T) {
	t.Run("disabled window is nil and inert", func(t *testing.T) {
		w, err := newNodeWindow(0)
		require.NoError(t, err)
		assert.Nil(t, w)

		w.add(0x400, &nodeHeader{})
		_, ok := w.lookup(0x400)
		assert.False(t, ok)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		w, err := newNodeWindow(2)
		require.NoError(t, err)

		h1, h2, h3 := &nodeHeader{}, &nodeHeader{kind: NodeInternal}, &nodeHeader{}
		w.add(1, h1)
		w.add(2, h2)
		got, ok := w.lookup(1)
		require.True(t, ok)
		assert.Same(t, h1, got)

		w.add(3, h3)
		_, ok = w.lookup(2)
		assert.False(t, ok, "2 was least recently used")
		_, ok = w.lookup(1)
		assert.True(t, ok)
		_, ok = w.lookup(3)
		assert.True(t, ok)
	})
}

func TestAssetCache(t *testing.T) {
	t.Run("disabled cache is nil and inert", func(t *testing.T) {
		c, err := newAssetCache(-1)
		require.NoError(t, err)
		assert.Nil(t, c)

		c.add(TextureBase, &AssetPayload{})
		_, ok := c.lookup(TextureBase)
		assert.False(t, ok)
		assert.Zero(t, c.len())
	})

	t.Run("bounded", func(t *testing.T) {
		c, err := newAssetCache(4)
		require.NoError(t, err)
		for i := range 10 {
			c.add(TextureBase+ObjectID(i), &AssetPayload{Width: uint32(i)})
		}
		assert.Equal(t, 4, c.len())

		p, ok := c.lookup(TextureBase + 9)
		require.True(t, ok)
		assert.Equal(t, uint32(9), p.Width)
	})
}
