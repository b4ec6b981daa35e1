package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageKey(t *testing.T) {
	data := []byte("same photo")

	a := ImageKey(7, data, ".PNG")
	b := ImageKey(7, data, "png")
	c := ImageKey(8, data, "png")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "users/7/"))
	assert.True(t, strings.HasSuffix(a, ".png"))
	assert.True(t, strings.HasSuffix(ImageKey(1, data, ""), ".bin"))
}

func TestNewImageStore(t *testing.T) {
	t.Run("filesystem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FilesystemRoot = t.TempDir()

		store, err := NewImageStore(context.Background(), cfg)
		require.NoError(t, err)
		assert.IsType(t, &FilesystemImageStore{}, store)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewImageStore(context.Background(), Config{Type: "ftp"})
		assert.Error(t, err)
	})
}
