package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourcePath(t *testing.T) {
	t.Run("gzip file", func(t *testing.T) {
		src, err := ParseSourcePath("data/raw/2010/010010-99999-2010.op.gz")
		require.NoError(t, err)
		assert.Equal(t, "010010", src.USAF)
		assert.Equal(t, "99999", src.WBAN)
		assert.Equal(t, 2010, src.Year)
		assert.Equal(t, "010010-99999-2010", src.Key())
		assert.Equal(t, "data/raw/2010/010010-99999-2010.op.gz", src.Path)
	})

	t.Run("plain file", func(t *testing.T) {
		src, err := ParseSourcePath("722950-23174-1973.op")
		require.NoError(t, err)
		assert.Equal(t, "722950-23174", src.StationID())
	})

	for _, name := range []string{"gsod_2010.tar", "010010-99999.op", "010010-99999-10.op", "010010-99999-abcd.op.gz", "-99999-2010.op"} {
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := ParseSourcePath(name)
			assert.Error(t, err)
		})
	}
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "010010-99999-2010.op.gz", SourceName("010010", "99999", 2010))
	assert.True(t, IsSourceName("010010-99999-2010.op.gz"))
	assert.False(t, IsSourceName("gsod_2010.tar"))
}
