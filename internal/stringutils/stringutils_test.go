package stringutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndentString(t *testing.T) {
	assert.Equal(t, "\ta\n\tb", IndentString("a\nb", "\t"))
}

func TestShortSHA(t *testing.T) {
	assert.Equal(t, "fa53297c", ShortSHA("fa53297c9d4ff8f88c932b9b1d0d9ee1c87d1c98"))
	assert.Equal(t, "fa53", ShortSHA("fa53"))
	assert.Equal(t, "", ShortSHA(""))
}
