package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordingShimWrapsCommand(t *testing.T) {
	cmd := recordingShim("docker attach cafebabe", "/sessions/mod-1/shell.rec")
	assert.Equal(t, "script -q -f '/sessions/mod-1/shell.rec' -c 'docker attach cafebabe'", cmd)
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s here'`, shellQuote("it's here"))
}
