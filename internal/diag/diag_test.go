package diag

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageQuiet(t *testing.T) {
	err := fmt.Errorf("outer: %w", errors.New("inner"))
	assert.Equal(t, "Failed: outer: inner", Message("Failed: ", err, false))
}

func TestMessageVerboseListsChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", errors.New("inner"))
	got := Message("Failed: ", err, true)

	lines := strings.Split(got, "\n")
	assert.Equal(t, "Failed: outer: inner", lines[0])
	assert.Equal(t, "Error chain:", lines[1])
	assert.Contains(t, lines[2], "0: *fmt.wrapError: outer: inner")
	assert.Contains(t, lines[3], "1: *errors.errorString: inner")
}
