package help

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/tmail/internal/keys"
)

func TestView(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 30)
	out := m.View()

	assert.Contains(t, out, "Keyboard Shortcuts")
	assert.Contains(t, out, "copy address")
	assert.Contains(t, out, "mail goes to trash")
}

func TestShortView(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 200, 30)
	out := m.ShortView()

	assert.Contains(t, out, "quit")
	assert.NotContains(t, out, "show all states")
}
