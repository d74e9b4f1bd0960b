package contextmgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specsmith/pkg/session"
)

func TestCountTokens(t *testing.T) {
	m, err := New(0)
	require.NoError(t, err)

	assert.Equal(t, 0, m.CountTokens(""))
	assert.Greater(t, m.CountTokens("I want to build a todo app for students"), 0)

	short := m.CountTokens("hello")
	long := m.CountTokens(strings.Repeat("hello world ", 50))
	assert.Greater(t, long, short)
}

func TestWindowKeepsEverythingUnderBudget(t *testing.T) {
	m, err := New(10000)
	require.NoError(t, err)

	log := []session.Message{
		{Role: session.RoleUser, Content: "I want a todo app"},
		{Role: session.RoleAssistant, Content: "Who will use it?"},
		{Role: session.RoleUser, Content: "Students"},
	}

	windowed := m.Window(log)
	require.Len(t, windowed, 3)
	assert.Equal(t, "I want a todo app", windowed[0].Content)
	assert.Equal(t, "Students", windowed[2].Content)
}

func TestWindowDropsOldestFirst(t *testing.T) {
	m, err := New(50)
	require.NoError(t, err)

	long := strings.Repeat("requirement detail ", 20)
	log := []session.Message{
		{Role: session.RoleUser, Content: long},
		{Role: session.RoleAssistant, Content: long},
		{Role: session.RoleUser, Content: "latest message"},
	}

	windowed := m.Window(log)
	require.NotEmpty(t, windowed)
	assert.Equal(t, "latest message", windowed[len(windowed)-1].Content,
		"newest message always survives")
	assert.Less(t, len(windowed), 3)
}

func TestWindowNeverDropsLastMessage(t *testing.T) {
	m, err := New(5)
	require.NoError(t, err)

	log := []session.Message{
		{Role: session.RoleUser, Content: strings.Repeat("over budget by itself ", 30)},
	}

	windowed := m.Window(log)
	require.Len(t, windowed, 1)
}

func TestWindowEmptyLog(t *testing.T) {
	m, err := New(0)
	require.NoError(t, err)
	assert.Empty(t, m.Window(nil))
}
