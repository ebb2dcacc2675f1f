package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace/internal/domain/fault"
)

type light string

type press string

func newLights() *Table[light, press] {
	return New("light",
		Edge[light, press]{From: "off", Action: "on", To: "on"},
		Edge[light, press]{From: "on", Action: "off", To: "off"},
		Edge[light, press]{From: "on", Action: "break", To: "broken"},
	)
}

func TestTable_Next(t *testing.T) {
	tbl := newLights()

	next, err := tbl.Next("off", "on")
	require.NoError(t, err)
	assert.Equal(t, light("on"), next)

	next, err = tbl.Next("off", "off")
	var tErr *TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, light("off"), next, "state is unchanged on rejection")
	assert.Equal(t, "light", tErr.Entity)
	assert.Equal(t, "off", tErr.From)
	assert.Equal(t, "off", tErr.Action)
	assert.Equal(t, fault.Conflict, fault.KindOf(err))
}

func TestTable_Terminal(t *testing.T) {
	tbl := newLights()

	assert.True(t, tbl.Terminal("broken"))
	assert.False(t, tbl.Terminal("on"))
	assert.True(t, tbl.Can("on", "break"))
	assert.False(t, tbl.Can("broken", "on"))
	assert.ElementsMatch(t, []press{"off", "break"}, tbl.Actions("on"))
}

func TestTable_UnknownAction(t *testing.T) {
	tbl := newLights()

	assert.True(t, tbl.Known("break"))
	assert.False(t, tbl.Known("dim"))

	_, err := tbl.Next("on", "dim")
	var tErr *TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.True(t, tErr.Unknown)
	assert.Equal(t, fault.Validation, fault.KindOf(err))
	assert.Contains(t, err.Error(), `unknown action "dim"`)
}
