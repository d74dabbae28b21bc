package collection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChangeMessagePatchComputesMergePatch(t *testing.T) {
	var msg = updateMsg[widget, string]("w1", widget{ID: "w1", Color: "blue"}, widget{ID: "w1", Color: "red"})

	var patch, err = msg.Patch()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(patch, &decoded))
	require.Equal(t, "blue", decoded["Color"])
	_, hasID := decoded["ID"]
	require.False(t, hasID, "merge patch should omit unchanged fields")
}

func TestChangeMessagePatchRejectsNonUpdate(t *testing.T) {
	var msg = insertMsg[widget, string]("w1", widget{ID: "w1", Color: "blue"})
	var _, err = msg.Patch()
	require.Error(t, err)
}
