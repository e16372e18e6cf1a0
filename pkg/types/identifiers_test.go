package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryNodeUnmarshal(t *testing.T) {
	body := `[
		{"text":"Kunde","childs":[
			{"text":"Liste","childs":[
				{"type":"mp","id":4711,"text":"Zaehler","childs":[
					{"type":"line","id":"L1"}
				]}
			]}
		]},
		"garbage"
	]`

	var nodes []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &nodes))

	var root DirectoryNode
	require.NoError(t, json.Unmarshal(nodes[0], &root))

	assert.Equal(t, NodeKindContainer, root.Kind)
	require.Len(t, root.Children, 1)
	list := root.Children[0]
	require.Len(t, list.Children, 1)
	mp := list.Children[0]
	assert.Equal(t, NodeKindMeteringPoint, mp.Kind)
	assert.Equal(t, "4711", mp.ID, "numeric ids are kept as strings")
	require.Len(t, mp.Children, 1)
	assert.Equal(t, NodeKindLine, mp.Children[0].Kind)
	assert.Equal(t, "L1", mp.Children[0].ID)

	var bad DirectoryNode
	assert.Error(t, json.Unmarshal(nodes[1], &bad), "a string is not a node")
}

func TestNodeKindString(t *testing.T) {
	assert.Equal(t, "mp", NodeKindMeteringPoint.String())
	assert.Equal(t, "line", NodeKindLine.String())
	assert.Equal(t, "container", NodeKindContainer.String())
	assert.Equal(t, "other", NodeKindOther.String())
}
