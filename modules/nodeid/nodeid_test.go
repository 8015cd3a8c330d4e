// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package nodeid_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/modules/nodeid"
)

func TestNewEngine_ProducesDistinctIDs(t *testing.T) {
	a := nodeid.NewEngine()
	b := nodeid.NewEngine()
	assert.NotEqual(t, a, b)
	assert.False(t, a.IsCounter())
}

func TestFromCounter_RoundTrips(t *testing.T) {
	n := nodeid.FromCounter(42)
	assert.True(t, n.IsCounter())

	parsed, err := nodeid.Parse(n.String())
	require.NoError(t, err)
	assert.Equal(t, n, parsed)
	assert.True(t, parsed.IsCounter())
}

func TestParse_RejectsMalformed(t *testing.T) {
	_, err := nodeid.Parse("")
	require.Error(t, err)

	_, err = nodeid.Parse("n:not-a-number")
	require.Error(t, err)

	_, err = nodeid.Parse("not-a-uuid")
	require.Error(t, err)
}

func TestParse_EngineUUIDRoundTrips(t *testing.T) {
	n := nodeid.NewEngine()
	parsed, err := nodeid.Parse(n.String())
	require.NoError(t, err)
	assert.Equal(t, n, parsed)
}

func TestNil_IsNil(t *testing.T) {
	assert.True(t, nodeid.Nil.IsNil())
	assert.False(t, nodeid.NewEngine().IsNil())
}

func TestJSONRoundTrip(t *testing.T) {
	n := nodeid.FromCounter(7)
	buf, err := json.Marshal(n)
	require.NoError(t, err)

	var out nodeid.NodeID
	require.NoError(t, json.Unmarshal(buf, &out))
	assert.Equal(t, n, out)
}

func TestJSONRoundTrip_Nil(t *testing.T) {
	buf, err := json.Marshal(nodeid.Nil)
	require.NoError(t, err)

	var out nodeid.NodeID
	require.NoError(t, json.Unmarshal(buf, &out))
	assert.True(t, out.IsNil())
}
