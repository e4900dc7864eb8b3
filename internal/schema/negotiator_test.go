package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/event"
)

func TestNegotiator_Info(t *testing.T) {
	n := NewNegotiator(event.DefaultRegistry())
	info := n.Info()

	assert.Equal(t, 2, info.CurrentVersion)
	assert.Equal(t, 1, info.MinAccepted)
}

func TestNegotiator_CheckWrite(t *testing.T) {
	n := NewNegotiator(event.DefaultRegistry())

	assert.NoError(t, n.CheckWrite(ServerInfo{CurrentVersion: 2, MinAccepted: 1}))
	assert.NoError(t, n.CheckWrite(ServerInfo{CurrentVersion: 3, MinAccepted: 2}),
		"server ahead is fine as long as it still accepts our versions")

	err := n.CheckWrite(ServerInfo{CurrentVersion: 5, MinAccepted: 3})
	assert.ErrorIs(t, err, common.ErrUpgradeRequired)
}

func TestNegotiator_Accepts(t *testing.T) {
	n := NewNegotiator(event.DefaultRegistry())

	assert.True(t, n.Accepts(1), "historic versions stay writable inside the range")
	assert.True(t, n.Accepts(2))
	assert.False(t, n.Accepts(0))
	assert.False(t, n.Accepts(3), "future versions need an upgraded binary")
}
