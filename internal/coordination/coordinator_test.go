package coordination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomChannel(t *testing.T) {
	assert.Equal(t, "room:vehicle:v1", RoomChannel("vehicle:v1"))
	assert.Equal(t, "room:user:u1", RoomChannel("user:u1"))
}

func TestChannelRoom(t *testing.T) {
	room, ok := ChannelRoom("room:vehicle:v1")
	assert.True(t, ok)
	assert.Equal(t, "vehicle:v1", room)
}

func TestChannelRoom_OutsideNamespace(t *testing.T) {
	_, ok := ChannelRoom("location:updates:vehicle:v1")
	assert.False(t, ok)
}
