package elicitation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotificationHubPublishAndDrainFIFO(t *testing.T) {
	h := newNotificationHub(10)
	h.publish("agent_a", Notification{Type: NotificationRequest, ElicitationID: "e1", Timestamp: time.Now()})
	h.publish("agent_a", Notification{Type: NotificationResponse, ElicitationID: "e2", Timestamp: time.Now()})

	notes := h.drain("agent_a")
	assert.Len(t, notes, 2)
	assert.Equal(t, "e1", notes[0].ElicitationID)
	assert.Equal(t, "e2", notes[1].ElicitationID)

	assert.Empty(t, h.drain("agent_a"))
}

func TestNotificationHubOverflowDropsOldest(t *testing.T) {
	h := newNotificationHub(2)
	h.publish("agent_a", Notification{ElicitationID: "e1"})
	h.publish("agent_a", Notification{ElicitationID: "e2"})
	h.publish("agent_a", Notification{ElicitationID: "e3"})

	notes := h.drain("agent_a")
	assert.Len(t, notes, 2)
	assert.Equal(t, "e2", notes[0].ElicitationID)
	assert.Equal(t, "e3", notes[1].ElicitationID)
	assert.Equal(t, 1, h.droppedCount("agent_a"))
}

func TestNotificationHubIsolatesQueuesPerAgent(t *testing.T) {
	h := newNotificationHub(10)
	h.publish("agent_a", Notification{ElicitationID: "e1"})

	assert.Len(t, h.drain("agent_a"), 1)
	assert.Empty(t, h.drain("agent_b"))
}
