package mailbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReceiveEmptyMarksWaiting(t *testing.T) {
	m := New(nil)
	_, ok := m.Receive()
	require.False(t, ok)
	require.True(t, m.waiting)
}

func TestSendWakesWaitingOwner(t *testing.T) {
	woken := false
	m := New(func() { woken = true })

	_, ok := m.Receive() // marks waiting
	require.False(t, ok)

	m.Send(Message{Sender: 1, Payload: "hi"})
	require.True(t, woken)

	msg, ok := m.Receive()
	require.True(t, ok)
	require.Equal(t, "hi", msg.Payload)
}

func TestFIFOPerSenderReceiverPair(t *testing.T) {
	m := New(nil)
	m.Send(Message{Sender: 1, Payload: 1})
	m.Send(Message{Sender: 1, Payload: 2})

	first, ok := m.Receive()
	require.True(t, ok)
	require.Equal(t, 1, first.Payload)

	second, ok := m.Receive()
	require.True(t, ok)
	require.Equal(t, 2, second.Payload)
}

func TestReceiveFilteredSkipsNonMatching(t *testing.T) {
	m := New(nil)
	m.Send(Message{Sender: 1, Payload: "from-1"})
	m.Send(Message{Sender: 2, Payload: "from-2"})

	msg, ok := m.ReceiveFiltered(func(msg Message) bool { return msg.Sender == 2 })
	require.True(t, ok)
	require.Equal(t, "from-2", msg.Payload)
	require.Equal(t, 1, m.Len())
}

func TestDrainEmptiesQueue(t *testing.T) {
	m := New(nil)
	m.Send(Message{Sender: 1, Payload: 1})
	m.Send(Message{Sender: 1, Payload: 2})

	drained := m.Drain()
	require.Len(t, drained, 2)
	require.Equal(t, 0, m.Len())
}
