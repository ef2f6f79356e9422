package orch

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []protocol.Message
	full   bool
	closed int
}

func (f *fakeConn) TrySend(b core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return core.ErrConnClosed
	}
	if f.full {
		return core.ErrBackpressure
	}
	m, err := protocol.Decode(b)
	if err != nil {
		return err
	}
	f.frames = append(f.frames, m)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

// take returns and clears the recorded frames.
func (f *fakeConn) take() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.frames
	f.frames = nil
	return out
}

func types(ms []protocol.Message) []protocol.Type {
	out := make([]protocol.Type, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Type)
	}
	return out
}

type harness struct {
	o     *Orchestrator
	conns map[domain.ConnectionID]*fakeConn
}

func newHarness(t *testing.T, ids ...domain.ConnectionID) *harness {
	t.Helper()
	h := &harness{
		o:     New(app.NewRegistry(app.NewMemoryStore()), app.SimplePolicy{}),
		conns: make(map[domain.ConnectionID]*fakeConn),
	}
	for _, id := range ids {
		c := &fakeConn{}
		h.conns[id] = c
		h.o.Attach(id, c)
	}
	return h
}

func (h *harness) join(t *testing.T, id domain.ConnectionID, room string) {
	t.Helper()
	h.o.Handle(id, protocol.Message{Type: protocol.TypeCreateOrJoin, RoomID: room, UserID: "u-" + string(id)})
}

func (h *harness) drain() {
	for _, c := range h.conns {
		c.take()
	}
}

func TestCreateThenJoin(t *testing.T) {
	h := newHarness(t, "A", "B")

	h.join(t, "A", "r1")
	got := h.conns["A"].take()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeCreated, got[0].Type)
	assert.Equal(t, "r1", got[0].RoomID)
	assert.Equal(t, "A", got[0].SelfID)
	assert.Equal(t, "A", got[0].AdminID)
	assert.Empty(t, got[0].Members)

	h.join(t, "B", "r1")
	got = h.conns["B"].take()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeJoined, got[0].Type)
	assert.Equal(t, "B", got[0].SelfID)
	assert.Equal(t, "A", got[0].AdminID)
	assert.Equal(t, []protocol.Member{{ID: "A", UserID: "u-A"}}, got[0].Members)

	got = h.conns["A"].take()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeUserConnected, got[0].Type)
	assert.Equal(t, "B", got[0].ConnectionID)

	room, ok := h.o.Registry.Room("r1")
	require.True(t, ok)
	assert.Equal(t, []domain.ConnectionID{"A", "B"}, room.Others(""))
}

func TestCreateOrJoin_Rejections(t *testing.T) {
	h := newHarness(t, "A")
	h.join(t, "A", "r1")
	h.drain()

	h.join(t, "A", "r2")
	got := h.conns["A"].take()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeError, got[0].Type)
	assert.Equal(t, protocol.CodeAlreadyInRoom, got[0].Error)
	assert.Equal(t, "r1", got[0].RoomID)

	h.o.Handle("A", protocol.Message{Type: protocol.TypeCreateOrJoin, RoomID: "bad room"})
	got = h.conns["A"].take()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.CodeInvalidRoom, got[0].Error)
}

func TestCreateOrJoin_GeneratedRoom(t *testing.T) {
	h := newHarness(t, "A")
	h.join(t, "A", "")

	got := h.conns["A"].take()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeCreated, got[0].Type)
	assert.NotEmpty(t, got[0].RoomID)
}

func TestRelay(t *testing.T) {
	desc := json.RawMessage(`{"type":"offer","sdp":"v=0 not really sdp"}`)

	t.Run("fan out to others only", func(t *testing.T) {
		h := newHarness(t, "A", "B", "C")
		h.join(t, "A", "r1")
		h.join(t, "B", "r1")
		h.join(t, "C", "r1")
		h.drain()

		h.o.Handle("B", protocol.Message{Type: protocol.TypeOffer, RoomID: "r1", Description: desc, From: "forged"})

		assert.Empty(t, h.conns["B"].take())
		for _, id := range []domain.ConnectionID{"A", "C"} {
			got := h.conns[id].take()
			require.Len(t, got, 1, id)
			assert.Equal(t, protocol.TypeOffer, got[0].Type)
			assert.Equal(t, "B", got[0].From)
			assert.JSONEq(t, string(desc), string(got[0].Description))
		}
	})

	t.Run("targeted", func(t *testing.T) {
		h := newHarness(t, "A", "B", "C")
		h.join(t, "A", "r1")
		h.join(t, "B", "r1")
		h.join(t, "C", "r1")
		h.drain()

		cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 9 typ host"}`)
		h.o.Handle("A", protocol.Message{Type: protocol.TypeCandidate, RoomID: "r1", Target: "C", Candidate: cand})

		assert.Empty(t, h.conns["B"].take())
		got := h.conns["C"].take()
		require.Len(t, got, 1)
		assert.Equal(t, "A", got[0].From)
		assert.Equal(t, "C", got[0].Target)
	})

	t.Run("dropped", func(t *testing.T) {
		h := newHarness(t, "A", "B", "X", "Y")
		h.join(t, "A", "r1")
		h.join(t, "B", "r1")
		h.join(t, "Y", "r2")
		h.drain()

		// not a member
		h.o.Handle("X", protocol.Message{Type: protocol.TypeOffer, RoomID: "r1", Description: desc})
		// wrong room
		h.o.Handle("A", protocol.Message{Type: protocol.TypeOffer, RoomID: "r2", Description: desc})
		// target in another room
		h.o.Handle("A", protocol.Message{Type: protocol.TypeOffer, RoomID: "r1", Target: "Y", Description: desc})

		for id, c := range h.conns {
			assert.Empty(t, c.take(), id)
		}
	})
}

func TestLeave(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.join(t, "A", "r1")
	h.join(t, "B", "r1")
	h.drain()

	h.o.Handle("B", protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: "r1"})
	assert.Equal(t, []protocol.Type{protocol.TypeLeftRoom}, types(h.conns["B"].take()))
	got := h.conns["A"].take()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeUserDisconnected, got[0].Type)
	assert.Equal(t, "B", got[0].ConnectionID)

	// second leave: no error, no broadcast
	h.o.Handle("B", protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: "r1"})
	assert.Empty(t, h.conns["B"].take())
	assert.Empty(t, h.conns["A"].take())

	h.o.Handle("A", protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: "r1"})
	_, ok := h.o.Registry.Room("r1")
	assert.False(t, ok)
}

func TestKick(t *testing.T) {
	h := newHarness(t, "A", "B", "C")
	h.join(t, "A", "r1")
	h.join(t, "B", "r1")
	h.join(t, "C", "r1")
	h.drain()

	h.o.Handle("B", protocol.Message{Type: protocol.TypeKickUser, RoomID: "r1", Target: "C"})
	got := h.conns["B"].take()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.CodeKickDenied, got[0].Error)
	assert.Empty(t, h.conns["C"].take())

	h.o.Handle("A", protocol.Message{Type: protocol.TypeKickUser, RoomID: "r1", Target: "B"})
	assert.Equal(t, []protocol.Type{protocol.TypeKicked}, types(h.conns["B"].take()))
	for _, id := range []domain.ConnectionID{"A", "C"} {
		got := h.conns[id].take()
		require.Len(t, got, 1, id)
		assert.Equal(t, protocol.TypeRemoveUser, got[0].Type)
		assert.Equal(t, "B", got[0].ConnectionID)
	}

	room, _ := h.o.Registry.Room("r1")
	assert.Equal(t, []domain.ConnectionID{"A", "C"}, room.Others(""))

	// a kicked connection can no longer relay into the room
	h.o.Handle("B", protocol.Message{Type: protocol.TypeOffer, RoomID: "r1"})
	assert.Empty(t, h.conns["A"].take())
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.join(t, "A", "r1")
	h.join(t, "B", "r1")
	h.drain()

	h.o.OnDisconnect("B")
	assert.Empty(t, h.conns["B"].take())
	got := h.conns["A"].take()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeRemoveUser, got[0].Type)
	assert.Equal(t, "B", got[0].ConnectionID)

	h.o.OnDisconnect("B")
	assert.Empty(t, h.conns["A"].take())
	assert.Equal(t, 1, h.o.Connections())

	h.o.OnDisconnect("A")
	_, ok := h.o.Registry.Room("r1")
	assert.False(t, ok)
}

func TestBackpressureDisconnects(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.join(t, "A", "r1")
	h.drain()

	h.conns["A"].full = true
	h.join(t, "B", "r1")
	assert.Equal(t, 1, h.conns["A"].closed)
	assert.Equal(t, 0, h.conns["B"].closed)
}

func TestWhoAmI(t *testing.T) {
	h := newHarness(t, "A")
	h.o.Handle("A", protocol.Message{Type: protocol.TypeWhoAmI})
	h.join(t, "A", "r1")
	h.o.Handle("A", protocol.Message{Type: protocol.TypeWhoAmI})

	got := h.conns["A"].take()
	require.Equal(t, []protocol.Type{protocol.TypeWhoAmI, protocol.TypeCreated, protocol.TypeWhoAmI}, types(got))
	assert.Empty(t, got[0].RoomID)
	assert.Equal(t, "r1", got[2].RoomID)
	assert.Equal(t, "A", got[2].AdminID)
}
