package room

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blob-battle/internal/config"
	"blob-battle/internal/game"
	"blob-battle/internal/snapshot"
)

type emitted struct {
	room    string
	player  string // empty for room-wide events
	event   string
	payload any
}

type fakeTransport struct {
	mu        sync.Mutex
	events    []emitted
	panicRoom string
}

func (f *fakeTransport) EmitToPlayer(roomID, playerID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{roomID, playerID, event, payload})
}

func (f *fakeTransport) EmitToRoom(roomID, event string, payload any) {
	if roomID == f.panicRoom {
		panic("transport exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{roomID, "", event, payload})
}

func (f *fakeTransport) count(event string, match func(emitted) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event == event && (match == nil || match(e)) {
			n++
		}
	}
	return n
}

func (f *fakeTransport) lastSnapshot(playerID string) *snapshot.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		e := f.events[i]
		if e.event == EventSnapshot && e.player == playerID {
			return e.payload.(*snapshot.Snapshot)
		}
	}
	return nil
}

func closedWith(reason string) func(emitted) bool {
	return func(e emitted) bool {
		n, ok := e.payload.(RoomNotice)
		return ok && n.Reason == reason
	}
}

func noticeFor(id string) func(emitted) bool {
	return func(e emitted) bool {
		n, ok := e.payload.(PlayerNotice)
		return ok && n.ID == id
	}
}

func testConfig() config.AppConfig {
	cfg := config.Default()
	cfg.Simulation.FoodTarget = 50
	cfg.Rooms.AutoCreate = true
	return cfg
}

func newTestManager(t *testing.T, cfg config.AppConfig) (*Manager, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	m := NewManager(cfg, tr, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, tr
}

func TestCreateRoomLimits(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.MaxRooms = 1
	m, _ := newTestManager(t, cfg)

	info, err := m.CreateRoom("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", info.ID)
	assert.Equal(t, game.StatusWaiting, info.Status)
	assert.Equal(t, 50, info.Foods)

	_, err = m.CreateRoom("alpha")
	assert.ErrorIs(t, err, ErrRoomExists)

	_, err = m.CreateRoom("beta")
	assert.ErrorIs(t, err, ErrTooManyRooms)
	assert.Len(t, m.Rooms(), 1)
}

func TestCreateRoomGeneratesID(t *testing.T) {
	m, _ := newTestManager(t, testConfig())

	info, err := m.CreateRoom("")
	require.NoError(t, err)
	assert.Len(t, info.ID, 36)

	_, ok := m.Room(info.ID)
	assert.True(t, ok)
}

func TestAddPlayerRejectedAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.MaxPlayersPerRoom = 2
	m, _ := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.AddPlayer(ctx, "r1", "p1", "one", "#ff0000")
	require.NoError(t, err)
	_, err = m.AddPlayer(ctx, "r1", "p2", "two", "#00ff00")
	require.NoError(t, err)

	_, err = m.AddPlayer(ctx, "r1", "p3", "three", "#0000ff")
	assert.ErrorIs(t, err, ErrRoomFull)

	info, ok := m.Room("r1")
	require.True(t, ok)
	assert.Equal(t, 2, info.Players)
	assert.Equal(t, game.StatusPlaying, info.Status)
}

func TestAddPlayerValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.AutoCreate = false
	m, _ := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.AddPlayer(ctx, "nowhere", "p1", "x", "#ffffff")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = m.CreateRoom("r1")
	require.NoError(t, err)

	_, err = m.AddPlayer(ctx, "r1", "", "x", "#ffffff")
	assert.ErrorIs(t, err, ErrInvalidPlayer)
	_, err = m.AddPlayer(ctx, "r1", "f12", "x", "#ffffff")
	assert.ErrorIs(t, err, ErrInvalidPlayer)

	res, err := m.AddPlayer(ctx, "r1", "p1", "x", "#ffffff")
	require.NoError(t, err)
	assert.Equal(t, "p1", res.PlayerID)
	assert.Equal(t, cfg.Simulation.MapWidth, res.MapWidth)

	_, err = m.AddPlayer(ctx, "r1", "p1", "x", "#ffffff")
	assert.ErrorIs(t, err, ErrPlayerExists)
}

func TestSnapshotsArePersonal(t *testing.T) {
	m, tr := newTestManager(t, testConfig())
	ctx := context.Background()

	_, err := m.AddPlayer(ctx, "r1", "p1", "one", "#ff0000")
	require.NoError(t, err)
	_, err = m.AddPlayer(ctx, "r1", "p2", "two", "#00ff00")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tr.lastSnapshot("p1") != nil && tr.lastSnapshot("p2") != nil
	}, 2*time.Second, 10*time.Millisecond)

	snap := tr.lastSnapshot("p1")
	require.NotNil(t, snap.You)
	assert.NotContains(t, snap.Ps, "p1")
	assert.Equal(t, 0, tr.count(EventSnapshot, func(e emitted) bool { return e.player == "" }))
}

func TestInputIsAcknowledgedInSnapshot(t *testing.T) {
	m, tr := newTestManager(t, testConfig())

	_, err := m.AddPlayer(context.Background(), "r1", "p1", "one", "#ff0000")
	require.NoError(t, err)
	require.NoError(t, m.HandleInput("r1", "p1", game.Input{Seq: 1, DX: 1}))
	require.NoError(t, m.Acknowledge("r1", "p1", 1))

	require.Eventually(t, func() bool {
		s := tr.lastSnapshot("p1")
		return s != nil && s.You != nil && s.You.Seq == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleInputRejectsNonFinite(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	_, err := m.CreateRoom("r1")
	require.NoError(t, err)

	assert.Error(t, m.HandleInput("r1", "p1", game.Input{Seq: 1, DX: math.Inf(1)}))
	assert.ErrorIs(t, m.HandleInput("missing", "p1", game.Input{Seq: 1}), ErrRoomNotFound)
}

func TestAFKPlayerKickedOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.AFKTimeout = 150 * time.Millisecond
	cfg.Rooms.EmptyRoomGrace = time.Minute
	m, tr := newTestManager(t, cfg)

	_, err := m.AddPlayer(context.Background(), "r1", "idle", "zzz", "#ff0000")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tr.count(EventPlayerKicked, noticeFor("idle")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, tr.count(EventPlayerKicked, noticeFor("idle")))
	assert.Equal(t, 0, tr.count(EventPlayerLeft, noticeFor("idle")))

	info, ok := m.Room("r1")
	require.True(t, ok)
	assert.Equal(t, 0, info.Players)
	assert.Equal(t, game.StatusWaiting, info.Status)
}

func TestActivePlayerNotKicked(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.AFKTimeout = 200 * time.Millisecond
	m, tr := newTestManager(t, cfg)

	_, err := m.AddPlayer(context.Background(), "r1", "busy", "b", "#ff0000")
	require.NoError(t, err)

	for seq := uint64(1); seq <= 12; seq++ {
		require.NoError(t, m.HandleInput("r1", "busy", game.Input{Seq: seq, DX: 0.5}))
		time.Sleep(40 * time.Millisecond)
	}
	assert.Equal(t, 0, tr.count(EventPlayerKicked, nil))
}

func TestEmptyRoomDestroyedAfterGrace(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.EmptyRoomGrace = 300 * time.Millisecond
	m, tr := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.AddPlayer(ctx, "r1", "p1", "one", "#ff0000")
	require.NoError(t, err)
	require.NoError(t, m.RemovePlayer(ctx, "r1", "p1"))

	require.Eventually(t, func() bool {
		return tr.count(EventPlayerLeft, noticeFor("p1")) == 1
	}, time.Second, 5*time.Millisecond)
	_, ok := m.Room("r1")
	assert.True(t, ok, "room survives until the grace period ends")

	require.Eventually(t, func() bool {
		_, ok := m.Room("r1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, tr.count(EventRoomClosed, closedWith(CloseEmpty)))
}

func TestRefilledRoomSurvivesGrace(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.EmptyRoomGrace = 150 * time.Millisecond
	m, _ := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.AddPlayer(ctx, "r1", "p1", "one", "#ff0000")
	require.NoError(t, err)
	require.NoError(t, m.RemovePlayer(ctx, "r1", "p1"))
	_, err = m.AddPlayer(ctx, "r1", "p2", "two", "#00ff00")
	require.NoError(t, err)

	time.Sleep(400 * time.Millisecond)
	info, ok := m.Room("r1")
	require.True(t, ok)
	assert.Equal(t, 1, info.Players)
}

func TestLeaderboardBroadcast(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.LeaderboardEvery = 50 * time.Millisecond
	m, tr := newTestManager(t, cfg)

	_, err := m.AddPlayer(context.Background(), "r1", "p1", "one", "#ff0000")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tr.count(EventLeaderboard, nil) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		info, _ := m.Room("r1")
		return len(info.Leaderboard) == 1 && info.Leaderboard[0].PlayerID == "p1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPanickingRoomIsIsolated(t *testing.T) {
	m, tr := newTestManager(t, testConfig())
	tr.panicRoom = "bad"
	ctx := context.Background()

	_, err := m.AddPlayer(ctx, "good", "p1", "one", "#ff0000")
	require.NoError(t, err)

	_, err = m.AddPlayer(ctx, "bad", "p2", "two", "#00ff00")
	assert.ErrorIs(t, err, ErrRoomClosed)

	require.Eventually(t, func() bool {
		_, ok := m.Room("bad")
		return !ok
	}, time.Second, 10*time.Millisecond)

	info, ok := m.Room("good")
	require.True(t, ok)
	assert.Equal(t, 1, info.Players)
}

func TestRoomStopsWhenComponentsMissing(t *testing.T) {
	stopped := make(chan string, 1)
	tr := &fakeTransport{}
	r := newRoom("broken", testConfig(), 1, tr, zap.NewNop())
	r.compressor = nil
	r.onStop = func(r *Room) { stopped <- r.ID() }

	r.start(context.Background())

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("room loop did not stop")
	}
	assert.Equal(t, "broken", <-stopped)
	assert.Equal(t, game.StatusFinished, r.Info().Status)
	assert.ErrorIs(t, r.trySend(leaveCmd{playerID: "x"}), ErrRoomClosed)
	assert.Equal(t, 1, tr.count(EventRoomClosed, closedWith(CloseFailed)))
}

func TestDeleteRoom(t *testing.T) {
	m, tr := newTestManager(t, testConfig())
	ctx := context.Background()

	_, err := m.CreateRoom("r1")
	require.NoError(t, err)
	require.NoError(t, m.DeleteRoom(ctx, "r1"))

	_, ok := m.Room("r1")
	assert.False(t, ok)
	assert.ErrorIs(t, m.DeleteRoom(ctx, "r1"), ErrRoomNotFound)

	// the notice is emitted before DeleteRoom returns
	assert.Equal(t, 1, tr.count(EventRoomClosed, func(e emitted) bool {
		return e.room == "r1" && closedWith(CloseStopped)(e)
	}))

	// the same id can be reused with the same player
	_, err = m.AddPlayer(ctx, "r1", "p1", "one", "#ff0000")
	require.NoError(t, err)
	_, err = m.AddPlayer(ctx, "r1", "p2", "two", "#00ff00")
	require.NoError(t, err)
	require.NoError(t, m.DeleteRoom(ctx, "r1"))
	_, err = m.AddPlayer(ctx, "r1", "p1", "one", "#ff0000")
	require.NoError(t, err)
}

func TestInputRejectionLabels(t *testing.T) {
	assert.Equal(t, "stale_input", inputRejection(game.ErrStaleInput))
	assert.Equal(t, "eliminated_input", inputRejection(game.ErrEliminated))
	assert.Equal(t, "invalid_input", inputRejection(game.ErrNonFinite))
	assert.Equal(t, "unknown_player", inputRejection(game.ErrNoPlayer))
}

func TestStatsAndShutdown(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	_, err := m.AddPlayer(ctx, "a", "p1", "one", "#ff0000")
	require.NoError(t, err)
	_, err = m.AddPlayer(ctx, "b", "p2", "two", "#00ff00")
	require.NoError(t, err)
	_, err = m.AddPlayer(ctx, "b", "p3", "three", "#0000ff")
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 2, stats.Rooms)
	assert.Equal(t, 3, stats.Players)
	assert.Equal(t, 100, stats.MaxRooms)

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(sctx))
	assert.Empty(t, m.Rooms())

	_, err = m.CreateRoom("c")
	assert.ErrorIs(t, err, ErrRoomClosed)
}
