package headunit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rgstephens/gdo-bridge/internal/bus"
	"github.com/rgstephens/gdo-bridge/internal/comms"
	"github.com/rgstephens/gdo-bridge/internal/door"
	"github.com/rgstephens/gdo-bridge/internal/rolling"
	"github.com/rgstephens/gdo-bridge/internal/secplus"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const remoteID = 0x555539

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

// controllerWrites puts a frame on the line as if the controller sent it.
func controllerWrites(t *testing.T, line *bus.SimLine, cmd secplus.Command, payload secplus.Payload, counter uint32) {
	t.Helper()
	frame, err := secplus.PlainCodec{}.Encode(secplus.NewPacket(cmd, payload, remoteID), counter)
	require.NoError(t, err)
	_, err = line.Write(frame)
	require.NoError(t, err)
}

// replies drains what the head unit injected.
func replies(t *testing.T, line *bus.SimLine) []secplus.Decoded {
	t.Helper()
	r := secplus.NewReader()
	var out []secplus.Decoded
	for line.Buffered() > 0 {
		b, err := line.ReadByte()
		require.NoError(t, err)
		if f, ok := r.PushByte(b); ok {
			d, err := secplus.PlainCodec{}.Decode(f)
			require.NoError(t, err)
			out = append(out, d)
		}
	}
	return out
}

func TestStatusAndOpenings(t *testing.T) {
	line := bus.NewSimLine()
	s := New(line)

	controllerWrites(t, line, secplus.CmdGetOpenings, nil, 1)
	controllerWrites(t, line, secplus.CmdGetStatus, nil, 2)
	s.Poll()

	got := replies(t, line)
	require.Len(t, got, 2)
	assert.Equal(t, secplus.CmdOpenings, got[0].Command)
	assert.Equal(t, secplus.CmdStatus, got[1].Command)
	assert.Equal(t, secplus.StatusData{Door: secplus.DoorClosed}, got[1].Payload)
	assert.Equal(t, uint32(DeviceID), got[1].DeviceID)
}

func TestDoorTravel(t *testing.T) {
	line := bus.NewSimLine()
	clk := &clock{t: time.Unix(100, 0)}
	s := New(line, WithTravelTime(time.Second), WithClock(clk.now))

	controllerWrites(t, line, secplus.CmdDoorAction, secplus.DoorActionData{Action: secplus.ActionOpen, Pressed: true, ID: 1}, 7)
	s.Poll()
	assert.Equal(t, secplus.DoorClosed, s.State().Door, "press alone does nothing")

	controllerWrites(t, line, secplus.CmdDoorAction, secplus.DoorActionData{Action: secplus.ActionOpen, ID: 1}, 7)
	s.Poll()
	assert.Equal(t, secplus.DoorOpening, s.State().Door)
	assert.True(t, s.State().Light)

	s.Advance(clk.t.Add(500 * time.Millisecond))
	assert.Equal(t, secplus.DoorOpening, s.State().Door)
	s.Advance(clk.t.Add(time.Second))
	assert.Equal(t, secplus.DoorOpen, s.State().Door)

	got := replies(t, line)
	require.Len(t, got, 2)
	assert.Equal(t, secplus.DoorOpening, got[0].Payload.(secplus.StatusData).Door)
	assert.Equal(t, secplus.DoorOpen, got[1].Payload.(secplus.StatusData).Door)
}

func TestStopAndCloseCountsOpening(t *testing.T) {
	line := bus.NewSimLine()
	clk := &clock{t: time.Unix(100, 0)}
	s := New(line, WithTravelTime(time.Second), WithClock(clk.now))

	s.mu.Lock()
	s.doorAction(secplus.ActionOpen)
	assert.True(t, s.doorAction(secplus.ActionStop))
	assert.False(t, s.doorAction(secplus.ActionStop))
	assert.True(t, s.doorAction(secplus.ActionClose))
	s.mu.Unlock()

	s.Advance(clk.t.Add(2 * time.Second))
	assert.Equal(t, secplus.DoorClosed, s.State().Door)
	assert.Equal(t, uint32(1), s.State().Openings)
}

func TestLockoutBlocksOpen(t *testing.T) {
	line := bus.NewSimLine()
	s := New(line)

	controllerWrites(t, line, secplus.CmdLock, secplus.LockData{Lock: secplus.LockOn}, 1)
	controllerWrites(t, line, secplus.CmdDoorAction, secplus.DoorActionData{Action: secplus.ActionOpen, ID: 1}, 2)
	s.Poll()

	assert.True(t, s.State().Lock)
	assert.Equal(t, secplus.DoorClosed, s.State().Door)
}

func TestReplayRejected(t *testing.T) {
	line := bus.NewSimLine()
	s := New(line)

	controllerWrites(t, line, secplus.CmdLight, secplus.LightData{Light: secplus.LightOn}, 10)
	controllerWrites(t, line, secplus.CmdLight, secplus.LightData{Light: secplus.LightOff}, 9)
	s.Poll()

	assert.True(t, s.State().Light)
	assert.Equal(t, 1, s.State().Rejected)
	assert.Len(t, replies(t, line), 1)
}

func TestWallButtonsAndMotion(t *testing.T) {
	line := bus.NewSimLine()
	s := New(line)

	s.PressLight()
	s.PressLock()
	s.Motion()

	got := replies(t, line)
	require.Len(t, got, 3)
	assert.Equal(t, secplus.CmdLight, got[0].Command)
	assert.Equal(t, secplus.CmdLock, got[1].Command)
	assert.Equal(t, secplus.CmdMotion, got[2].Command)
	assert.Less(t, got[0].Counter, got[2].Counter)
	assert.True(t, s.State().Light)
	assert.True(t, s.State().Lock)
}

type memKV struct {
	mu sync.Mutex
	m  map[string]uint32
}

func (k *memKV) Read(key string) (uint32, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	return v, ok, nil
}

func (k *memKV) Write(key string, v uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = v
	return nil
}

func TestControllerAgainstSimulator(t *testing.T) {
	store := rolling.NewStore(&memKV{m: map[string]uint32{}})
	_, err := store.Load()
	require.NoError(t, err)

	line := bus.NewSimLine()
	sim := New(line, WithTravelTime(30*time.Millisecond))
	sim.tick = time.Millisecond

	tr := bus.NewTransceiver(line, secplus.PlainCodec{}, store, bus.DefaultTiming, bus.WithWait(func(time.Duration) {}))
	ctrl := comms.NewController(tr, store, door.NewModel(nil), comms.WithSyncDelay(time.Millisecond))
	worker := comms.NewWorker(ctrl, time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = sim.Run(ctx) }()
	go func() { defer wg.Done(); _ = worker.Run(ctx) }()
	defer func() {
		cancel()
		wg.Wait()
	}()

	// polled from Eventually's goroutine, so no require here
	status := func() comms.Status {
		st, _ := worker.Status(ctx)
		return st
	}

	require.Eventually(t, func() bool { return worker.Ready() && status().Door.Active }, time.Second, 2*time.Millisecond,
		"boot sync status arrives")

	require.NoError(t, worker.Open(ctx))
	require.Eventually(t, func() bool { return status().Door.CurrentState == door.CurrentOpen }, 2*time.Second, 2*time.Millisecond)
	assert.True(t, status().Door.Light)

	require.NoError(t, worker.SetLock(ctx, true))
	require.Eventually(t, func() bool { return status().Door.CurrentLock == door.Locked }, time.Second, 2*time.Millisecond)

	require.NoError(t, worker.Close(ctx))
	require.Eventually(t, func() bool { return status().Door.CurrentState == door.CurrentClosed }, 2*time.Second, 2*time.Millisecond)

	sim.PressLight()
	require.Eventually(t, func() bool { return !status().Door.Light }, time.Second, 2*time.Millisecond)

	assert.Zero(t, sim.State().Rejected, "controller never replays a counter")
	assert.Equal(t, uint32(1), sim.State().Openings)
}
