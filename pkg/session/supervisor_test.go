package session

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lokutor-ai/meetingcap/pkg/providers/stt"
	"github.com/lokutor-ai/meetingcap/pkg/relay"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
		goleak.IgnoreTopFunction("runtime.gopark"),
		goleak.IgnoreTopFunction("time.Sleep"),
	)
	os.Exit(m.Run())
}

type fakeDevice struct {
	mic, spk chan []float32
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{mic: make(chan []float32, 8), spk: make(chan []float32, 8)}
}

func (d *fakeDevice) MicChunks() <-chan []float32     { return d.mic }
func (d *fakeDevice) SpeakerChunks() <-chan []float32 { return d.spk }
func (d *fakeDevice) Close() error {
	close(d.mic)
	close(d.spk)
	return nil
}

// connectingDial hands back a fresh fakeConn per call, so a listener reaches
// its main select loop quickly and a later Shutdown()/ctx cancellation
// unwinds it without ever blocking on the dial step.
func connectingDial(ctx context.Context, url string, header http.Header) (relay.Conn, error) {
	return newFakeConn(), nil
}

func failingDial(ctx context.Context, url string, header http.Header) (relay.Conn, error) {
	return nil, errors.New("connection refused")
}

func supervisorParams(appDir string, recordEnabled bool) Params {
	return Params{
		SessionID:     "sess-1",
		AppDir:        appDir,
		SampleRate:    16000,
		Mode:          stt.ChannelMicAndSpeaker,
		RecordEnabled: recordEnabled,
		Adapter:       &fakeAdapter{},
		Session:       stt.SessionParams{SessionID: "sess-1"},
	}
}

func TestSupervisorShutdownUnwindsAllChildren(t *testing.T) {
	device := newFakeDevice()
	consumer := &fakeConsumer{}
	sup := NewSupervisor(supervisorParams(t.TempDir(), true), device, consumer, nil, connectingDial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	sup.Shutdown()

	select {
	case <-sup.Done():
	case <-time.After(7 * time.Second):
		t.Fatal("supervisor did not unwind after Shutdown")
	}
	cancel()
	wg.Wait()
}

func TestSupervisorContextCancellationStopsRun(t *testing.T) {
	device := newFakeDevice()
	consumer := &fakeConsumer{}
	sup := NewSupervisor(supervisorParams(t.TempDir(), false), device, consumer, nil, connectingDial)

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-sup.Done():
	case <-time.After(7 * time.Second):
		t.Fatal("supervisor did not stop after context cancellation")
	}
}

func TestSupervisorMeltsDownAfterExhaustingSourceRestarts(t *testing.T) {
	device := newFakeDevice()
	consumer := &fakeConsumer{}
	sup := NewSupervisor(supervisorParams(t.TempDir(), false), device, consumer, nil, connectingDial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	close(device.mic)
	close(device.spk)

	// The device never comes back, so every restart attempt fails
	// immediately the same way, exhausting MaxRestarts within MaxWindow
	// and driving the supervisor into meltdown on its own.
	select {
	case <-sup.Done():
	case <-time.After(7 * time.Second):
		t.Fatal("supervisor did not melt down after exhausting source restarts")
	}

	sup.mu.Lock()
	restarts := sup.sourceRestarts.count
	sup.mu.Unlock()
	require.GreaterOrEqual(t, restarts, MaxRestarts)
}

func TestSupervisorListenerDialFailureDegradesWithoutMeltdown(t *testing.T) {
	device := newFakeDevice()
	consumer := &fakeConsumer{}
	sup := NewSupervisor(supervisorParams(t.TempDir(), false), device, consumer, nil, failingDial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	require.Eventually(t, func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		return sup.listener == nil
	}, time.Second, 10*time.Millisecond, "a dial failure should degrade the listener, not restart it")

	sup.mu.Lock()
	shuttingDown := sup.shuttingDown
	sup.mu.Unlock()
	require.False(t, shuttingDown, "listener faults must never trigger a meltdown")

	sup.Shutdown()
	select {
	case <-sup.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not unwind after Shutdown")
	}
}
