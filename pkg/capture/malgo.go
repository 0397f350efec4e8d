// Package capture provides the default, non-test session.DeviceCapture
// implementation: two malgo capture devices, one for the microphone and
// one for system/speaker loopback, grounded on
// tphakala-birdnet-go/internal/audiocore/sources/malgo's device selection
// and data-callback shape and on the teacher's (deleted) cmd/agent
// single-device malgo wiring.
package capture

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// Logger mirrors session.Logger's shape without importing it, keeping
// pkg/capture a leaf package.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noOpLogger struct{}

func (noOpLogger) Debug(string, ...interface{}) {}
func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}

// Config selects the devices and format malgo should open. Empty
// MicDeviceName/SpeakerDeviceName mean "default" / "best loopback match".
type Config struct {
	SampleRate        int
	MicDeviceName     string
	SpeakerDeviceName string
	Log               Logger
}

// Malgo implements session.DeviceCapture over two independent malgo
// devices. It satisfies the interface structurally; pkg/capture does not
// import pkg/session to stay a leaf in the dependency graph.
type Malgo struct {
	ctx *malgo.AllocatedContext

	micDevice *malgo.Device
	spkDevice *malgo.Device

	mic chan []float32
	spk chan []float32

	log Logger

	closeOnce sync.Once
	closeErr  error
}

// New opens the backend context and starts both capture devices. The
// speaker side is best-effort: platforms/backends without a loopback or
// monitor-style capture device still get mic-only capture, with Speaker
// silently producing nothing rather than failing session startup, since
// spec.md's mic-only channel mode is a fully supported degraded case.
func New(cfg Config) (*Malgo, error) {
	if cfg.Log == nil {
		cfg.Log = noOpLogger{}
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}

	backend, err := backendForPlatform()
	if err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init malgo context: %w", err)
	}

	m := &Malgo{
		ctx: ctx,
		mic: make(chan []float32, 64),
		spk: make(chan []float32, 64),
		log: cfg.Log,
	}

	micInfo, err := selectCaptureDevice(ctx, cfg.MicDeviceName, false)
	if err != nil {
		_ = ctx.Uninit()
		return nil, fmt.Errorf("capture: select mic device: %w", err)
	}
	micDevice, err := openCaptureDevice(ctx, micInfo, cfg.SampleRate, func(pInput []byte) {
		deliver(m.mic, pcm16ToF32(pInput))
	})
	if err != nil {
		_ = ctx.Uninit()
		return nil, fmt.Errorf("capture: open mic device: %w", err)
	}
	m.micDevice = micDevice

	spkInfo, err := selectCaptureDevice(ctx, cfg.SpeakerDeviceName, true)
	if err != nil {
		cfg.Log.Warn("speaker_loopback_unavailable_falling_back_to_mic_only", "reason", err.Error())
		close(m.spk)
		return m, nil
	}
	spkDevice, err := openCaptureDevice(ctx, spkInfo, cfg.SampleRate, func(pInput []byte) {
		deliver(m.spk, pcm16ToF32(pInput))
	})
	if err != nil {
		cfg.Log.Warn("speaker_loopback_open_failed_falling_back_to_mic_only", "reason", err.Error())
		close(m.spk)
		return m, nil
	}
	m.spkDevice = spkDevice

	return m, nil
}

func (m *Malgo) MicChunks() <-chan []float32     { return m.mic }
func (m *Malgo) SpeakerChunks() <-chan []float32 { return m.spk }

// Close stops and releases both devices and the backend context. Safe to
// call more than once.
func (m *Malgo) Close() error {
	m.closeOnce.Do(func() {
		if m.micDevice != nil {
			_ = m.micDevice.Stop()
			m.micDevice.Uninit()
		}
		if m.spkDevice != nil {
			_ = m.spkDevice.Stop()
			m.spkDevice.Uninit()
		}
		if m.ctx != nil {
			m.closeErr = m.ctx.Uninit()
		}
	})
	return m.closeErr
}

func backendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, fmt.Errorf("capture: unsupported platform %s", runtime.GOOS)
	}
}

// selectCaptureDevice finds the requested device by name/id, or the
// default capture device when name is empty. When loopback is true it
// instead looks for a monitor/loopback-flavored capture device (the
// common ALSA "Monitor of ..." pattern, or WASAPI's loopback naming) and
// returns an error if none is advertised.
func selectCaptureDevice(ctx *malgo.AllocatedContext, name string, loopback bool) (*malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}

	if loopback && name == "" {
		for i := range infos {
			if isLoopbackName(infos[i].Name()) {
				return &infos[i], nil
			}
		}
		return nil, fmt.Errorf("no loopback/monitor capture device advertised")
	}

	if name == "" || name == "default" || name == "sysdefault" {
		for i := range infos {
			if infos[i].IsDefault == 1 {
				return &infos[i], nil
			}
		}
		if len(infos) > 0 {
			return &infos[0], nil
		}
		return nil, fmt.Errorf("no capture devices available")
	}

	for i := range infos {
		if infos[i].Name() == name {
			return &infos[i], nil
		}
	}
	for i := range infos {
		if decoded, derr := hexToASCII(infos[i].ID.String()); derr == nil && decoded == name {
			return &infos[i], nil
		}
	}
	for i := range infos {
		if strings.Contains(infos[i].Name(), name) {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("no device matching %q", name)
}

func isLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "monitor") || strings.Contains(lower, "loopback") || strings.Contains(lower, "stereo mix")
}

func openCaptureDevice(ctx *malgo.AllocatedContext, info *malgo.DeviceInfo, sampleRate int, onData func([]byte)) (*malgo.Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Capture.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if pInput != nil {
				onData(pInput)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, err
	}
	return device, nil
}

// deliver is a non-blocking send; a full channel means the session
// source (C5) hasn't drained fast enough, and spec.md's drop-oldest
// joiner/backlog policy is what absorbs that, not this callback.
func deliver(ch chan []float32, chunk []float32) {
	select {
	case ch <- chunk:
	default:
	}
}

func pcm16ToF32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		sample := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = float32(sample) / 32768.0
	}
	return out
}

func hexToASCII(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
