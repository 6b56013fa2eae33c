package device

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/voxloop/voxloop/pkg/audio"
)

// Compile-time assertions.
var _ Source = (*Duplex)(nil)
var _ Sink = (*Duplex)(nil)

const (
	defaultPeriodMs   = 20
	frameChanDepth    = 64
	maxPendingSeconds = 30
)

// DuplexConfig configures a full-duplex hardware device.
type DuplexConfig struct {
	// SampleRate in Hz, shared by capture and playback. Default 24000.
	SampleRate int

	// Channels per frame. Default 1 (mono).
	Channels int

	// PeriodMs is the hardware callback period in milliseconds. Smaller
	// periods lower latency at the cost of more callbacks. Default 20.
	PeriodMs int
}

func (c *DuplexConfig) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 24000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.PeriodMs == 0 {
		c.PeriodMs = defaultPeriodMs
	}
}

// Duplex is a single full-duplex hardware device serving as both Source and
// Sink. Capture frames are pushed onto a channel from the hardware callback;
// playback reads from a mutex-guarded pending buffer and fills silence when
// it runs dry, so the device never underruns.
type Duplex struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	format audio.Format

	frames chan audio.Frame
	seq    uint64

	mu      sync.Mutex
	pending []byte
	started bool

	maxPending int
	closeOnce  sync.Once
}

// NewDuplex opens the default full-duplex device.
func NewDuplex(cfg DuplexConfig) (*Duplex, error) {
	cfg.applyDefaults()

	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return nil, &CaptureError{Op: "init context", Err: err}
	}

	d := &Duplex{
		mctx:       mctx,
		format:     audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		frames:     make(chan audio.Frame, frameChanDepth),
		maxPending: cfg.SampleRate * 2 * cfg.Channels * maxPendingSeconds,
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = uint32(cfg.PeriodMs)
	devCfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: d.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return nil, classifyInitError("duplex", err)
	}
	d.device = device
	return d, nil
}

// onSamples is the hardware callback. It must not block: the capture side
// drops frames when the consumer falls behind, and the playback side fills
// silence when the pending buffer is empty.
func (d *Duplex) onSamples(pOutput, pInput []byte, _ uint32) {
	if pInput != nil {
		data := make([]byte, len(pInput))
		copy(data, pInput)

		d.seq++
		frame := audio.Frame{
			Sequence:   d.seq,
			Data:       data,
			SampleRate: d.format.SampleRate,
			Channels:   d.format.Channels,
			CapturedAt: time.Now(),
		}
		select {
		case d.frames <- frame:
		default:
		}
	}

	if pOutput != nil {
		d.mu.Lock()
		n := copy(pOutput, d.pending)
		d.pending = d.pending[n:]
		d.mu.Unlock()
		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
	}
}

// Start implements [Source] and [Sink]. One Start serves both directions.
func (d *Duplex) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	if err := d.device.Start(); err != nil {
		return classifyInitError("duplex", err)
	}
	d.started = true
	return nil
}

// Frames implements [Source].
func (d *Duplex) Frames() <-chan audio.Frame { return d.frames }

// Format implements [Source] and [Sink].
func (d *Duplex) Format() audio.Format { return d.format }

// Write implements [Sink]. When the pending buffer exceeds its cap the
// oldest audio is dropped to bound memory.
func (d *Duplex) Write(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, pcm...)
	if len(d.pending) > d.maxPending {
		d.pending = d.pending[len(d.pending)-d.maxPending:]
	}
	return nil
}

// Flush implements [Sink].
func (d *Duplex) Flush() {
	d.mu.Lock()
	d.pending = d.pending[:0]
	d.mu.Unlock()
}

// Pending implements [Sink].
func (d *Duplex) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close implements [Source] and [Sink].
func (d *Duplex) Close() error {
	d.closeOnce.Do(func() {
		if d.device != nil {
			_ = d.device.Stop()
			d.device.Uninit()
		}
		if d.mctx != nil {
			_ = d.mctx.Uninit()
		}
		close(d.frames)
	})
	return nil
}

// classifyInitError distinguishes OS permission refusals from other device
// failures. miniaudio reports both through generic error strings.
func classifyInitError(name string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return &PermissionDeniedError{Device: name, Err: err}
	}
	return &CaptureError{Op: "init " + name, Err: err}
}
