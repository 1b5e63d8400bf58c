package types

// ---- Job parameters supplied to Configure ----

// UpdateWindow is the panel rectangle touched by one refresh job (inclusive).
type UpdateWindow struct {
	Left   uint32 `json:"left" yaml:"left"`
	Top    uint32 `json:"top" yaml:"top"`
	Right  uint32 `json:"right" yaml:"right"`
	Bottom uint32 `json:"bottom" yaml:"bottom"`
}

func (w UpdateWindow) Width() uint32 {
	if w.Right < w.Left {
		return 0
	}
	return w.Right - w.Left + 1
}

func (w UpdateWindow) Height() uint32 {
	if w.Bottom < w.Top {
		return 0
	}
	return w.Bottom - w.Top + 1
}

// ImageRef is an opaque handle to the composed image the job displays.
type ImageRef struct {
	Handle    uint64 `json:"handle"`
	PhysAddr  uint64 `json:"phys_addr"`
	UpdateAll bool   `json:"upd_all_en"` // full-panel update mode switch
}

// WaveformAddr is the physical/logical pair of a waveform table or region.
// Data is the CPU view; Phys is what the hardware is programmed with.
type WaveformAddr struct {
	Phys uint64
	Data []byte
}

// UpdateMode is the panel update mode selected by the job issuer.
type UpdateMode uint32

const (
	ModeInit UpdateMode = iota
	ModeDU
	ModeGC16
	ModeGC4
	ModeA2
	ModeGL16
	ModeGLR16
	ModeGLD16
)

func (m UpdateMode) String() string {
	switch m {
	case ModeInit:
		return "init"
	case ModeDU:
		return "du"
	case ModeGC16:
		return "gc16"
	case ModeGC4:
		return "gc4"
	case ModeA2:
		return "a2"
	case ModeGL16:
		return "gl16"
	case ModeGLR16:
		return "glr16"
	case ModeGLD16:
		return "gld16"
	default:
		return "unknown"
	}
}

// JobParams binds a refresh job to an allocated pipe.
type JobParams struct {
	Window      UpdateWindow
	Image       ImageRef
	Waveform    WaveformAddr
	TotalFrames uint32
	Mode        UpdateMode
}
