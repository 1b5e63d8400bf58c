package pipeline

import "einkpipe-go/types"

// Capabilities the manager drives. Implementations only report success or
// failure; they must not call back into the manager synchronously.

// PipeControl programs individual pipe slots.
type PipeControl interface {
	EnablePipe(id int) error
	DisablePipe(id int) error
	SetUpdateAll(on bool) error
	ConfigurePipe(id int, p types.JobParams) error
	BindWaveform(id int, phys uint64) error
	// DecodedFrames is the hardware's own decode count for the pipe.
	DecodedFrames(id int) (uint32, error)
}

// DecodeEngine turns pipe waveforms into one frame of output data.
type DecodeEngine interface {
	PrepareDecode(phys uint64, panel types.Panel) error
	StartDecode() error
}

// TransferEngine streams a decoded frame to the panel.
type TransferEngine interface {
	ConfigureTransfer(panel types.Panel) error
	SetTransferAddr(phys uint64) error
	StartTransfer() error
}

// Output prepares the panel interface.
type Output interface {
	SetOutputMode(panel types.Panel) error
	SetDataReverse() error
	EnableIRQ() error
}

// Hardware is everything the manager needs from the controller. A
// wavedump.Writeback implementation is additionally required when the
// waveform dump is enabled.
type Hardware interface {
	PipeControl
	DecodeEngine
	TransferEngine
	Output
}

// Memory hands out DMA-able buffers for the ring and the dump.
type Memory interface {
	Alloc(size int) (types.WaveformAddr, error)
	Free(types.WaveformAddr)
}
