package types

import (
	"fmt"

	"einkpipe-go/errcode"
)

// Timing is the panel line/frame timing in pixel clocks and lines.
type Timing struct {
	LBL uint32 `yaml:"lbl"` // line begin
	LSL uint32 `yaml:"lsl"` // line sync
	LDL uint32 `yaml:"ldl"` // line data
	LEL uint32 `yaml:"lel"` // line end
	FBL uint32 `yaml:"fbl"` // frame begin
	FSL uint32 `yaml:"fsl"` // frame sync
	FDL uint32 `yaml:"fdl"` // frame data
	FEL uint32 `yaml:"fel"` // frame end
}

func (t Timing) HSync() uint32 { return t.LBL + t.LSL + t.LDL + t.LEL }
func (t Timing) VSync() uint32 { return t.FBL + t.FSL + t.FDL + t.FEL }

// Panel is the snapshot of panel configuration the manager works from.
type Panel struct {
	Name       string `yaml:"name"`
	BitNum     uint32 `yaml:"bit_num"`     // grey-level bits: 4 or 5
	DataLen    uint32 `yaml:"data_len"`    // output bus width: 8 or 16
	OutputMode uint32 `yaml:"output_mode"` // opaque, handed to SetOutputMode
	Width      uint32 `yaml:"width"`
	Height     uint32 `yaml:"height"`
	Timing     Timing `yaml:"timing"`
}

// MaxPipes is the number of pipe slots the hardware offers at this bit depth.
func (p Panel) MaxPipes() (int, error) {
	switch p.BitNum {
	case 4:
		return 64, nil
	case 5:
		return 31, nil
	default:
		return 0, errcode.New(errcode.InvalidParams, "panel", fmt.Sprintf("unsupported bit depth %d", p.BitNum))
	}
}

// FrameBytes is the size of one decoded waveform frame: 8-bit timing plus
// 8-bit waveform on an 8-bit bus, 8-bit timing plus 16-bit waveform otherwise.
func (p Panel) FrameBytes() int {
	per := uint64(2 + 1)
	if p.DataLen == 8 {
		per = 1 + 1
	}
	return int(uint64(p.Timing.HSync()) * uint64(p.Timing.VSync()) * per)
}

// WaveBytes is the write-back size for a job of the given frame count.
func (p Panel) WaveBytes(frames uint32) int {
	return p.FrameBytes() * int(frames)
}

func (p Panel) Validate() error {
	if _, err := p.MaxPipes(); err != nil {
		return err
	}
	if p.DataLen != 8 && p.DataLen != 16 {
		return errcode.New(errcode.InvalidParams, "panel", fmt.Sprintf("unsupported data length %d", p.DataLen))
	}
	if p.FrameBytes() == 0 {
		return errcode.New(errcode.InvalidParams, "panel", "timing yields an empty frame")
	}
	return nil
}
