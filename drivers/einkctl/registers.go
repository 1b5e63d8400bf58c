// Package einkctl drives an e-ink timing controller whose pipe, decode and
// transfer engines are programmed over I²C.
//
// Registers are 32-bit, little-endian, addressed by an 8-bit sub-address.
// Per-pipe registers are banked: write the pipe index to RegPipeSel first.
package einkctl

const (
	// 7-bit I²C address.
	AddressDefault = 0x3C

	// --- Control (0x00) ---
	RegCtrl = 0x00 // R/W

	CtrlIRQEnable    = 1 << 0
	CtrlDataReverse  = 1 << 1
	CtrlUpdateAll    = 1 << 2
	CtrlDecodeStart  = 1 << 4 // self-clearing
	CtrlXferStart    = 1 << 5 // self-clearing
	CtrlWritebackEn  = 1 << 6
	ctrlPersistMask  = CtrlIRQEnable | CtrlDataReverse | CtrlUpdateAll | CtrlWritebackEn
	ctrlStartBits    = CtrlDecodeStart | CtrlXferStart
	RegOutMode       = 0x01 // R/W: mode | data_len<<8 | bit_num<<16
	RegPipeEnableLo  = 0x02 // R/W: pipes 0..31
	RegPipeEnableHi  = 0x03 // R/W: pipes 32..63
	RegPipeSel       = 0x04 // R/W: bank select
	RegPipeWinLT     = 0x05 // R/W: left | top<<16
	RegPipeWinRB     = 0x06 // R/W: right | bottom<<16
	RegPipeFrames    = 0x07 // R/W
	RegPipeMode      = 0x08 // R/W
	RegPipeImageLo   = 0x09 // R/W
	RegPipeImageHi   = 0x0A // R/W
	RegPipeWaveLo    = 0x0B // R/W
	RegPipeWaveHi    = 0x0C // R/W
	RegPipeDecCount  = 0x0D // R: frames decoded by the selected pipe
	RegDecodeAddrLo  = 0x10 // R/W
	RegDecodeAddrHi  = 0x11 // R/W
	RegLineTiming0   = 0x12 // R/W: lbl | lsl<<16
	RegLineTiming1   = 0x13 // R/W: ldl | lel<<16
	RegFrameTiming0  = 0x14 // R/W: fbl | fsl<<16
	RegFrameTiming1  = 0x15 // R/W: fdl | fel<<16
	RegXferAddrLo    = 0x18 // R/W
	RegXferAddrHi    = 0x19 // R/W
	RegXferSize      = 0x1A // R/W: bytes per frame
	RegWritebackLo   = 0x1C // R/W
	RegWritebackHi   = 0x1D // R/W
	RegWritebackFrms = 0x1E // R/W
)

// MaxPipes is the size of the pipe enable mask.
const MaxPipes = 64

func lo32(v uint64) uint32 { return uint32(v) }
func hi32(v uint64) uint32 { return uint32(v >> 32) }

func pack16(lo, hi uint32) uint32 { return lo&0xFFFF | (hi&0xFFFF)<<16 }
