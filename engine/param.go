package engine

import (
	"fmt"
	"strconv"
)

// ParamKind enumerates the closed set of parameter kinds a loopseq control
// surface can bind to. This is the generalization of the reference
// implementation's QuantizerParam/LengthParam classes into one tagged
// variant, per the redesign guidance against open subclassing.
type ParamKind int

const (
	ParamQuantizeEnabled ParamKind = iota
	ParamQuantizeDivisor
	ParamGateLength
	ParamOffset
	ParamLoopBars
	ParamInputChannel
	ParamOutputChannel
	ParamThru
	ParamBPM
	ParamMetronome
)

// Param is a uniform typed knob: Get renders the current value for
// display, Cycle adjusts it by a rotary-encoder detent (positive or
// negative), and On reports toggle state for params that are switches
// rather than scrolling values.
type Param struct {
	Name string
	Kind ParamKind

	get   func() string
	cycle func(delta int)
	isOn  func() bool // nil for non-toggle params
}

// Get renders the parameter's current value as display text.
func (p Param) Get() string { return p.get() }

// Cycle adjusts the parameter by delta detents of its rotary encoder.
func (p Param) Cycle(delta int) { p.cycle(delta) }

// IsToggle reports whether this parameter is a toggle (quantizer enabled,
// thru, metronome) rather than a scrolling value.
func (p Param) IsToggle() bool { return p.isOn != nil }

// On reports the toggle state; false for non-toggle params.
func (p Param) On() bool {
	if p.isOn == nil {
		return false
	}
	return p.isOn()
}

var quantizeDivisors = []int{1, 2, 4, 8, 16, 32}

func divisorIndex(d int) int {
	for i, v := range quantizeDivisors {
		if v == d {
			return i
		}
	}
	return 2 // default to /4
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// TrackParams returns the closed list of parameters a control surface can
// scroll through for one track.
func TrackParams(tr *Track) []Param {
	return []Param{
		{
			Name: "bars",
			Kind: ParamLoopBars,
			get:  func() string { return strconv.Itoa(tr.Bars()) },
			cycle: func(delta int) {
				bars := tr.Bars() + delta
				if bars < 1 {
					bars = 1
				} else if bars > 16 {
					bars = 16
				}
				tr.SetBars(bars)
			},
		},
		{
			Name: "quantize",
			Kind: ParamQuantizeEnabled,
			get: func() string {
				if tr.Quantizer().Enabled {
					return "on"
				}
				return "off"
			},
			cycle: func(delta int) {
				q := tr.Quantizer()
				tr.SetQuantizer(!q.Enabled, q.Divisor)
			},
			isOn: func() bool { return tr.Quantizer().Enabled },
		},
		{
			Name: "divisor",
			Kind: ParamQuantizeDivisor,
			get:  func() string { return fmt.Sprintf("1/%d", tr.Quantizer().Divisor) },
			cycle: func(delta int) {
				q := tr.Quantizer()
				idx := clampIndex(divisorIndex(q.Divisor)+delta, len(quantizeDivisors))
				tr.SetQuantizer(q.Enabled, quantizeDivisors[idx])
			},
		},
		{
			Name: "gate length",
			Kind: ParamGateLength,
			get:  func() string { return fmt.Sprintf("%.2fx", tr.GateLength().Multiplier) },
			cycle: func(delta int) {
				mult := tr.GateLength().Multiplier + float64(delta)*0.05
				if mult < 0.05 {
					mult = 0.05
				} else if mult > 4 {
					mult = 4
				}
				tr.SetGateLength(mult)
			},
		},
		{
			Name: "offset",
			Kind: ParamOffset,
			get:  func() string { return fmt.Sprintf("%+.2f beat", tr.Offset().Offset) },
			cycle: func(delta int) {
				off := tr.Offset().Offset + float64(delta)*0.0625
				if off < -1 {
					off = -1
				} else if off > 1 {
					off = 1
				}
				tr.SetOffset(off)
			},
		},
		{
			Name: "input ch",
			Kind: ParamInputChannel,
			get: func() string {
				if ch := tr.InputChannel(); ch != nil {
					return strconv.Itoa(int(*ch))
				}
				return "any"
			},
			cycle: func(delta int) {
				cur := tr.InputChannel()
				var next int
				if cur == nil {
					next = 1
				} else {
					next = int(*cur) + delta
				}
				if next < 0 {
					tr.SetInputChannel(nil)
					return
				}
				if next > 16 {
					next = 16
				}
				if next == 0 {
					tr.SetInputChannel(nil)
					return
				}
				v := uint8(next)
				tr.SetInputChannel(&v)
			},
		},
		{
			Name: "output ch",
			Kind: ParamOutputChannel,
			get:  func() string { return strconv.Itoa(int(tr.OutputChannel())) },
			cycle: func(delta int) {
				tr.SetOutputChannel(uint8(int(tr.OutputChannel()) + delta))
			},
		},
		{
			Name: "thru",
			Kind: ParamThru,
			get: func() string {
				if tr.Thru() {
					return "on"
				}
				return "off"
			},
			cycle: func(delta int) { tr.SetThru(!tr.Thru()) },
			isOn:  func() bool { return tr.Thru() },
		},
	}
}

// TempoParams returns the closed list of global (non-track) parameters.
func TempoParams(tempo *Tempo) []Param {
	return []Param{
		{
			Name: "bpm",
			Kind: ParamBPM,
			get:  func() string { return strconv.Itoa(int(tempo.BPM())) },
			cycle: func(delta int) {
				tempo.SetBPM(tempo.BPM() + float64(delta))
			},
		},
		{
			Name: "metronome",
			Kind: ParamMetronome,
			get: func() string {
				if tempo.MetronomeEnabled() {
					return "on"
				}
				return "off"
			},
			cycle: func(delta int) { tempo.SetMetronomeEnabled(!tempo.MetronomeEnabled()) },
			isOn:  func() bool { return tempo.MetronomeEnabled() },
		},
	}
}
