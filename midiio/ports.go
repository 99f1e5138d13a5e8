package midiio

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"loopseq/engine"
	"loopseq/logx"
)

const (
	statusClock   = 0xF8
	statusSongPos = 0xF2
)

// ListOutputs returns the names of every MIDI output port currently visible
// to the driver.
func ListOutputs() []string {
	outs := midi.GetOutPorts()
	names := make([]string, len(outs))
	for i, o := range outs {
		names[i] = o.String()
	}
	return names
}

// ListInputs returns the names of every MIDI input port currently visible
// to the driver.
func ListInputs() []string {
	ins := midi.GetInPorts()
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	return names
}

// OutSender adapts a real MIDI output port to engine.Sender.
type OutSender struct {
	name string
	send func(midi.Message) error
}

// OpenOutput finds and opens the named output port. The returned close
// function should be called on shutdown; it is safe to call multiple
// times.
func OpenOutput(name string) (*OutSender, func() error, error) {
	out, err := midi.FindOutPort(name)
	if err != nil {
		return nil, nil, fmt.Errorf("find output port %q: %w", name, err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, nil, fmt.Errorf("open output port %q: %w", name, err)
	}
	return &OutSender{name: name, send: send}, out.Close, nil
}

// Send implements engine.Sender, translating an engine.Message to wire
// bytes and writing it to the open port.
func (s *OutSender) Send(msg engine.Message) error {
	wire, ok := toWire(msg)
	if !ok {
		return nil
	}
	if err := s.send(wire); err != nil {
		return fmt.Errorf("send to %q: %w", s.name, err)
	}
	return nil
}

// wireChannel converts an engine channel (1-16, as stored on Track and in
// state.json) to gomidi's zero-based channel.
func wireChannel(ch uint8) uint8 {
	if ch == 0 {
		return 0
	}
	return ch - 1
}

func toWire(msg engine.Message) (midi.Message, bool) {
	switch msg.Kind {
	case engine.NoteOn:
		return midi.NoteOn(wireChannel(msg.Channel), msg.Note, msg.Velocity), true
	case engine.NoteOff:
		return midi.NoteOff(wireChannel(msg.Channel), msg.Note), true
	case engine.Other:
		return midi.Message(msg.Raw), true
	default:
		return nil, false
	}
}

// ListenInput opens the named input port and delivers every message it
// receives to route, translated into engine.Message form. The returned
// stop function closes the listener; it runs until then in its own
// goroutine owned by the driver.
func ListenInput(name string, route func(port string, msg engine.Message)) (func(), error) {
	in, err := midi.FindInPort(name)
	if err != nil {
		return nil, fmt.Errorf("find input port %q: %w", name, err)
	}

	stop, err := midi.ListenTo(in, func(wire midi.Message, _ int32) {
		m, ok := fromWire(wire)
		if !ok {
			return
		}
		route(name, m)
	})
	if err != nil {
		return nil, fmt.Errorf("listen on input port %q: %w", name, err)
	}
	logx.Infof(logx.Input, "listening on %q", name)
	return stop, nil
}

func fromWire(wire midi.Message) (engine.Message, bool) {
	var ch, key, vel uint8

	if wire.GetNoteOn(&ch, &key, &vel) {
		return engine.Message{Kind: engine.NoteOn, Channel: ch + 1, Note: key, Velocity: vel}, true
	}
	if wire.GetNoteOff(&ch, &key, &vel) {
		return engine.Message{Kind: engine.NoteOff, Channel: ch + 1, Note: key}, true
	}

	raw := []byte(wire)
	if len(raw) == 0 {
		return engine.Message{}, false
	}
	switch raw[0] {
	case statusClock:
		return engine.Message{Kind: engine.Clock}, true
	case statusSongPos:
		if len(raw) < 3 {
			return engine.Message{}, false
		}
		pos := uint32(raw[1]) | uint32(raw[2])<<7
		return engine.Message{Kind: engine.SongPos, SongPosition: pos}, true
	default:
		return engine.Message{Kind: engine.Other, Raw: raw}, true
	}
}

// CloseDriver releases the underlying MIDI driver. Call once at process
// shutdown.
func CloseDriver() {
	midi.CloseDriver()
}
