// Package captions decodes CEA-608 and CEA-708 closed captions carried in
// A/53 SEI messages of a clip's video packets and answers which caption is
// showing at a playback position.
package captions

import (
	"log/slog"
	"sort"

	"github.com/zsiec/ccx"
)

// maxCues bounds the cue history; the oldest cues are dropped first.
const maxCues = 512

// Cue is caption text that becomes visible at Start and stays until the
// next cue on the same channel. An empty Text clears the channel.
type Cue struct {
	Start   int64 // ms
	Channel int
	Text    string
}

// Decoder accumulates cues from SEI payloads fed in presentation order.
// It is not safe for concurrent use.
type Decoder struct {
	log    *slog.Logger
	cea608 map[int]*ccx.CEA608Decoder
	cea708 map[int]*ccx.CEA708Service
	dtvcc  []byte

	// Receivers drop the second copy of a doubled control code.
	lastCtrl     [2][2]byte
	lastWasCtrl  [2]bool
	lastCtrlUnit [2]int64
	units        int64

	cues []Cue
}

// NewDecoder returns an empty decoder.
func NewDecoder(log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	d := &Decoder{log: log.With("component", "captions")}
	d.Reset()
	return d
}

// Reset discards decoder state and every cue. Call it after a seek.
func (d *Decoder) Reset() {
	d.cea608 = map[int]*ccx.CEA608Decoder{
		1: ccx.NewCEA608Decoder(),
		2: ccx.NewCEA608Decoder(),
		3: ccx.NewCEA608Decoder(),
		4: ccx.NewCEA608Decoder(),
	}
	d.cea708 = make(map[int]*ccx.CEA708Service, 6)
	for svc := 1; svc <= 6; svc++ {
		d.cea708[svc] = ccx.NewCEA708Service()
	}
	d.dtvcc = d.dtvcc[:0]
	d.lastCtrl = [2][2]byte{}
	d.lastWasCtrl = [2]bool{}
	d.lastCtrlUnit = [2]int64{}
	d.units = 0
	d.cues = d.cues[:0]
}

// Feed decodes the captions in one video unit's SEI data, which may be an
// Annex B stream or a bare SEI NAL unit. It returns the number of cues
// added.
func (d *Decoder) Feed(ms int64, sei []byte) int {
	d.units++
	before := len(d.cues)
	for _, nal := range seiUnits(sei) {
		d.feedNAL(ms, nal)
	}
	return len(d.cues) - before
}

func (d *Decoder) feedNAL(ms int64, nal []byte) {
	cd := ccx.ExtractCaptions(nal)
	if cd == nil {
		return
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		f := pair.Field
		if f < 0 || f > 1 {
			continue
		}
		if cc1 >= 0x10 && cc1 <= 0x1F {
			cp := [2]byte{cc1, cc2}
			if d.lastWasCtrl[f] && d.lastCtrl[f] == cp && d.units-d.lastCtrlUnit[f] <= 2 {
				d.lastWasCtrl[f] = false
				continue
			}
			d.lastCtrl[f] = cp
			d.lastWasCtrl[f] = true
			d.lastCtrlUnit[f] = d.units
		} else {
			d.lastWasCtrl[f] = false
		}

		dec := d.cea608[pair.Channel]
		if dec == nil {
			continue
		}
		text := dec.Decode(cc1, cc2)
		switch {
		case text != "":
			d.add(Cue{Start: ms, Channel: pair.Channel, Text: text})
		case isErase(cc1, cc2):
			d.add(Cue{Start: ms, Channel: pair.Channel})
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			d.drainDTVCC(ms)
			d.dtvcc = d.dtvcc[:0]
		}
		d.dtvcc = append(d.dtvcc, t.Data[0], t.Data[1])
	}
}

// isErase reports the erase displayed memory command on either data
// channel.
func isErase(cc1, cc2 byte) bool {
	return (cc1 == 0x14 || cc1 == 0x1C) && cc2 == 0x2C
}

func (d *Decoder) drainDTVCC(ms int64) {
	if len(d.dtvcc) < 1 {
		return
	}
	size := ccx.DTVCCPacketSize(d.dtvcc[0])
	if len(d.dtvcc) < size {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(d.dtvcc[:size]) {
		svc := d.cea708[block.ServiceNum]
		if svc == nil {
			continue
		}
		if svc.ProcessBlock(block.Data) {
			if text := svc.DisplayText(); text != "" {
				// 708 services follow the four 608 channels.
				d.add(Cue{Start: ms, Channel: block.ServiceNum + 6, Text: text})
			}
		}
	}
	d.dtvcc = d.dtvcc[size:]
}

func (d *Decoder) add(c Cue) {
	if n := len(d.cues); n > 0 && d.cues[n-1].Start > c.Start {
		d.log.Debug("out of order caption dropped", "start", c.Start, "last", d.cues[n-1].Start)
		return
	}
	if len(d.cues) == maxCues {
		d.cues = append(d.cues[:0], d.cues[1:]...)
	}
	d.cues = append(d.cues, c)
}

// At returns the cue showing at ms on the lowest-numbered channel that has
// visible text.
func (d *Decoder) At(ms int64) (Cue, bool) {
	// Cues at or before ms.
	n := sort.Search(len(d.cues), func(i int) bool { return d.cues[i].Start > ms })
	seen := map[int]bool{}
	var best Cue
	found := false
	for i := n - 1; i >= 0; i-- {
		c := d.cues[i]
		if seen[c.Channel] {
			continue
		}
		seen[c.Channel] = true
		if c.Text != "" && (!found || c.Channel < best.Channel) {
			best, found = c, true
		}
	}
	return best, found
}

// Prune drops cues that were superseded on their channel before ms.
func (d *Decoder) Prune(ms int64) {
	n := sort.Search(len(d.cues), func(i int) bool { return d.cues[i].Start > ms })
	keep := d.cues[:0]
	latest := map[int]int{}
	for i := 0; i < n; i++ {
		latest[d.cues[i].Channel] = i
	}
	for i, c := range d.cues {
		if i >= n || latest[c.Channel] == i {
			keep = append(keep, c)
		}
	}
	d.cues = keep
}

// Len returns the number of cues held.
func (d *Decoder) Len() int { return len(d.cues) }
