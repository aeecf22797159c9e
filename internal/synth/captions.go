package synth

import (
	"strings"
	"time"
)

// Cue is one caption shown from Start to End.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

type ccTriplet struct {
	ccType byte // 0 = field 1 (CC1/CC2)
	data1  byte
	data2  byte
}

type cc608Pair struct {
	cc1, cc2 byte
	frame    int
}

func cc608(c1, c2 byte) cc608Pair { return cc608Pair{cc1: c1, cc2: c2} }

// scheduleCaptions lays cues out as one CEA-608 roll-up byte pair per
// frame on CC1. Control codes are doubled, as receivers expect. It returns
// nil when there are no cues.
func scheduleCaptions(cues []Cue, fpsNum, fpsDen, frames int) []ccTriplet {
	if len(cues) == 0 {
		return nil
	}
	toFrame := func(d time.Duration) int {
		return int(int64(d) * int64(fpsNum) / (int64(time.Second) * int64(fpsDen)))
	}

	var cmds []cc608Pair
	for _, cue := range cues {
		start, end := toFrame(cue.Start), min(toFrame(cue.End), frames)
		if start >= frames {
			break
		}
		pairs := []cc608Pair{
			cc608(0x14, 0x25), cc608(0x14, 0x25), // RU2
			cc608(0x14, 0x2C), cc608(0x14, 0x2C), // EDM
			cc608(0x14, 0x60), cc608(0x14, 0x60), // PAC row 14
		}
		text := normalizeText(cue.Text)
		for i := 0; i < len(text); i += 2 {
			if i+1 < len(text) {
				pairs = append(pairs, cc608(text[i], text[i+1]))
			} else {
				pairs = append(pairs, cc608(text[i], 0x80))
			}
		}
		for i, p := range pairs {
			p.frame = start + i
			cmds = append(cmds, p)
		}
		if end < frames {
			cmds = append(cmds, cc608Pair{0x14, 0x2C, end}, cc608Pair{0x14, 0x2C, end + 1})
		}
	}

	out := make([]ccTriplet, frames)
	for i := range out {
		out[i] = ccTriplet{data1: 0x80, data2: 0x80}
	}
	for _, c := range cmds {
		if c.frame >= 0 && c.frame < frames {
			out[c.frame] = ccTriplet{data1: c.cc1, data2: c.cc2}
		}
	}
	return out
}

func normalizeText(s string) []byte {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 32 {
		s = s[:32]
	}
	out := make([]byte, 0, len(s))
	for _, ch := range s {
		if ch >= 0x20 && ch <= 0x7E {
			out = append(out, byte(ch))
		} else {
			out = append(out, '?')
		}
	}
	return out
}

// buildCaptionSEI returns an Annex-B SEI NAL unit carrying A/53 cc_data.
func buildCaptionSEI(triplets []ccTriplet) []byte {
	msg := encodeSEIMessage(4, buildA53Payload(triplets))
	msg = append(msg, 0x80) // rbsp trailing bits

	nal := []byte{0x00, 0x00, 0x00, 0x01, 0x06}
	return append(nal, addEPB(msg)...)
}

func buildA53Payload(triplets []ccTriplet) []byte {
	n := min(len(triplets), 31)
	p := []byte{
		0xB5,       // country code: United States
		0x00, 0x31, // provider: ATSC
		'G', 'A', '9', '4',
		0x03,           // cc_data
		0x40 | byte(n), // process_cc_data_flag, cc_count
		0xFF,           // em_data
	}
	for _, t := range triplets[:n] {
		p = append(p, 0xFC|t.ccType&0x03, addParity(t.data1), addParity(t.data2))
	}
	return append(p, 0xFF)
}

func encodeSEIMessage(payloadType int, payload []byte) []byte {
	var out []byte
	for pt := payloadType; ; pt -= 255 {
		if pt < 255 {
			out = append(out, byte(pt))
			break
		}
		out = append(out, 0xFF)
	}
	for ps := len(payload); ; ps -= 255 {
		if ps < 255 {
			out = append(out, byte(ps))
			break
		}
		out = append(out, 0xFF)
	}
	return append(out, payload...)
}

// addEPB inserts emulation prevention bytes.
func addEPB(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/64)
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// addParity sets the high bit for odd parity.
func addParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}
