package captions

// nalSEI is the H.264 supplemental enhancement information NAL type.
const nalSEI = 6

type nalUnit struct {
	typ  byte
	data []byte
}

// splitAnnexB scans an Annex B byte stream for 3- and 4-byte start codes
// and returns the NAL units between them, header byte included.
func splitAnnexB(data []byte) []nalUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}
	var positions []scPos
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []nalUnit
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nal := data[pos.dataStart:end]
		units = append(units, nalUnit{typ: nal[0] & 0x1F, data: nal})
	}
	return units
}

// seiUnits returns the SEI NAL units in b. Input without a start code is
// treated as a single NAL unit.
func seiUnits(b []byte) [][]byte {
	units := splitAnnexB(b)
	if len(units) == 0 {
		if len(b) > 1 && b[0]&0x1F == nalSEI {
			return [][]byte{b}
		}
		return nil
	}
	var out [][]byte
	for _, u := range units {
		if u.typ == nalSEI && len(u.data) > 1 {
			out = append(out, u.data)
		}
	}
	return out
}
