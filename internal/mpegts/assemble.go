package mpegts

const pidPAT = 0x0000

// unit is the payload of one PES packet or PSI section group, reassembled
// from consecutive transport packets on a PID.
type unit struct {
	first   *Packet
	payload []byte
}

// assembler joins the payloads of one PID into units. A unit ends when the
// next payload_unit_start arrives or, for PSI, when its sections are
// complete.
type assembler struct {
	first   *Packet
	lastCC  uint8
	payload []byte
}

func (a *assembler) add(p *Packet, psi bool) *unit {
	h := p.Header
	if h.TransportErrorIndicator {
		a.drop()
		return nil
	}
	if !h.HasPayload {
		return nil
	}
	if a.first != nil && !h.DiscontinuityIndicator {
		switch h.ContinuityCounter {
		case (a.lastCC + 1) & 0x0F:
		case a.lastCC:
			return nil // repeated packet
		default:
			a.drop()
		}
	}

	var done *unit
	if h.PayloadUnitStartIndicator {
		done = a.take()
		a.first = p
	} else if a.first == nil {
		// The start of this unit was lost or precedes the read position.
		return nil
	}
	a.lastCC = h.ContinuityCounter
	a.payload = append(a.payload, p.Payload...)

	if done == nil && psi && walkSections(a.payload, nil) {
		done = a.take()
	}
	return done
}

// take hands off the unit being assembled. The payload buffer is not
// reused afterwards because parsed units alias it.
func (a *assembler) take() *unit {
	if a.first == nil || len(a.payload) == 0 {
		a.drop()
		return nil
	}
	u := &unit{first: a.first, payload: a.payload}
	a.first, a.payload = nil, nil
	return u
}

func (a *assembler) drop() {
	a.first = nil
	a.payload = a.payload[:0]
}
