package recorder

import "github.com/smazurov/nvrlite/internal/media"

// prebuffer is the rolling pre-roll window. Packets are appended at the
// back; the front is pruned so the buffer never spans more than maxSeconds
// of source time beyond the newest packet's interval.
type prebuffer struct {
	packets    []media.Packet
	maxSeconds float64
}

func newPrebuffer(maxSeconds float64) *prebuffer {
	return &prebuffer{maxSeconds: maxSeconds}
}

// timestamp returns pts falling back to dts.
func timestamp(p media.Packet) int64 {
	if p.PTS != media.NoTimestamp {
		return p.PTS
	}
	return p.DTS
}

// push appends the packet and prunes the front. Untimestamped packets are
// only pruned together with the next timestamped packet behind them.
func (b *prebuffer) push(p media.Packet) {
	b.packets = append(b.packets, p)

	last := timestamp(b.packets[len(b.packets)-1])
	if last == media.NoTimestamp {
		return
	}
	lastSec := b.packets[len(b.packets)-1].TimeBase.Seconds(last)

	for len(b.packets) > 1 {
		// first timestamped packet, dragging leading untimestamped
		// ones along when it goes
		idx := -1
		for i := range b.packets {
			if timestamp(b.packets[i]) != media.NoTimestamp {
				idx = i
				break
			}
		}
		if idx < 0 || idx == len(b.packets)-1 {
			return
		}
		firstSec := b.packets[idx].TimeBase.Seconds(timestamp(b.packets[idx]))
		if lastSec-firstSec <= b.maxSeconds {
			return
		}
		b.packets = b.packets[idx+1:]
	}
}

// spanSeconds reports the source-time distance between the oldest and
// newest timestamped packets.
func (b *prebuffer) spanSeconds() float64 {
	var first, last float64
	haveFirst := false
	for i := range b.packets {
		ts := timestamp(b.packets[i])
		if ts == media.NoTimestamp {
			continue
		}
		sec := b.packets[i].TimeBase.Seconds(ts)
		if !haveFirst {
			first = sec
			haveFirst = true
		}
		last = sec
	}
	if !haveFirst {
		return 0
	}
	return last - first
}

// trimToKey drops leading packets up to the first key frame so the
// recording starts decodable.
func (b *prebuffer) trimToKey() {
	for i := range b.packets {
		if b.packets[i].Key {
			b.packets = b.packets[i:]
			return
		}
	}
	b.packets = nil
}

// drain hands out the buffered packets in order and empties the buffer.
func (b *prebuffer) drain() []media.Packet {
	out := b.packets
	b.packets = nil
	return out
}

func (b *prebuffer) len() int {
	return len(b.packets)
}
