package hydration

import (
	"encoding/binary"
	"fmt"
)

// payloadVersion is the first byte of every encoded payload. Bump it when
// the framing changes so a stale client fails loudly instead of misreading.
const payloadVersion = 1

// Encode serializes entries into the hydration payload. The framing is a
// version byte, a uvarint entry count, then for each entry a uvarint slot
// index, a uvarint state length and the state bytes. Entries must already
// be in slot order; encoding is fully deterministic, so the same resolved
// values always produce byte-identical output.
func Encode(entries []Entry) ([]byte, error) {
	size := 1 + binary.MaxVarintLen64
	for _, e := range entries {
		size += 2*binary.MaxVarintLen64 + len(e.State)
	}
	buf := make([]byte, 0, size)

	buf = append(buf, payloadVersion)
	buf = binary.AppendUvarint(buf, uint64(len(entries)))

	lastSlot := -1
	for _, e := range entries {
		if e.Slot <= lastSlot {
			return nil, fmt.Errorf("entries out of slot order: %d after %d", e.Slot, lastSlot)
		}
		lastSlot = e.Slot
		buf = binary.AppendUvarint(buf, uint64(e.Slot))
		buf = binary.AppendUvarint(buf, uint64(len(e.State)))
		buf = append(buf, e.State...)
	}
	return buf, nil
}

// Decode parses a payload produced by Encode. It is the inverse the client
// runtime uses to resume interactivity without re-fetching.
func Decode(payload []byte) ([]Entry, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if payload[0] != payloadVersion {
		return nil, fmt.Errorf("unsupported payload version %d", payload[0])
	}
	rest := payload[1:]

	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, fmt.Errorf("corrupt payload: missing entry count")
	}
	rest = rest[n:]

	entries := make([]Entry, 0, count)
	lastSlot := -1
	for i := uint64(0); i < count; i++ {
		slot, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("corrupt payload: missing slot for entry %d", i)
		}
		rest = rest[n:]

		if int(slot) <= lastSlot {
			return nil, fmt.Errorf("corrupt payload: slot %d out of order", slot)
		}
		lastSlot = int(slot)

		length, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("corrupt payload: missing length for slot %d", slot)
		}
		rest = rest[n:]

		if uint64(len(rest)) < length {
			return nil, fmt.Errorf("corrupt payload: truncated state for slot %d", slot)
		}
		state := make([]byte, length)
		copy(state, rest[:length])
		rest = rest[length:]

		entries = append(entries, Entry{Slot: int(slot), State: state})
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("corrupt payload: %d trailing bytes", len(rest))
	}
	return entries, nil
}
