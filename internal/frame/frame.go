// Package frame implements the framing/slicing layer:
// packetizing an arbitrary-size, already-encoded item into ≤512-byte
// on-wire frames, and reassembling fragments back into the original bytes.
package frame

import (
	"fmt"
	"sync"

	"github.com/retroshare-go/retronode/internal/wire"
)

// PreferredFrameSize is the target total size (slice header included) of
// one on-wire slice fragment.
const PreferredFrameSize = 512

// fragmentCapacity is how many payload bytes fit in one fragment once the
// 8-byte slice header is subtracted.
const fragmentCapacity = PreferredFrameSize - wire.HeaderSize

// SliceIDAllocator hands out slice-ids that wrap at 2^24.
// Safe for concurrent use; one allocator is shared per outbound actor.
type SliceIDAllocator struct {
	mu   sync.Mutex
	next uint32
}

// Next returns the next slice-id, wrapping at 2^24.
func (a *SliceIDAllocator) Next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next = (a.next + 1) & 0x00ffffff
	return id
}

// Frame splits an already-encoded item (its own 8-byte header followed by
// payload) into one or more on-wire frames. If the item fits in a single
// frame, Frame returns it unchanged, bit-identical to the input. Otherwise
// it returns a sequence of slice-framed fragments using a freshly allocated
// slice-id.
func Frame(item []byte, ids *SliceIDAllocator) [][]byte {
	if len(item) <= PreferredFrameSize {
		out := make([]byte, len(item))
		copy(out, item)
		return [][]byte{out}
	}

	sliceID := ids.Next()
	var frames [][]byte
	for off := 0; off < len(item); off += fragmentCapacity {
		end := off + fragmentCapacity
		if end > len(item) {
			end = len(item)
		}
		chunk := item[off:end]

		var flags uint8
		if off == 0 {
			flags |= wire.SliceFlagStart
		}
		if end == len(item) {
			flags |= wire.SliceFlagEnd
		}

		h := wire.NewSliceHeader(flags, sliceID, uint16(len(chunk)))
		hb := h.Encode()
		frame := make([]byte, 0, wire.HeaderSize+len(chunk))
		frame = append(frame, hb[:]...)
		frame = append(frame, chunk...)
		frames = append(frames, frame)
	}
	return frames
}

// reassemblyEntry accumulates the fragments of one in-flight slice-id.
type reassemblyEntry struct {
	data    []byte
	started bool
}

// Reassembler rebuilds sliced items from their fragments. It is local to
// one peer actor and requires no synchronization.
type Reassembler struct {
	entries map[uint32]*reassemblyEntry
	onWarn  func(format string, args ...interface{})
}

// NewReassembler constructs an empty reassembler. onWarn, if non-nil, is
// called for the logged-warning edge cases; it may be nil
// in tests.
func NewReassembler(onWarn func(format string, args ...interface{})) *Reassembler {
	return &Reassembler{
		entries: make(map[uint32]*reassemblyEntry),
		onWarn:  onWarn,
	}
}

func (re *Reassembler) warn(format string, args ...interface{}) {
	if re.onWarn != nil {
		re.onWarn(format, args...)
	}
}

// Feed processes one received slice header+payload. It returns the
// reassembled item bytes when the end-flag fragment completes an entry,
// or nil if more fragments are still expected.
func (re *Reassembler) Feed(h wire.Header, payload []byte) ([]byte, error) {
	if h.Kind != wire.VersionSlice {
		return nil, fmt.Errorf("frame: Feed called with non-slice header kind 0x%02x", h.Kind)
	}
	start := h.PartialFlags&wire.SliceFlagStart != 0
	end := h.PartialFlags&wire.SliceFlagEnd != 0
	if start && end {
		return nil, fmt.Errorf("frame: slice %d has both start and end flags set", h.SliceID)
	}

	if start {
		if _, exists := re.entries[h.SliceID]; exists {
			re.warn("frame: start flag for already-active slice %d, overwriting", h.SliceID)
		}
		entry := &reassemblyEntry{started: true}
		entry.data = append(entry.data, payload...)
		re.entries[h.SliceID] = entry
		return nil, nil
	}

	entry, ok := re.entries[h.SliceID]
	if !ok {
		re.warn("frame: fragment for unknown slice %d ignored", h.SliceID)
		return nil, nil
	}
	entry.data = append(entry.data, payload...)

	if !end {
		return nil, nil
	}

	delete(re.entries, h.SliceID)
	return entry.data, nil
}

// Abandon discards a reassembly entry without requiring an end-flag, used
// on connection close.
func (re *Reassembler) Abandon(sliceID uint32) {
	delete(re.entries, sliceID)
}

// AbandonAll discards every in-flight entry, used on connection teardown.
func (re *Reassembler) AbandonAll() {
	re.entries = make(map[uint32]*reassemblyEntry)
}

// Pending returns the number of in-flight reassembly entries, for tests
// and diagnostics.
func (re *Reassembler) Pending() int { return len(re.entries) }
