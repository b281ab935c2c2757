package symbolic

import (
	"errors"
	"fmt"
)

// ErrSlot is returned for a negative slot or for reading a slot which was never written.
var ErrSlot = errors.New("symbolic: invalid evaluation slot")

// slotBuffer caches the argument values and tangents of one node, one entry per evaluation slot.
// It only grows.
type slotBuffer struct {
	arity int
	val   [2][]float64
	tan   [2][]float64
	set   []uint8 // bit 0: values written, bit 1: tangents written
}

const (
	valuesSet   uint8 = 1
	tangentsSet uint8 = 2
)

func newSlotBuffer(arity int) *slotBuffer {
	return &slotBuffer{arity: arity}
}

// reserve makes room for slot.
func (b *slotBuffer) reserve(slot int) error {
	if slot < 0 {
		return fmt.Errorf("%w: %d", ErrSlot, slot)
	}
	if slot < len(b.set) {
		return nil
	}
	size := max(slot+1, 2*len(b.set))
	for i := 0; i < b.arity; i++ {
		b.val[i] = grow(b.val[i], size)
		b.tan[i] = grow(b.tan[i], size)
	}
	b.set = append(b.set, make([]uint8, size-len(b.set))...)
	return nil
}

func grow(s []float64, size int) []float64 {
	return append(s, make([]float64, size-len(s))...)
}

func (b *slotBuffer) storeValues(slot int, args ...float64) error {
	if err := b.reserve(slot); err != nil {
		return err
	}
	for i, a := range args {
		b.val[i][slot] = a
	}
	b.set[slot] |= valuesSet
	return nil
}

func (b *slotBuffer) storeTangents(slot int, args ...float64) error {
	if err := b.reserve(slot); err != nil {
		return err
	}
	for i, a := range args {
		b.tan[i][slot] = a
	}
	b.set[slot] |= tangentsSet
	return nil
}

func (b *slotBuffer) check(slot int, flag uint8) error {
	if slot < 0 || slot >= len(b.set) || b.set[slot]&flag == 0 {
		return fmt.Errorf("%w: %d not evaluated", ErrSlot, slot)
	}
	return nil
}

// values returns the cached argument values at slot.
func (b *slotBuffer) values(slot int) ([2]float64, error) {
	var out [2]float64
	if err := b.check(slot, valuesSet); err != nil {
		return out, err
	}
	for i := 0; i < b.arity; i++ {
		out[i] = b.val[i][slot]
	}
	return out, nil
}

// tangents returns the cached argument tangents at slot.
func (b *slotBuffer) tangents(slot int) ([2]float64, error) {
	var out [2]float64
	if err := b.check(slot, tangentsSet); err != nil {
		return out, err
	}
	for i := 0; i < b.arity; i++ {
		out[i] = b.tan[i][slot]
	}
	return out, nil
}

// Len returns the number of slots currently allocated.
func (b *slotBuffer) Len() int { return len(b.set) }
