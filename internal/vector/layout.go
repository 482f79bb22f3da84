// Package vector defines the fixed feature-vector layout shared by capture,
// persistence and analysis, and the codec that converts detections to it.
package vector

import (
	"fmt"

	"github.com/ayusman/mudra/internal/detector"
)

const (
	// HandStride is the number of values per hand landmark (x, y, z, presence).
	HandStride = 4

	// FaceStride is the number of values per face landmark (x, y, z).
	FaceStride = 3

	// HandSlotLen is the number of values in one hand slot.
	HandSlotLen = detector.NumLandmarks * HandStride

	// FaceLen is the number of values in the face block.
	FaceLen = detector.NumFaceLandmarks * FaceStride
)

// slotSides maps slot position to side label. Slot 0 is always the right hand.
var slotSides = [...]string{detector.SideRight, detector.SideLeft}

// Layout describes the shape of a feature vector. It is fixed for a dataset.
type Layout struct {
	MaxHands    int  `yaml:"max_hands" json:"max_hands"`
	IncludeFace bool `yaml:"include_face" json:"include_face"`
}

// DefaultLayout is two hand slots followed by the face block (1572 values).
func DefaultLayout() Layout {
	return Layout{MaxHands: 2, IncludeFace: true}
}

// HandsOnlyLayout is two hand slots without the face block (168 values).
func HandsOnlyLayout() Layout {
	return Layout{MaxHands: 2, IncludeFace: false}
}

// Validate checks that the layout can be encoded.
func (l Layout) Validate() error {
	if l.MaxHands < 1 || l.MaxHands > len(slotSides) {
		return fmt.Errorf("%w: max hands must be 1 or 2, got %d", ErrInvalidLayout, l.MaxHands)
	}
	return nil
}

// HandLen returns the length of the hand region.
func (l Layout) HandLen() int {
	return l.MaxHands * HandSlotLen
}

// Len returns the total vector length.
func (l Layout) Len() int {
	n := l.HandLen()
	if l.IncludeFace {
		n += FaceLen
	}
	return n
}

// Slot returns the slot index for a side label, or -1 if the layout has no
// slot for it.
func (l Layout) Slot(side string) int {
	for i := 0; i < l.MaxHands && i < len(slotSides); i++ {
		if slotSides[i] == side {
			return i
		}
	}
	return -1
}

// SlotSide returns the side label stored in the given slot.
func (l Layout) SlotSide(slot int) string {
	if slot < 0 || slot >= l.MaxHands || slot >= len(slotSides) {
		return ""
	}
	return slotSides[slot]
}

// LayoutForLen returns the standard layout whose length is n.
func LayoutForLen(n int) (Layout, bool) {
	for _, l := range []Layout{
		DefaultLayout(),
		HandsOnlyLayout(),
		{MaxHands: 1, IncludeFace: true},
		{MaxHands: 1, IncludeFace: false},
	} {
		if l.Len() == n {
			return l, true
		}
	}
	return Layout{}, false
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	if l.IncludeFace {
		return fmt.Sprintf("%d hands + face (%d)", l.MaxHands, l.Len())
	}
	return fmt.Sprintf("%d hands (%d)", l.MaxHands, l.Len())
}
