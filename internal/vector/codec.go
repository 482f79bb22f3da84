package vector

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/ayusman/mudra/internal/detector"
)

// Frame is a decoded feature vector.
type Frame struct {
	// Hands holds one entry per slot; absent hands are all zero.
	Hands [][detector.NumLandmarks][HandStride]float64 `json:"hands"`

	// Face is nil for layouts without the face block.
	Face *[detector.NumFaceLandmarks][FaceStride]float64 `json:"face,omitempty"`
}

// Present reports whether the slot holds a detected hand.
func (f *Frame) Present(slot int) bool {
	if slot < 0 || slot >= len(f.Hands) {
		return false
	}
	for _, lm := range f.Hands[slot] {
		if lm[3] != 0 {
			return true
		}
	}
	return false
}

// Codec converts detections to and from flat feature vectors. It is pure
// and safe for concurrent use.
type Codec struct {
	layout Layout
}

// NewCodec creates a codec for the given layout.
func NewCodec(layout Layout) (*Codec, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Codec{layout: layout}, nil
}

// Layout returns the codec's layout.
func (c *Codec) Layout() Layout {
	return c.layout
}

// Len returns the vector length produced by Encode.
func (c *Codec) Len() int {
	return c.layout.Len()
}

// Encode builds a feature vector. Hands are placed by side label, never by
// detection order. A nil face, or a layout without a face block, leaves the
// face region zero.
func (c *Codec) Encode(hands []detector.HandLandmarks, face *detector.FaceLandmarks) ([]float64, error) {
	vec := make([]float64, c.layout.Len())

	var filled [len(slotSides)]bool
	for i := range hands {
		side := hands[i].Side()
		if side == "" {
			return nil, fmt.Errorf("%w: hand %d has label %q", ErrUnknownSide, i, hands[i].Handedness)
		}
		slot := c.layout.Slot(side)
		if slot < 0 {
			return nil, fmt.Errorf("%w: %s hand with %d slot(s)", ErrSideOutOfLayout, side, c.layout.MaxHands)
		}
		if filled[slot] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSide, side)
		}
		filled[slot] = true

		base := slot * HandSlotLen
		for j, p := range hands[i].Points {
			off := base + j*HandStride
			vec[off] = p.X
			vec[off+1] = p.Y
			vec[off+2] = p.Z
			vec[off+3] = 1
		}
	}

	if c.layout.IncludeFace && face != nil {
		base := c.layout.HandLen()
		for j, p := range face.Points {
			off := base + j*FaceStride
			vec[off] = p.X
			vec[off+1] = p.Y
			vec[off+2] = p.Z
		}
	}

	return vec, nil
}

// EncodeDetection is Encode for a whole detection. A nil detection encodes
// to the zero vector.
func (c *Codec) EncodeDetection(d *detector.Detection) ([]float64, error) {
	if d == nil {
		return make([]float64, c.layout.Len()), nil
	}
	return c.Encode(d.Hands, d.Face)
}

// Decode splits a vector into its hand slots and face block.
func (c *Codec) Decode(vec []float64) (*Frame, error) {
	if len(vec) != c.layout.Len() {
		return nil, &LengthError{Expected: c.layout.Len(), Actual: len(vec)}
	}

	frame := &Frame{
		Hands: make([][detector.NumLandmarks][HandStride]float64, c.layout.MaxHands),
	}
	for slot := range frame.Hands {
		base := slot * HandSlotLen
		for j := 0; j < detector.NumLandmarks; j++ {
			copy(frame.Hands[slot][j][:], vec[base+j*HandStride:])
		}
	}

	if c.layout.IncludeFace {
		face := new([detector.NumFaceLandmarks][FaceStride]float64)
		base := c.layout.HandLen()
		for j := range face {
			copy(face[j][:], vec[base+j*FaceStride:])
		}
		frame.Face = face
	}

	return frame, nil
}

// Hand returns the landmarks held in a slot, or false if the slot is empty.
func (c *Codec) Hand(frame *Frame, slot int) (detector.HandLandmarks, bool) {
	if !frame.Present(slot) {
		return detector.HandLandmarks{}, false
	}
	h := detector.HandLandmarks{Handedness: c.layout.SlotSide(slot)}
	for j, lm := range frame.Hands[slot] {
		h.Points[j] = detector.Point3D{X: lm[0], Y: lm[1], Z: lm[2]}
	}
	return h, true
}

// HandRegion returns the hand sub-slice of vec. It shares memory with vec.
func (c *Codec) HandRegion(vec []float64) []float64 {
	n := c.layout.HandLen()
	if len(vec) < n {
		return vec
	}
	return vec[:n]
}

// NonZeroRatio returns the fraction of non-zero values, or 0 for empty input.
func NonZeroRatio(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return float64(CountNonZero(values)) / float64(len(values))
}

// CountNonZero returns the number of non-zero values.
func CountNonZero(values []float64) int {
	return floats.Count(func(v float64) bool { return v != 0 }, values)
}
