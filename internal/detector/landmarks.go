// Package detector provides landmark detection interfaces and types for dataset capture.
package detector

import "strings"

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// NumFaceLandmarks is the size of the MediaPipe face mesh (without iris refinement).
const NumFaceLandmarks = 468

// Side labels reported by the hand detector.
const (
	SideRight = "Right"
	SideLeft  = "Left"
)

// Point3D represents a 3D point in space with x, y, z coordinates.
// X and Y are image-relative in [0,1]; Z is relative depth and may be negative.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// Side returns the canonical side label ("Right" or "Left") or "" when the
// handedness label is not recognized.
func (h *HandLandmarks) Side() string {
	switch strings.ToLower(strings.TrimSpace(h.Handedness)) {
	case "right":
		return SideRight
	case "left":
		return SideLeft
	default:
		return ""
	}
}

// FaceLandmarks represents a single face mesh.
type FaceLandmarks struct {
	Points [NumFaceLandmarks]Point3D `json:"points"`
}

// Detection is the result of running the detector on one frame.
// Hands may be empty and Face may be nil.
type Detection struct {
	Hands []HandLandmarks `json:"hands"`
	Face  *FaceLandmarks  `json:"face,omitempty"`
}

// Empty reports whether nothing was detected.
func (d *Detection) Empty() bool {
	return d == nil || (len(d.Hands) == 0 && d.Face == nil)
}
