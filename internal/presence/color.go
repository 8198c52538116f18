// Package presence derives participant colors and carries the ephemeral
// per-connection awareness state that is broadcast next to the document.
package presence

import (
	"fmt"
	"math"
)

const (
	hueBuckets = 255
	saturation = 0.5
	value      = 1.0
)

// ColorFor returns the display color of a participant as "#rrggbb".
//
// The hue is taken from the client id modulo 255, so ids that differ by a
// multiple of 255 share a color.
func ColorFor(id uint32) string {
	h := float64(id%hueBuckets) / hueBuckets
	r, g, b := hsvToRGB(h, saturation, value)
	return fmt.Sprintf("#%02x%02x%02x", channel(r), channel(g), channel(b))
}

func hsvToRGB(h, s, v float64) (r, g, b float64) {
	h6 := h * 6
	i := math.Floor(h6)
	f := h6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	switch int(i) % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

func channel(c float64) int {
	n := int(math.Round(c * 255))
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return n
}
