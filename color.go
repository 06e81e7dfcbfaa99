/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

// palette is ordered around the hue wheel, so neighbouring entries look alike.
var palette = []string{
	"#e53935",
	"#fb8c00",
	"#fdd835",
	"#43a047",
	"#00acc1",
	"#1e88e5",
	"#8e24aa",
	"#d81b60",
}

// colorFor maps a join index onto the palette, zig-zagging so that players
// who join one after another land on distant hues.
func colorFor(joinIndex int) string {
	size := len(palette)

	idy := joinIndex % size
	if idy < 0 {
		idy += size
	}

	idx := size - idy - 1

	var selected int
	if idx > 3 {
		selected = 2*(idx-4) + 1
	} else {
		selected = 2 * idx
	}

	return palette[selected%size]
}

func isPaletteColor(color string) bool {
	for _, c := range palette {
		if c == color {
			return true
		}
	}

	return false
}
