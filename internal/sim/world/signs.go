package world

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"tilecraft.ai/internal/sim/tiles"
)

const MaxSignText = 20

func signKey(x, y int) string { return fmt.Sprintf("%d,%d", x, y) }

func parseSignKey(k string) (int, int, bool) {
	xs, ys, ok := strings.Cut(k, ",")
	if !ok {
		return 0, 0, false
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

// ClampSignText normalises text to NFC and keeps at most MaxSignText runes.
func ClampSignText(text string) string {
	s := norm.NFC.String(text)
	r := []rune(s)
	if len(r) > MaxSignText {
		r = r[:MaxSignText]
	}
	return string(r)
}

// SetSignText stores text on a Sign tile and in the world sign map. Non-sign tiles ignore it.
func (w *World) SetSignText(x, y int, text string) {
	if !w.InBounds(x, y) || w.tiles[x][y].Type != tiles.Sign {
		return
	}
	text = ClampSignText(text)
	w.tiles[x][y].SignText = text
	if text == "" {
		delete(w.signs, signKey(x, y))
		return
	}
	w.signs[signKey(x, y)] = text
}

func (w *World) SignText(x, y int) string {
	if !w.InBounds(x, y) {
		return ""
	}
	if t := w.tiles[x][y].SignText; t != "" {
		return t
	}
	return w.signs[signKey(x, y)]
}

type SignEntry struct {
	X, Y int
	Text string
}

// Signs lists sign texts ordered by position.
func (w *World) Signs() []SignEntry {
	out := make([]SignEntry, 0, len(w.signs))
	for k, text := range w.signs {
		x, y, ok := parseSignKey(k)
		if !ok {
			continue
		}
		out = append(out, SignEntry{X: x, Y: y, Text: text})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}
