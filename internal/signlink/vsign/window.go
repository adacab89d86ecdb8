package vsign

// windowGap separates the end of a long value from its start when the value
// wraps around across signs.
const windowGap = "  "

// Window returns the part of text shown on a sign line of the given width.
// Text that fits is shown whole on every sign; longer text is treated as a
// loop and sign number rank shows the rank-th width-sized segment of it.
func Window(text string, width, rank int) string {
	r := []rune(text)
	if width <= 0 || len(r) <= width {
		return text
	}
	cycle := append(r, []rune(windowGap)...)
	if rank < 0 {
		rank = 0
	}
	start := (rank * width) % len(cycle)
	out := make([]rune, width)
	for i := range out {
		out[i] = cycle[(start+i)%len(cycle)]
	}
	return string(out)
}
