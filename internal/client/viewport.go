package client

// AutoscrollThreshold is how close to the bottom, in pixels, the viewport
// must be for a new message to scroll it down.
const AutoscrollThreshold = 100

// Viewport models a scroll container over the timeline. Heights are in
// pixels; ScrollTop is the offset of the visible window from the top of the
// content.
type Viewport struct {
	ScrollTop    float64
	ClientHeight float64
	ScrollHeight float64
}

// MaxScrollTop is the largest valid ScrollTop.
func (v *Viewport) MaxScrollTop() float64 {
	if v.ScrollHeight <= v.ClientHeight {
		return 0
	}
	return v.ScrollHeight - v.ClientHeight
}

// DistanceToBottom is how far the visible window is from the end of the
// content.
func (v *Viewport) DistanceToBottom() float64 {
	return v.ScrollHeight - v.ScrollTop - v.ClientHeight
}

// AtTop reports whether the window touches the start of the content, which
// is where backfill is triggered.
func (v *Viewport) AtTop() bool {
	return v.ScrollTop <= 0
}

// ScrollTo moves the window, clamped to the content.
func (v *Viewport) ScrollTo(y float64) {
	switch {
	case y < 0:
		y = 0
	case y > v.MaxScrollTop():
		y = v.MaxScrollTop()
	}
	v.ScrollTop = y
}

// ScrollToBottom moves the window to the end of the content.
func (v *Viewport) ScrollToBottom() {
	v.ScrollTop = v.MaxScrollTop()
}

// Reset replaces the content with one of the given height and shows its end.
func (v *Viewport) Reset(height float64) {
	v.ScrollHeight = height
	v.ScrollToBottom()
}

// Prepend adds height above the current content. ScrollTop moves by the same
// amount, so whatever was on screen stays where it was.
func (v *Viewport) Prepend(height float64) {
	v.ScrollHeight += height
	v.ScrollTop += height
}

// Append adds height below the current content. The window follows it only
// if it was within AutoscrollThreshold of the bottom beforehand; it reports
// whether it did.
func (v *Viewport) Append(height float64) bool {
	follow := v.DistanceToBottom() < AutoscrollThreshold
	v.ScrollHeight += height
	if follow {
		v.ScrollToBottom()
	}
	return follow
}
