package protocol

import "unicode/utf16"

// CursorColors is the palette user colors are drawn from.
var CursorColors = []string{
	"#E57373", "#64B5F6", "#81C784", "#FFB74D", "#BA68C8", "#4DD0E1",
	"#FF8A65", "#AED581", "#F06292", "#7986CB", "#A1887F", "#90A4AE",
}

// StickyColors are the fills offered for sticky notes; the first is the default.
var StickyColors = []string{
	"#FFF176", "#80DEEA", "#A5D6A7", "#F48FB1", "#FFAB91", "#CE93D8",
}

// AssignColor picks a stable palette entry for a user id. The hash runs over
// UTF-16 code units so browser clients computing it locally agree.
func AssignColor(userID string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(userID)) {
		h = h*31 + int32(c)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return CursorColors[n%int64(len(CursorColors))]
}
