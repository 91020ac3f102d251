package model

import "strings"

// Color is the presentation tag of a nation. Values follow the 16-entry dye palette.
type Color uint8

const (
	ColorWhite Color = iota
	ColorOrange
	ColorMagenta
	ColorLightBlue
	ColorYellow
	ColorLime
	ColorPink
	ColorGray
	ColorLightGray
	ColorCyan
	ColorPurple
	ColorBlue
	ColorBrown
	ColorGreen
	ColorRed
	ColorBlack
)

var colorNames = [...]string{
	"white", "orange", "magenta", "light_blue", "yellow", "lime", "pink", "gray",
	"light_gray", "cyan", "purple", "blue", "brown", "green", "red", "black",
}

func (c Color) Valid() bool { return int(c) < len(colorNames) }

func (c Color) String() string {
	if !c.Valid() {
		return "unknown"
	}
	return colorNames[c]
}

// ParseColor resolves a palette name; callers pick their own fallback.
func ParseColor(s string) (Color, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range colorNames {
		if n == s {
			return Color(i), true
		}
	}
	return 0, false
}

// ColorOr parses s and falls back to def when it is not a palette name.
func ColorOr(s string, def Color) Color {
	if c, ok := ParseColor(s); ok {
		return c
	}
	return def
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText never fails: persisted colors outside the palette load as white.
func (c *Color) UnmarshalText(b []byte) error {
	*c = ColorOr(string(b), ColorWhite)
	return nil
}
