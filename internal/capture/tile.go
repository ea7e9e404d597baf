package capture

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidTile is returned for malformed tile codes.
var ErrInvalidTile = errors.New("invalid tile code")

// TilePattern finds a tile code in free text: a regular tile such as "ABC",
// or "MRX" for the map's center.
var TilePattern = regexp.MustCompile(`\b([a-gA-GMm][a-gA-GRr][a-hA-HXx])\b`)

var tileCode = regexp.MustCompile(`^(?:[A-G][A-G][A-H]|MRX)$`)

// NormalizeTile upper-cases a tile code and checks it is well formed.
func NormalizeTile(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !tileCode.MatchString(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTile, code)
	}
	return code, nil
}

// FindTile returns the first valid tile code mentioned in text.
func FindTile(text string) (string, bool) {
	for _, m := range TilePattern.FindAllStringSubmatch(text, -1) {
		if code, err := NormalizeTile(m[1]); err == nil {
			return code, true
		}
	}
	return "", false
}
