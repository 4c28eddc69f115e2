package governance

import "path/filepath"

func matchSegment(pattern, segment string) (bool, error) {
	return filepath.Match(pattern, segment)
}
