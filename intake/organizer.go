package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveDestination returns a collision-free path for filename inside
// dir. The original name is preferred; when taken, a counter suffix is
// appended to the stem: name_1.xml, name_2.xml, and so on.
//
// The pipeline is single-threaded, so check-then-move is race-free within
// one process generation. A concurrent caller would need an atomic
// check-and-move instead.
func ResolveDestination(dir, filename string) (string, error) {
	candidate := filepath.Join(dir, filename)
	free, err := pathFree(candidate)
	if err != nil {
		return "", err
	}
	if free {
		return candidate, nil
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
		free, err := pathFree(candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
}

func pathFree(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("intake: stat %s: %w", path, err)
	}
	return false, nil
}
