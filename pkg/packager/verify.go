package packager

import (
	"fmt"
	"strings"

	"github.com/primait/lambda-deploy/tools/filesystem/zip"
)

// HandlerFiles returns the archive entries that can hold the handler; any one of
// them is enough. Runtimes whose handler is not a file path return nil.
func HandlerFiles(runtime, handler string) []string {
	module := handler
	if i := strings.LastIndex(handler, "."); i > 0 {
		module = handler[:i]
	}
	switch {
	case strings.HasPrefix(runtime, "python"):
		return []string{strings.ReplaceAll(module, ".", "/") + ".py"}
	case strings.HasPrefix(runtime, "nodejs"):
		return []string{module + ".js", module + ".mjs", module + ".cjs"}
	case strings.HasPrefix(runtime, "ruby"):
		return []string{module + ".rb"}
	case strings.HasPrefix(runtime, "provided"):
		return []string{"bootstrap"}
	default:
		return nil
	}
}

// Verify checks the archive opens, is not empty, carries the handler module and
// every required entry.
func Verify(path, runtime, handler string, required []string) error {
	entries, err := zip.Entries(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidPackage, path)
	}
	present := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		present[e] = struct{}{}
	}

	if candidates := HandlerFiles(runtime, handler); len(candidates) > 0 {
		found := false
		for _, c := range candidates {
			if _, ok := present[c]; ok {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: handler %s needs one of %s in the package", ErrInvalidPackage, handler, strings.Join(candidates, ", "))
		}
	}
	var missing []string
	for _, r := range required {
		if _, ok := present[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidPackage, strings.Join(missing, ", "))
	}
	return nil
}
