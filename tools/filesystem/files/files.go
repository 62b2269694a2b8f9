package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"

	"github.com/primait/lambda-deploy/pkg/io/logging"
)

func PrettyJSONToFile(filePath string, fileName string, s interface{}) error {
	if err := os.MkdirAll(filePath, os.FileMode(0775)); err != nil {
		return fmt.Errorf("create output folder %s: %w", filePath, err)
	}

	filePath = filePath + string(filepath.Separator) + fileName
	if err := os.WriteFile(filePath, logging.PrettyJSON(s), 0600); err != nil {
		return fmt.Errorf("write %s: %w", filePath, err)
	}
	return nil
}

// SkipFunc decides whether a slash separated path relative to the walk root is left out.
// Returning true for a directory prunes the whole subtree.
type SkipFunc func(rel string, isDir bool) bool

// GetFiles walks root and returns the regular files kept by skip, as sorted slash separated
// paths relative to root. Symlinks to files are followed, symlinked directories are not.
func GetFiles(root string, skip SkipFunc) ([]string, error) {
	var out []string
	root = NormalizePath(root)
	err := filepath.WalkDir(root, func(s string, d fs.DirEntry, e error) error {
		if e != nil {
			return e
		}
		if s == root {
			return nil
		}
		rel, err := filepath.Rel(root, s)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skip != nil && skip(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(s)
			if err != nil || info.IsDir() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func NormalizePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if usr, err := user.Current(); err == nil {
			if path == "~" {
				path = usr.HomeDir
			} else {
				path = filepath.Join(usr.HomeDir, path[2:])
			}
		}
	}

	path, _ = filepath.Abs(filepath.Clean(path))
	return path
}
