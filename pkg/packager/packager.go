package packager

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/tools/filesystem/files"
	"github.com/primait/lambda-deploy/tools/filesystem/zip"
)

const (
	// MaxPackageSize is the largest archive Lambda accepts from S3.
	MaxPackageSize = 250 * 1024 * 1024
	// MaxDirectUploadSize is the largest archive accepted inline by CreateFunction/UpdateFunctionCode.
	MaxDirectUploadSize = 50 * 1024 * 1024
)

var (
	ErrNoFiles         = errors.New("no source files to package")
	ErrPackageTooLarge = errors.New("package exceeds the Lambda size limit")
	ErrInvalidPackage  = errors.New("invalid package")
)

// Package is a built deployment archive.
type Package struct {
	Path   string   `json:"path"`
	Files  []string `json:"files"`
	Size   int64    `json:"size"`
	SHA256 string   `json:"sha256"`
}

// RequiresS3 reports whether the archive is too big to be uploaded inline.
func (p *Package) RequiresS3() bool {
	return p.Size > MaxDirectUploadSize
}

func (p *Package) Bytes() ([]byte, error) {
	return os.ReadFile(p.Path)
}

type Packager struct {
	spec    *config.DeploymentSpec
	logger  logging.LogManager
	matcher *Matcher
}

func New(spec *config.DeploymentSpec, logger logging.LogManager) *Packager {
	return &Packager{
		spec:    spec,
		logger:  logger,
		matcher: NewMatcher(DefaultExcludes, spec.Exclude),
	}
}

// Build collects the source files and writes the archive at the configured package path.
func (p *Packager) Build() (*Package, error) {
	names, err := p.Collect()
	if err != nil {
		return nil, err
	}
	dst := p.spec.PackagePath()
	if err := zip.Zip(dst, p.spec.SourceDir, names); err != nil {
		return nil, fmt.Errorf("build package: %w", err)
	}

	sum, size, err := Digest(dst)
	if err != nil {
		return nil, err
	}
	pkg := &Package{Path: dst, Files: names, Size: size, SHA256: sum}
	if size > MaxPackageSize {
		return pkg, fmt.Errorf("%w: %s is %s", ErrPackageTooLarge, dst, HumanSize(size))
	}
	p.logger.Info("Package built", "path", dst, "files", len(names), "size", HumanSize(size), "sha256", sum)
	if pkg.RequiresS3() && p.spec.CodeBucket == "" {
		p.logger.Warn("Package is larger than 50 MB, set a code bucket to deploy it", "env", config.EnvName(config.KeyCodeBucket))
	}
	return pkg, nil
}

// Collect returns the sorted, de-duplicated list of files to package, relative to
// the source directory.
func (p *Packager) Collect() ([]string, error) {
	root := p.spec.SourceDir
	outputRel := p.outputRel()
	skip := func(rel string, isDir bool) bool {
		if outputRel != "" && (rel == outputRel || strings.HasPrefix(rel, outputRel+"/")) {
			return true
		}
		return p.matcher.Excluded(rel)
	}

	if len(p.spec.SourceFiles) == 0 {
		names, err := files.GetFiles(root, skip)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("%w in %s", ErrNoFiles, root)
		}
		return names, nil
	}

	seen := make(map[string]struct{})
	for _, entry := range p.spec.SourceFiles {
		matches, err := p.expand(entry)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			p.logger.Warn("Source file not found, skipping", "file", entry)
			continue
		}
		for _, match := range matches {
			rel, err := filepath.Rel(root, match)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return nil, fmt.Errorf("%w: %s is outside the source directory %s", ErrInvalidPackage, entry, root)
			}
			rel = filepath.ToSlash(rel)
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", entry, err)
			}
			if !info.IsDir() {
				if !skip(rel, false) {
					seen[rel] = struct{}{}
				} else {
					p.logger.Debug("Excluded from package", "file", rel)
				}
				continue
			}
			if skip(rel, true) {
				continue
			}
			nested, err := files.GetFiles(match, func(sub string, isDir bool) bool {
				return skip(rel+"/"+sub, isDir)
			})
			if err != nil {
				return nil, err
			}
			for _, n := range nested {
				seen[rel+"/"+n] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: none of %s exist", ErrNoFiles, strings.Join(p.spec.SourceFiles, ", "))
	}
	return names, nil
}

func (p *Packager) expand(entry string) ([]string, error) {
	full := entry
	if !filepath.IsAbs(full) {
		full = filepath.Join(p.spec.SourceDir, filepath.FromSlash(entry))
	}
	if strings.ContainsAny(entry, "*?[") {
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidPackage, entry, err)
		}
		return matches, nil
	}
	if !files.Exists(full) {
		return nil, nil
	}
	return []string{filepath.Clean(full)}, nil
}

func (p *Packager) outputRel() string {
	rel, err := filepath.Rel(p.spec.SourceDir, p.spec.OutputDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Digest returns the base64 SHA-256 of a file, the encoding Lambda uses for CodeSha256.
func Digest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), n, nil
}

func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
