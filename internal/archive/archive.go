// Package archive copies finished worker logs to a blob store.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/hash/sha256"
)

// ManifestName is the checksum file uploaded next to each archived directory.
const ManifestName = "SHA256SUMS"

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Archiver uploads files below Root, keyed by their path relative to Root.
type Archiver struct {
	store  BlobStore
	root   string
	prefix string
	logger *zap.Logger
}

// New builds an Archiver. Object keys are prefix/<path relative to root>.
func New(store BlobStore, root, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, root: filepath.Clean(root), prefix: strings.Trim(prefix, "/"), logger: logger}
}

// ArchiveDir uploads every regular file under dir followed by a SHA256SUMS
// manifest of the uploaded files. It keeps going past individual failures and
// returns them joined.
func (a *Archiver) ArchiveDir(ctx context.Context, dir string) error {
	var errs []error
	var manifest sha256.Manifest
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() || d.Name() == ManifestName {
			return nil
		}
		uri, digest, err := a.upload(ctx, p)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if rel, err := filepath.Rel(dir, p); err == nil {
			manifest.Add(digest, filepath.ToSlash(rel))
		}
		a.logger.Debug("archived worker log", zap.String("file", p), zap.String("uri", uri), zap.String("sha256", digest))
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	if manifest.Len() > 0 && ctx.Err() == nil {
		if err := a.putManifest(ctx, dir, &manifest); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Archiver) upload(ctx context.Context, file string) (string, string, error) {
	key, err := a.Key(file)
	if err != nil {
		return "", "", err
	}
	f, err := os.Open(file) // #nosec G304 -- file comes from walking the run directory.
	if err != nil {
		return "", "", fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()
	digest := sha256.NewWriter()
	uri, err := a.store.PutObject(ctx, key, ContentType(file), io.TeeReader(f, digest))
	if err != nil {
		return "", "", fmt.Errorf("archive %s: %w", file, err)
	}
	return uri, digest.Hex(), nil
}

func (a *Archiver) putManifest(ctx context.Context, dir string, manifest *sha256.Manifest) error {
	key, err := a.Key(filepath.Join(dir, ManifestName))
	if err != nil {
		return err
	}
	if _, err := a.store.PutObject(ctx, key, ContentType(ManifestName), strings.NewReader(manifest.String())); err != nil {
		return fmt.Errorf("archive manifest for %s: %w", dir, err)
	}
	return nil
}

// Key returns the object key for a file below the root.
func (a *Archiver) Key(file string) (string, error) {
	rel, err := filepath.Rel(a.root, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file %s is outside %s", file, a.root)
	}
	key := filepath.ToSlash(rel)
	if a.prefix != "" {
		key = path.Join(a.prefix, key)
	}
	return key, nil
}

// ContentType picks the upload content type from the file extension.
func ContentType(file string) string {
	switch filepath.Ext(file) {
	case ".prom":
		return "text/plain; version=0.0.4"
	case ".json":
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}
