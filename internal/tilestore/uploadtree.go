package tilestore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// UploadTree walks every regular file under localRoot and uploads it to
// store, keyed by its slash-separated path relative to localRoot, and
// returns the number of files uploaded. It can publish a rendered tile
// pyramid or terrain directory as it is laid out on disk.
func UploadTree(ctx context.Context, store Store, localRoot string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(localRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localRoot, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		if err := store.Upload(ctx, key, f, info.Size()); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, apperr.Wrap(apperr.StorageErr, "failed to upload tree "+localRoot, err)
	}
	return uploaded, nil
}
