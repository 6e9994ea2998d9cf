package operations

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go-docspace/internal/dao"
	"go-docspace/internal/model"
)

const maxTitleAttempts = 10000

// copyTitle names the n-th duplicate of title: "a (copy).txt", "a (copy 2).txt".
// Folder titles keep their dots.
func copyTitle(title string, n int, file bool) string {
	ext := ""
	if file {
		ext = path.Ext(title)
	}
	base := strings.TrimSuffix(title, ext)
	if n <= 1 {
		return fmt.Sprintf("%s (copy)%s", base, ext)
	}
	return fmt.Sprintf("%s (copy %d)%s", base, n, ext)
}

// freeFileTitle returns title, or its first free duplicate name when a file
// of that title already exists in folderID.
func freeFileTitle[T model.ID](ctx context.Context, d dao.Dao[T], folderID T, title string) (string, error) {
	return freeTitle(title, true, func(candidate string) (bool, error) {
		f, err := d.GetFileByTitle(ctx, folderID, candidate)
		return f != nil, err
	})
}

func freeFolderTitle[T model.ID](ctx context.Context, d dao.Dao[T], parentID T, title string) (string, error) {
	return freeTitle(title, false, func(candidate string) (bool, error) {
		f, err := d.GetFolderByTitle(ctx, parentID, candidate)
		return f != nil, err
	})
}

func freeTitle(title string, file bool, taken func(string) (bool, error)) (string, error) {
	exists, err := taken(title)
	if err != nil || !exists {
		return title, err
	}
	for n := 1; n <= maxTitleAttempts; n++ {
		candidate := copyTitle(title, n, file)
		exists, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: could not find a free name for %q", model.ErrInvalidInput, title)
}
