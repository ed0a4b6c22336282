package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const maxNameAttempts = 1000

// Saver persists a received file and returns where it went.
type Saver interface {
	Save(ctx context.Context, file File) (string, error)
}

// DirSaver writes received files into Dir without overwriting existing files.
type DirSaver struct {
	Dir string
}

// Save implements Saver. The remote name is reduced to its base name; on a
// clash "name (1).ext", "name (2).ext", ... are tried.
func (s DirSaver) Save(ctx context.Context, file File) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Op: "save", Name: file.Name, Err: err}
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", &Error{Op: "save", Name: file.Name, Err: err}
	}

	name := safeName(file.Name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(s.Dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", &Error{Op: "save", Name: file.Name, Err: err}
		}

		if _, err := f.Write(file.Data); err != nil {
			f.Close()
			os.Remove(path)
			return "", &Error{Op: "save", Name: file.Name, Err: err}
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", &Error{Op: "save", Name: file.Name, Err: err}
		}
		return path, nil
	}

	return "", &Error{Op: "save", Name: file.Name, Err: fmt.Errorf("no free file name after %d attempts", maxNameAttempts)}
}

func safeName(name string) string {
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if name == "/" || name == "." || name == "" {
		return "download"
	}
	return name
}
