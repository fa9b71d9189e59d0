package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MaxSuffix is the highest numeric suffix the namer will try.
const MaxSuffix = 9999

// ErrNamesExhausted is returned when every candidate name is taken.
var ErrNamesExhausted = errors.New("no free output name")

// Allocate reserves a unique path in dir for base+ext. It tries base.ext,
// then base-0001.ext up to base-9999.ext, claiming each candidate with an
// exclusive create so concurrent callers never receive the same path.
// The returned file is open for writing; the caller must close it.
func Allocate(dir, base, ext string) (*os.File, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, err
	}
	for i := 0; i <= MaxSuffix; i++ {
		f, err := os.OpenFile(filepath.Join(dir, candidate(base, ext, i)), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s%s in %s", ErrNamesExhausted, base, ext, dir)
}

// Reserve is Allocate for callers that write the file by path.
// The reserved file exists and is empty.
func Reserve(dir, base, ext string) (string, error) {
	f, err := Allocate(dir, base, ext)
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func candidate(base, ext string, n int) string {
	if n == 0 {
		return base + ext
	}
	return fmt.Sprintf("%s-%04d%s", base, n, ext)
}
