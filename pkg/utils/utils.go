package utils

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PathIsDir returns an error if p does not exist or is not a directory.
func PathIsDir(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return err
	}

	if !fi.IsDir() {
		return errors.New("Path " + p + " is not a directory")
	}

	return nil
}

// PathExists reports whether p exists. Errors other than non-existence
// are returned.
func PathExists(p string) (bool, error) {
	_, err := os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// EnsureDirExists verifies path is a directory and creates it, along with
// any missing parents, if it doesn't exist.
func EnsureDirExists(path string) error {
	fi, err := os.Stat(path)
	if err == nil {
		if !fi.IsDir() {
			return errors.New(path + " is not a directory")
		}
	} else {
		if os.IsNotExist(err) {
			err = os.MkdirAll(path, 0755)
			if err != nil {
				return err
			}
		} else {
			return err
		}
	}

	return nil
}

// Tar returns the archive WriteTar produces for root.
func Tar(root string, exclude ...string) ([]byte, error) {
	var buf bytes.Buffer
	err := WriteTar(&buf, root, exclude...)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTar walks the file tree rooted at root, streaming each regular file
// in the tree to w as a tar archive. The files are walked in lexical order,
// which makes the output deterministic. Paths in exclude (absolute, or
// relative to root) are skipped along with everything under them.
func WriteTar(w io.Writer, root string, exclude ...string) error {
	skip := make(map[string]bool)
	for _, e := range exclude {
		if !filepath.IsAbs(e) {
			e = filepath.Join(root, e)
		}
		skip[filepath.Clean(e)] = true
	}

	tw := tar.NewWriter(w)
	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if skip[filepath.Clean(path)] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}

		// Preserve directory structure when docker "untars" the build context
		hdr.Name, err = filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(hdr.Name)

		err = tw.WriteHeader(hdr)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}

		_, err = io.Copy(tw, f)
		if err != nil {
			f.Close()
			return err
		}

		return f.Close()
	}

	err := filepath.Walk(root, walkFn)
	if err != nil {
		return err
	}
	return tw.Close()
}

// DirSize returns the total size in bytes of the regular files under root.
func DirSize(root string) (int64, error) {
	var size int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// SanitizeName replaces the characters that are not allowed in Docker
// container names.
func SanitizeName(s string) string {
	return strings.NewReplacer(":", "_", "/", "_", "@", "_").Replace(s)
}
