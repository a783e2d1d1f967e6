package provision

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ulikunitz/xz"
)

const (
	bzipMimeType = "application/x-bzip2"
	dirMode      = 0o755
	fileMode     = 0o644
	gzipMimeType = "application/gzip"
	tarMimeType  = "application/x-tar"
	xzMimeType   = "application/x-xz"
	zipMimeType  = "application/zip"
)

type extractionFn func(file, fileType, target string) ([]string, error)

func detectFileType(file string) (string, error) {
	mtype, err := mimetype.DetectFile(file)
	if err != nil {
		return "", err
	}

	// Zip derived formats such as jar are still zip archives.
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is(zipMimeType) {
			return zipMimeType, nil
		}
	}

	return mtype.String(), nil
}

func getExtractionFn(fileType string) (extractionFn, error) {
	switch fileType {
	case zipMimeType:
		return unzip, nil
	case gzipMimeType, bzipMimeType, tarMimeType, xzMimeType:
		return untar, nil
	default:
		return nil, fmt.Errorf("unsupported archive type %s", fileType)
	}
}

// extract unpacks file into target, returning the cleaned names of the extracted entries.
func extract(file, target string) ([]string, error) {
	fileType, err := detectFileType(file)
	if err != nil {
		return nil, err
	}

	extractFn, err := getExtractionFn(fileType)
	if err != nil {
		return nil, err
	}

	return extractFn(file, fileType, target)
}

func isWithin(root, path string) bool {
	root = filepath.Clean(root)
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

func getOutputPath(target, name string) (string, error) {
	outputPath := filepath.Join(target, name)
	if !isWithin(target, outputPath) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}

	return outputPath, nil
}

// checkNoSymlinks fails if any existing component of outputPath below target is a symlink, so that entries can't be
// written through links extracted earlier.
func checkNoSymlinks(target, outputPath string) error {
	rel, err := filepath.Rel(target, outputPath)
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}

	cur := target
	for _, component := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, component)
		fi, err := os.Lstat(cur)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		} else if err != nil {
			return err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("illegal file path through symlink %s", entryName(target, cur))
		}
	}

	return nil
}

// resolveLink follows linkname from dir the way the filesystem would, resolving links extracted earlier.
func resolveLink(dir, linkname string) (string, error) {
	cur := dir
	for _, component := range strings.Split(filepath.ToSlash(linkname), "/") {
		switch component {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
			continue
		}

		cur = filepath.Join(cur, component)
		fi, err := os.Lstat(cur)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			cur, err = filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
		}
	}

	return cur, nil
}

func entryName(target, outputPath string) string {
	rel, err := filepath.Rel(target, outputPath)
	if err != nil {
		return outputPath
	}
	return filepath.ToSlash(rel)
}

func appendEntry(entries []string, target, outputPath string) []string {
	name := entryName(target, outputPath)
	if name == "." {
		return entries
	}
	return append(entries, name)
}

func filePerms(mode os.FileMode) os.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		return fileMode
	}
	return perm | 0o600
}

func writeFile(outputPath string, mode os.FileMode, reader io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), dirMode); err != nil {
		return err
	}

	file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerms(mode))
	if err != nil {
		return err
	}

	_, err = io.Copy(file, reader)
	if err != nil {
		return errors.Join(err, file.Close())
	}

	return file.Close()
}

func writeSymlink(target, outputPath, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("illegal absolute symlink %s -> %s", outputPath, linkname)
	}
	if _, err := getOutputPath(target, filepath.Join(filepath.Dir(entryName(target, outputPath)), linkname)); err != nil {
		return fmt.Errorf("illegal symlink %s -> %s", outputPath, linkname)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), dirMode); err != nil {
		return err
	}

	realTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		return err
	}
	realDir, err := filepath.EvalSymlinks(filepath.Dir(outputPath))
	if err != nil {
		return err
	}
	resolved, err := resolveLink(realDir, linkname)
	if err != nil {
		return err
	}
	if !isWithin(realTarget, resolved) {
		return fmt.Errorf("illegal symlink %s -> %s", outputPath, linkname)
	}

	return os.Symlink(linkname, outputPath)
}

func unzipFile(f *zip.File, target string) (string, error) {
	outputPath, err := getOutputPath(target, f.Name)
	if err != nil {
		return "", err
	}
	if err = checkNoSymlinks(target, outputPath); err != nil {
		return "", err
	}

	info := f.FileInfo()
	if info.IsDir() {
		return outputPath, os.MkdirAll(outputPath, dirMode)
	}

	fileInArchive, err := f.Open()
	if err != nil {
		return "", err
	}
	defer fileInArchive.Close()

	if info.Mode()&os.ModeSymlink != 0 {
		linkname, err := io.ReadAll(fileInArchive)
		if err != nil {
			return "", err
		}
		return outputPath, writeSymlink(target, outputPath, string(linkname))
	}

	return outputPath, writeFile(outputPath, info.Mode(), fileInArchive)
}

func unzip(file, _, target string) ([]string, error) {
	reader, err := zip.OpenReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var entries []string
	for _, f := range reader.File {
		outputPath, err := unzipFile(f, target)
		if err != nil {
			return nil, fmt.Errorf("error extracting %s: %w", f.Name, err)
		}
		entries = appendEntry(entries, target, outputPath)
	}

	return entries, nil
}

func getTarReader(reader io.Reader, fileType string) (io.Reader, error) {
	switch fileType {
	case gzipMimeType:
		return gzip.NewReader(reader)
	case bzipMimeType:
		return bzip2.NewReader(reader), nil
	case tarMimeType:
		return reader, nil
	case xzMimeType:
		return xz.NewReader(reader)
	default:
		return nil, fmt.Errorf("unable to determine tar reader for file type %s", fileType)
	}
}

func untar(file, fileType, target string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := getTarReader(f, fileType)
	if err != nil {
		return nil, err
	}

	var entries []string
	tarReader := tar.NewReader(reader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		outputPath, err := getOutputPath(target, header.Name)
		if err != nil {
			return nil, err
		}
		if err = checkNoSymlinks(target, outputPath); err != nil {
			return nil, fmt.Errorf("error extracting %s: %w", header.Name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(outputPath, dirMode)
		case tar.TypeReg:
			err = writeFile(outputPath, header.FileInfo().Mode(), tarReader)
		case tar.TypeSymlink:
			err = writeSymlink(target, outputPath, header.Linkname)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error extracting %s: %w", header.Name, err)
		}

		entries = appendEntry(entries, target, outputPath)
	}

	return entries, nil
}
