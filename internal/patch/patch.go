// Package patch implements the binary patcher: locating a pre-reserved,
// zero-filled, fixed-size named section in a compiled client executable
// and overwriting it in place with an encoded ClientConfig.
//
// The reserved section must already exist in the unpatched executable,
// arranged at build time for each supported object format. This package
// only ever edits that one section; it never relinks or resizes the file.
package patch

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"fmt"
	"io"
	"os"
	"path/filepath"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/portguard/portguard/internal/pgconfig"
)

const (
	elfSectionName   = ".portguard"
	peSectionName    = "pgmodify"
	machoSegmentName = "__DATA"
	machoSectionName = "__portguard"
)

// section names the file-offset range of the reserved section located in
// one of the three supported executable formats.
type section struct {
	offset int64
	length int64
}

// locateSection parses the object file headers from r to find the reserved
// section, trying ELF, PE, then Mach-O in turn. It never reads the section
// payload itself, only the headers needed to compute offset and length.
func locateSection(r io.ReaderAt) (section, error) {
	if f, err := elf.NewFile(r); err == nil {
		defer f.Close()
		for _, s := range f.Sections {
			if s.Name == elfSectionName {
				return section{offset: int64(s.Offset), length: int64(s.Size)}, nil
			}
		}
		return section{}, fmt.Errorf("patch: no %q section in ELF file", elfSectionName)
	}

	if f, err := pe.NewFile(r); err == nil {
		defer f.Close()
		for _, s := range f.Sections {
			if s.Name == peSectionName {
				return section{offset: int64(s.Offset), length: int64(s.Size)}, nil
			}
		}
		return section{}, fmt.Errorf("patch: no %q section in PE file", peSectionName)
	}

	if f, err := macho.NewFile(r); err == nil {
		defer f.Close()
		for _, s := range f.Sections {
			if s.Seg == machoSegmentName && s.Name == machoSectionName {
				return section{offset: int64(s.Offset), length: int64(s.Size)}, nil
			}
		}
		return section{}, fmt.Errorf("patch: no %s,%s section in Mach-O file", machoSegmentName, machoSectionName)
	}

	return section{}, fmt.Errorf("patch: unrecognized executable format")
}

// ReadConfig locates the reserved section in the executable at path and
// decodes the ClientConfig currently stamped into it, without modifying
// the file.
func ReadConfig(path string) (pgconfig.ClientConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return pgconfig.ClientConfig{}, fmt.Errorf("patch: open %s: %w", path, err)
	}
	defer f.Close()

	sec, err := locateSection(f)
	if err != nil {
		return pgconfig.ClientConfig{}, err
	}
	if sec.length != pgconfig.ConfBufLen {
		return pgconfig.ClientConfig{}, fmt.Errorf("patch: reserved section is %d bytes, want %d", sec.length, pgconfig.ConfBufLen)
	}

	buf := make([]byte, sec.length)
	if _, err := f.ReadAt(buf, sec.offset); err != nil {
		return pgconfig.ClientConfig{}, fmt.Errorf("patch: read reserved section: %w", err)
	}
	return pgconfig.DecodeClientConfig(buf)
}

// Transform computes the new reserved-section contents given the bytes
// currently stamped there (which may be all zero, for an unpatched
// executable). It returns the ClientConfig to encode into the section.
type Transform func(current pgconfig.ClientConfig) (pgconfig.ClientConfig, error)

// Stamp copies inputPath to outputPath and overwrites its reserved section
// with the result of applying transform to whatever ClientConfig currently
// occupies that section (all-zero bytes decode as a zero-value ClientConfig
// the first time a fresh, unpatched binary is stamped).
func Stamp(inputPath, outputPath string, transform Transform) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		return fmt.Errorf("patch: stat %s: %w", inputPath, err)
	}

	tmpPath, err := copyToSiblingTemp(inputPath)
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := stampFile(tmpPath, transform); err != nil {
		return err
	}

	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return fmt.Errorf("patch: preserve permissions: %w", err)
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("patch: rename into place: %w", err)
	}
	success = true
	return nil
}

func stampFile(path string, transform Transform) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("patch: open copy for writing: %w", err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("patch: mmap: %w", err)
	}
	defer m.Unmap()

	sec, err := locateSection(bytes.NewReader(m))
	if err != nil {
		return err
	}
	if sec.length != pgconfig.ConfBufLen {
		return fmt.Errorf("patch: reserved section is %d bytes, want %d", sec.length, pgconfig.ConfBufLen)
	}

	var current pgconfig.ClientConfig
	region := m[sec.offset : sec.offset+sec.length]
	if !bytes.Equal(region, make([]byte, len(region))) {
		current, err = pgconfig.DecodeClientConfig(region)
		if err != nil {
			return fmt.Errorf("patch: decode current config: %w", err)
		}
	}

	next, err := transform(current)
	if err != nil {
		return fmt.Errorf("patch: apply transform: %w", err)
	}

	encoded, err := pgconfig.EncodeClientConfig(next)
	if err != nil {
		return fmt.Errorf("patch: encode new config: %w", err)
	}

	dst := m[sec.offset : sec.offset+sec.length]
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, encoded)

	if err := m.Flush(); err != nil {
		return fmt.Errorf("patch: flush mmap: %w", err)
	}
	return nil
}

func copyToSiblingTemp(inputPath string) (string, error) {
	src, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("patch: open %s: %w", inputPath, err)
	}
	defer src.Close()

	dir := filepath.Dir(inputPath)
	tmp, err := os.CreateTemp(dir, ".portguard-patch-*")
	if err != nil {
		return "", fmt.Errorf("patch: create temp file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("patch: copy to temp file: %w", err)
	}
	return tmp.Name(), nil
}

// Generate stamps a brand new ClientConfig into a copy of an unpatched
// client executable.
func Generate(unpatchedPath, outputPath string, cfg pgconfig.ClientConfig) error {
	return Stamp(unpatchedPath, outputPath, func(pgconfig.ClientConfig) (pgconfig.ClientConfig, error) {
		return cfg, nil
	})
}

// ModifyKeypair rewrites only the client key material of an already-patched
// executable, leaving every other ClientConfig field untouched.
func ModifyKeypair(inputPath, outputPath string, newKey pgconfig.ClientKey) error {
	return Stamp(inputPath, outputPath, func(current pgconfig.ClientConfig) (pgconfig.ClientConfig, error) {
		current.ClientKey = newKey
		return current, nil
	})
}

// Clone reads the ClientConfig stamped into dnaPath and overlays it onto a
// fresh copy of eggPath, producing an executable whose code comes from
// eggPath but whose embedded configuration comes from dnaPath.
func Clone(dnaPath, eggPath, outputPath string) error {
	dna, err := ReadConfig(dnaPath)
	if err != nil {
		return fmt.Errorf("patch: read dna config: %w", err)
	}
	return Stamp(eggPath, outputPath, func(pgconfig.ClientConfig) (pgconfig.ClientConfig, error) {
		return dna, nil
	})
}
