package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/herald-agent/herald/internal/defaults"
)

// runInit initializes a Herald working directory with default files:
// a starter config at herald.yaml (the first config search path) and a
// persona.md to customize the system prompt. Existing files are never
// overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Herald workspace in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// Server URLs in the config may carry embedded credentials, so the
	// config stays owner-only. The persona is just prose.
	if err := writeIfMissing(w, filepath.Join(dir, "herald.yaml"), defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	if err := writeIfMissing(w, filepath.Join(dir, "persona.md"), defaults.PersonaMD, 0o644); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit herald.yaml to point at your tool servers, and set")
	fmt.Fprintln(w, "persona_file to persona.md if you want the custom prompt.")
	return nil
}

// writeIfMissing writes content to path with the given mode, unless the
// file already exists, and reports what it did on w.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if errors.Is(err, fs.ErrExist) {
		fmt.Fprintf(w, "  - %s exists, skipping\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
