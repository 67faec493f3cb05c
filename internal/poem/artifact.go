package poem

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Render formats the output artifact. It is a pure function of s.
func Render(s State) ([]byte, error) {
	if s.Poem1Length != LengthShort && s.Poem1Length != LengthLong {
		return nil, fmt.Errorf("%w: poem1 length is %q at save", ErrInvariant, s.Poem1Length)
	}
	var buf bytes.Buffer
	buf.WriteString("Poem1 length: ")
	buf.WriteString(string(s.Poem1Length))
	buf.WriteByte('\n')
	buf.WriteString(s.Poem1)
	buf.WriteString("\n\n")
	buf.WriteString(s.Poem2)
	return buf.Bytes(), nil
}

// WriteArtifact replaces path with data. The content is written to a
// temporary file in the same directory, synced and renamed over path, so
// readers see either the old file or the complete new one.
func WriteArtifact(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
