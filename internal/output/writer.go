package output

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/breatheroute/sensorbridge/internal/measurement"
	"github.com/breatheroute/sensorbridge/internal/syncerr"
)

// DefaultFileMode is the permission of written snapshot files.
const DefaultFileMode os.FileMode = 0o644

// WriterConfig holds configuration for a Writer.
type WriterConfig struct {
	// Path is the destination file. Its extension selects the format.
	Path string

	// Sheet names the XLSX worksheet (default: DefaultSheetName).
	Sheet string

	// Encoder overrides the format inferred from Path.
	Encoder Encoder

	// Mode is the permission of the destination file (default: 0644).
	Mode os.FileMode

	Logger zerolog.Logger
}

// Writer replaces a destination file with a freshly encoded table.
//
// The table is written to a temporary file in the destination directory,
// synced, and renamed over the destination. Readers of the destination see
// either the previous snapshot or the new one, never a partial file.
type Writer struct {
	path    string
	encoder Encoder
	mode    os.FileMode
	logger  zerolog.Logger
}

// NewWriter creates a Writer.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Path == "" {
		return nil, errors.New("output path is required")
	}

	encoder := cfg.Encoder
	if encoder == nil {
		var err error
		encoder, err = EncoderFor(cfg.Path, cfg.Sheet)
		if err != nil {
			return nil, err
		}
	}

	mode := cfg.Mode
	if mode == 0 {
		mode = DefaultFileMode
	}

	return &Writer{
		path:    cfg.Path,
		encoder: encoder,
		mode:    mode,
		logger:  cfg.Logger,
	}, nil
}

// Path returns the destination path.
func (w *Writer) Path() string {
	return w.path
}

// Format returns the output format.
func (w *Writer) Format() Format {
	return w.encoder.Format()
}

// Persist encodes t and atomically replaces the destination. On failure the
// destination is left as it was and a materialization error is returned.
func (w *Writer) Persist(t *measurement.Table) error {
	if err := w.replace(t); err != nil {
		return syncerr.WrapWithContext(syncerr.KindMaterialization, "persist snapshot", err, map[string]any{
			"path": w.path,
		})
	}
	return nil
}

func (w *Writer) replace(t *measurement.Table) (err error) {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err == nil {
			return
		}
		_ = tmp.Close()
		if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
			w.logger.Warn().Err(rmErr).Str("temp_file", tmpName).Msg("failed to remove temp file")
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err = w.encoder.Encode(buf, t); err != nil {
		return fmt.Errorf("encode %s: %w", w.encoder.Format(), err)
	}
	if err = buf.Flush(); err != nil {
		return fmt.Errorf("flush temp file: %w", err)
	}
	if err = tmp.Chmod(w.mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("replace %s: %w", w.path, err)
	}

	w.logger.Debug().
		Str("path", w.path).
		Int("rows", t.Len()).
		Msg("snapshot file replaced")

	return nil
}
