package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"signlink.ai/internal/signlink"
)

// ReadJSONL calls fn with each line of a zstd-compressed JSONL file. A file
// that is still being written may end inside a frame; the lines before that
// point are delivered and no error is returned for the truncated tail.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return nil
}

// ReadAudit returns every audit entry under dir, oldest file first.
func ReadAudit(dir string) ([]signlink.AuditEntry, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var out []signlink.AuditEntry
	for _, p := range paths {
		err := ReadJSONL(p, func(line []byte) error {
			var e signlink.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// FilterAudit keeps entries matching every non-empty field.
func FilterAudit(entries []signlink.AuditEntry, actor, action, variable string) []signlink.AuditEntry {
	var out []signlink.AuditEntry
	for _, e := range entries {
		if actor != "" && !strings.EqualFold(e.Actor, actor) {
			continue
		}
		if action != "" && !strings.EqualFold(e.Action, action) {
			continue
		}
		if variable != "" && e.Variable != variable {
			continue
		}
		out = append(out, e)
	}
	return out
}
