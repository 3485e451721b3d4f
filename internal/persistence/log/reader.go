package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"fsmarket.sim/internal/sim/engine"
)

// ErrStop ends a scan early without an error.
var ErrStop = errors.New("stop scan")

// ListFiles returns the prefix-*.jsonl.zst files of dir in tick order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ScanTicks calls fn for every tick record under runDir/ticks, in order.
func ScanTicks(runDir string, fn func(engine.TickRecord) error) error {
	return scan(filepath.Join(runDir, "ticks"), "ticks", func(line []byte) error {
		var rec engine.TickRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		return fn(rec)
	})
}

// ScanAudit calls fn for every event under runDir/audit, in order.
func ScanAudit(runDir string, fn func(engine.Event) error) error {
	return scan(filepath.Join(runDir, "audit"), "audit", func(line []byte) error {
		var ev engine.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		return fn(ev)
	})
}

func scan(dir, prefix string, fn func([]byte) error) error {
	files, err := ListFiles(dir, prefix)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no %s files in %s", prefix, dir)
	}
	for _, path := range files {
		if err := scanFile(path, fn); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func scanFile(path string, fn func([]byte) error) error {
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
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			if errors.Is(err, ErrStop) {
				return err
			}
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}
