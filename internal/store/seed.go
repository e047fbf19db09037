package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

// LoadSeed reads a saved engine seed. A missing file is not an error; ok is false.
func LoadSeed(path string) (seed uint64, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read seed file: %w", err)
	}
	seed, err = strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, &schemas.ConfigError{Field: "agent.seed_file", Reason: fmt.Sprintf("%s does not hold a seed: %v", path, err)}
	}
	return seed, true, nil
}

// SaveSeed writes seed so a later run can reproduce the same profile sequence.
func SaveSeed(path string, seed uint64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create seed directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.FormatUint(seed, 10)+"\n"), 0o600); err != nil {
		return fmt.Errorf("write seed file: %w", err)
	}
	return nil
}
