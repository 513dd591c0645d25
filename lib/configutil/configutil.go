package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// localPath returns the override file next to name, "tradereg.json5" becomes
// "tradereg.local.json5".
func localPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// readLayer decodes one json5 file, found is false when it does not exist.
func readLayer[T any](path string, out *T) (found bool, err error) {
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}
	err = json5.Unmarshal(contents, out)
	if err != nil {
		return true, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ReadConfig reads the json5 file at name and merges "<name>.local.<ext>"
// over it when present. It fails with os.ErrNotExist when neither exists.
func ReadConfig[T any](name string) (T, error) {
	var out T
	found, err := readLayer(name, &out)
	if err != nil {
		return out, err
	}

	local := localPath(name)
	var override T
	foundLocal, err := readLayer(local, &override)
	if err != nil {
		return out, err
	}
	if foundLocal {
		slog.Debug("merging local config overrides", "path", local)
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, fmt.Errorf("merge %s: %w", local, err)
		}
	}

	if !found && !foundLocal {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadRecursively is ReadConfig on the first directory, walking up from the
// working directory, that holds the config or its local override.
func ReadRecursively[T any](name string) (T, error) {
	var out T
	dir, err := os.Getwd()
	if err != nil {
		return out, err
	}

	for {
		out, err = ReadConfig[T](filepath.Join(dir, name))
		if err == nil {
			slog.Debug("read config", "dir", dir, "name", name)
			return out, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return out, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			var zero T
			return zero, os.ErrNotExist
		}
		dir = parent
	}
}
