package secrets

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"github.com/joho/godotenv"
)

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables are silently omitted from the result map.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// FileLoader returns a Loader that parses a dotenv-format secrets file.
// A missing file yields an empty map so the file can be created later and
// picked up by the watcher.
func FileLoader(path string) Loader {
	return func() (map[string]string, error) {
		vals, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return map[string]string{}, nil
			}
			return nil, fmt.Errorf("read secrets file %s: %w", path, err)
		}
		for k, v := range vals {
			if v == "" {
				delete(vals, k)
			}
		}
		return vals, nil
	}
}

// Chain merges loaders in order; later loaders win on key conflicts.
// Any loader error fails the whole load.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string)
		for _, l := range loaders {
			vals, err := l()
			if err != nil {
				return nil, err
			}
			maps.Copy(out, vals)
		}
		return out, nil
	}
}
