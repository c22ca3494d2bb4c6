package utils

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid"
	"sigs.k8s.io/yaml"
)

var (
	ulidMutex   = sync.Mutex{}
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

func Ternary[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

// ArrayContains returns the index of the first element matching f
func ArrayContains[T any](set []T, f func(elem T) bool) (int, bool) {
	for idx, elem := range set {
		if f(elem) {
			return idx, true
		}
	}

	return -1, false
}

func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// IsValidSubcommand checks if the passed subcommand is supported by the parent command
func IsValidSubcommand(available []string, sub string) bool {
	for _, s := range available {
		if sub == s {
			return true
		}
	}
	return false
}

func CheckIfFilesExists(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			return fmt.Errorf("%s does not exist: %s", file, err)
		}
	}

	return nil
}

// UnmarshalFile reads a JSON or YAML file into dest; with decrypt set the file content may be
// an encrypted config produced for the configured encryption key
func UnmarshalFile(file string, dest any, decrypt bool) error {
	if err := CheckIfFilesExists(file); err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("file not found : %s", err)
	}

	if decrypt {
		content, err := DecryptConfig(string(data))
		if err != nil {
			return fmt.Errorf("failed to decrypt config: %s", err)
		}
		data = []byte(content)
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		data, err = yaml.YAMLToJSON(data)
		if err != nil {
			return fmt.Errorf("failed to convert yaml file[%s]: %s", file, err)
		}
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal file[%s]: %s", file, err)
	}

	return nil
}

// WriteFileAtomic replaces path with data through a temporary file in the same directory
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory[%s]: %s", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %s", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary file: %s", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temporary file: %s", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func ULID() string {
	return genULID(time.Now())
}

func genULID(t time.Time) string {
	ulidMutex.Lock()
	defer ulidMutex.Unlock()
	newUlid, err := ulid.New(ulid.Timestamp(t), ulidEntropy)
	if err != nil {
		// monotonic entropy overflows only within one millisecond; fall back to fresh entropy
		newUlid = ulid.MustNew(ulid.Timestamp(t), rand.Reader)
	}

	return newUlid.String()
}
