package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// ErrUnrepresentable is returned when a value has no dotenv encoding that
// reads back unchanged.
var ErrUnrepresentable = errors.New("value cannot be stored in an env file")

var (
	// assignment matches the key of a dotenv statement, optionally exported.
	assignment = regexp.MustCompile(`^\s*(?:export\s+)?([A-Za-z0-9_.]+)\s*[=:]`)
	keyName    = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)
)

// EnvFile is a Backend persisted as a dotenv file.
//
// The file is handled line by line. Lines for other keys, comments and
// blank lines are written back byte for byte; only the lines of keys being
// changed are replaced. Every Apply rewrites the file once through a temp
// file and rename, so a reader never observes a half-applied batch.
type EnvFile struct {
	path string
}

// NewEnvFile returns a backend for the dotenv file at path.
// The file and its directory are created on first write.
func NewEnvFile(path string) (*EnvFile, error) {
	if path == "" {
		return nil, fmt.Errorf("env file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve env file path '%s': %w", path, err)
	}
	return &EnvFile{path: abs}, nil
}

// Lookup returns the value stored under key. Only the last line assigning
// key is parsed, so a damaged line elsewhere does not block the lookup.
func (e *EnvFile) Lookup(key string) (string, bool, error) {
	lines, err := e.load()
	if err != nil {
		return "", false, err
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].key != key {
			continue
		}
		env, err := godotenv.Unmarshal(lines[i].raw)
		if err != nil {
			return "", false, fmt.Errorf("failed to parse %s in '%s': %w", key, e.path, err)
		}
		return env[key], true, nil
	}
	return "", false, nil
}

// Apply sets and removes keys in one file rewrite. Every value is encoded
// before anything is written; one unrepresentable value fails the batch.
func (e *EnvFile) Apply(set map[string]string, unset []string) error {
	encoded := make(map[string]string, len(set))
	for key, value := range set {
		line, err := formatLine(key, value)
		if err != nil {
			return err
		}
		encoded[key] = line
	}

	lines, err := e.load()
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(set)+len(unset))
	for _, key := range unset {
		drop[key] = true
	}
	for key := range set {
		drop[key] = true
	}

	changed := false
	kept := lines[:0]
	for _, l := range lines {
		if l.key != "" && drop[l.key] {
			changed = true
			continue
		}
		kept = append(kept, l)
	}
	for _, key := range sortedKeys(encoded) {
		kept = append(kept, envLine{key: key, raw: encoded[key]})
		changed = true
	}

	if !changed {
		return nil
	}
	return e.save(kept)
}

// Close is a no-op; the file is not held open.
func (e *EnvFile) Close() error {
	return nil
}

// envLine is one physical line of the file. key is empty for comments,
// blank lines and anything that is not an assignment.
type envLine struct {
	key string
	raw string
}

func (e *EnvFile) load() ([]envLine, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read env file '%s': %w", e.path, err)
	}

	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	raw := strings.Split(text, "\n")
	lines := make([]envLine, 0, len(raw))
	for _, r := range raw {
		l := envLine{raw: r}
		if m := assignment.FindStringSubmatch(r); m != nil {
			l.key = m[1]
		}
		lines = append(lines, l)
	}
	return lines, nil
}

func (e *EnvFile) save(lines []envLine) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.raw)
		b.WriteByte('\n')
	}

	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(e.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, e.path); err != nil {
		return fmt.Errorf("failed to replace env file '%s': %w", e.path, err)
	}
	return nil
}

// =============================================================================
// VALUE ENCODING
// =============================================================================

// formatLine renders KEY=value so that godotenv reads back exactly value.
// Values are never reinterpreted: "0010" stays "0010".
func formatLine(key, value string) (string, error) {
	if !keyName.MatchString(key) {
		return "", fmt.Errorf("%w: invalid key %q", ErrUnrepresentable, key)
	}
	v, err := quoteValue(value)
	if err != nil {
		return "", fmt.Errorf("%w: %s=%q", err, key, value)
	}
	return key + "=" + v, nil
}

// quoteValue picks the first encoding that round-trips:
//   - single quotes: taken literally, no ' and no trailing backslash
//   - double quotes: \ " $ and ` escaped, no trailing backslash or quote
//   - bare: trailing backslash allowed, nothing godotenv would trim or expand
func quoteValue(v string) (string, error) {
	if strings.ContainsAny(v, "\x00\n\r") {
		return "", ErrUnrepresentable
	}
	if strings.HasSuffix(v, `\`) {
		if bareSafe(v) {
			return v, nil
		}
		return "", ErrUnrepresentable
	}
	if !strings.Contains(v, "'") {
		return "'" + v + "'", nil
	}
	if !strings.HasSuffix(v, `"`) {
		return `"` + doubleQuoteEscaper.Replace(v) + `"`, nil
	}
	if bareSafe(v) {
		return v, nil
	}
	return "", ErrUnrepresentable
}

var doubleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")

// bareSafe reports whether v survives as an unquoted dotenv value.
func bareSafe(v string) bool {
	if v == "" || v[0] == '\'' || v[0] == '"' {
		return false
	}
	if strings.TrimFunc(v, isBlank) != v {
		return false
	}
	if strings.Contains(v, "$") {
		return false
	}
	for i := 1; i < len(v); i++ {
		if v[i] == '#' && isBlank(rune(v[i-1])) {
			return false
		}
	}
	return true
}

func isBlank(r rune) bool {
	switch r {
	case '\t', '\v', '\f', ' ', 0x85, 0xA0:
		return true
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ensure EnvFile implements Backend
var _ Backend = (*EnvFile)(nil)
