package envfile

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// GenerateSecret returns n random bytes encoded as URL-safe base64 without padding.
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("secret size must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// secretSize is the entropy used when filling key during Init.
func secretSize(key string) int {
	if strings.Contains(strings.ToUpper(key), "JWT") {
		return 48
	}
	return 24
}

// Init creates dir/.env from dir/.env.example. Secret keys that are empty or
// hold a placeholder get a generated value; all other lines, comments
// included, are copied verbatim. It returns the keys that were generated.
func Init(dir string, force bool) ([]string, error) {
	target := filepath.Join(dir, FileName)
	example := filepath.Join(dir, ExampleFileName)

	if _, err := os.Stat(target); err == nil && !force {
		return nil, fmt.Errorf("%w: %s (use --force to overwrite)", ErrEnvExists, target)
	}

	f, err := os.Open(example)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrEnvNotFound, example)
		}
		return nil, fmt.Errorf("failed to open %s: %w", example, err)
	}
	defer f.Close()

	var (
		out       strings.Builder
		generated []string
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := splitAssignment(line)
		if ok && IsSecretKey(key) && (value == "" || IsPlaceholder(value) || weakValues[strings.ToLower(value)]) {
			secret, err := GenerateSecret(secretSize(key))
			if err != nil {
				return nil, err
			}
			rendered, err := godotenv.Marshal(map[string]string{key: secret})
			if err != nil {
				return nil, fmt.Errorf("failed to render %s: %w", key, err)
			}
			line = rendered
			generated = append(generated, key)
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", example, err)
	}

	// Validate what we are about to write parses back.
	if _, err := godotenv.Unmarshal(out.String()); err != nil {
		return nil, fmt.Errorf("generated environment does not parse: %w", err)
	}

	if err := os.WriteFile(target, []byte(out.String()), 0600); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", target, err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(target, 0600); err != nil {
		return nil, fmt.Errorf("failed to restrict permissions on %s: %w", target, err)
	}

	return generated, nil
}

// splitAssignment parses a single KEY=value line, ignoring comments and blanks.
func splitAssignment(line string) (string, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "export ")
	key, value, ok := strings.Cut(trimmed, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if i := strings.Index(value, " #"); i >= 0 && !strings.HasPrefix(value, `"`) && !strings.HasPrefix(value, `'`) {
		value = strings.TrimSpace(value[:i])
	}
	value = strings.Trim(value, `"'`)
	return key, value, key != ""
}
