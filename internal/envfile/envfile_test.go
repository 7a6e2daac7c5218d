package envfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, `# app settings
DOMAIN=app.example.com
export POSTGRES_USER=app
POSTGRES_PASSWORD="s3cr3t with spaces"
EMPTY=
BLANK="   "
`)

	env, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, FileName), env.Path)
	assert.Equal(t, "app.example.com", env.Get("DOMAIN"))
	assert.Equal(t, "app", env.Get("POSTGRES_USER"))
	assert.Equal(t, "s3cr3t with spaces", env.Get("POSTGRES_PASSWORD"))
	assert.False(t, env.IsSet("EMPTY"))
	assert.False(t, env.IsSet("BLANK"))
	_, present := env.Lookup("EMPTY")
	assert.True(t, present)
	assert.Equal(t, "fallback", env.GetDefault("NOPE", "fallback"))
}

func TestLoad_MissingFileHintsAtExample(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEnvNotFound))
	assert.NotContains(t, err.Error(), "env init")

	writeFile(t, dir, ExampleFileName, "DOMAIN=\n")
	_, err = Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEnvNotFound))
	assert.Contains(t, err.Error(), "stackctl env init")
}

func TestMissing(t *testing.T) {
	env := New(map[string]string{
		"DOMAIN":     "example.com",
		"JWT_SECRET": "",
		"ACME_EMAIL": "  ",
	})

	missing := env.Missing([]string{"JWT_SECRET", "DOMAIN", "ACME_EMAIL", "POSTGRES_PASSWORD", "JWT_SECRET", ""})
	assert.Equal(t, []string{"ACME_EMAIL", "JWT_SECRET", "POSTGRES_PASSWORD"}, missing)

	err := env.RequireSet([]string{"DOMAIN", "POSTGRES_PASSWORD"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingVariables))
	assert.Contains(t, err.Error(), "POSTGRES_PASSWORD")

	assert.NoError(t, env.RequireSet([]string{"DOMAIN"}))
}

func TestValidate(t *testing.T) {
	env := New(map[string]string{
		"DOMAIN":       "not a domain",
		"API_DOMAIN":   "api.example.com",
		"ACME_EMAIL":   "not-an-email",
		"ADMIN_EMAIL":  "ops@example.com",
		"APP_PORT":     "70000",
		"DB_PORT":      "5432",
		"PUBLIC_URL":   "notaurl",
		"DATABASE_URL": "postgres://u:p@db:5432/app",
		"UNRELATED":    "anything",
		"EMPTY_DOMAIN": "",
	})

	problems := env.Validate()
	keys := make([]string, 0, len(problems))
	for _, p := range problems {
		keys = append(keys, p.Key)
		assert.Equal(t, SeverityError, p.Severity)
	}
	assert.ElementsMatch(t, []string{"DOMAIN", "ACME_EMAIL", "APP_PORT", "PUBLIC_URL"}, keys)
	assert.True(t, HasErrors(problems))
}

func TestValidate_DomainHint(t *testing.T) {
	problems := New(map[string]string{
		"DOMAIN":     "https://Shop.Example.com/",
		"APP_DOMAIN": "localhost",
	}).Validate()
	require.Len(t, problems, 2)

	byKey := map[string]string{}
	for _, p := range problems {
		byKey[p.Key] = p.Message
	}
	assert.Equal(t, `"https://Shop.Example.com/" is not a valid domain name (use "shop.example.com")`, byKey["DOMAIN"])
	assert.Equal(t, `"localhost" is not a valid domain name`, byKey["APP_DOMAIN"])
}

func TestWeakSecrets(t *testing.T) {
	env := New(map[string]string{
		"POSTGRES_PASSWORD":      "postgres",
		"JWT_SECRET":             "short-but-not-that-short",
		"API_TOKEN":              "your_token_here",
		"REDIS_PASSWORD":         "tiny",
		"STRONG_PASSWORD":        "Zq8m2Lr5Vt9wXy1b",
		"POSTGRES_PASSWORD_FILE": "/run/secrets/pg",
		"POSTGRES_USER":          "admin",
		"UNSET_SECRET":           "",
	})

	problems := env.WeakSecrets()
	byKey := map[string]string{}
	for _, p := range problems {
		assert.Equal(t, SeverityWarning, p.Severity)
		byKey[p.Key] = p.Message
	}

	assert.Len(t, byKey, 4)
	assert.Contains(t, byKey["POSTGRES_PASSWORD"], "well-known")
	assert.Contains(t, byKey["JWT_SECRET"], "32")
	assert.Contains(t, byKey["API_TOKEN"], "placeholder")
	assert.Contains(t, byKey["REDIS_PASSWORD"], "12")
	assert.False(t, HasErrors(problems))
}

func TestIsSecretKey(t *testing.T) {
	assert.True(t, IsSecretKey("POSTGRES_PASSWORD"))
	assert.True(t, IsSecretKey("JWT_SECRET"))
	assert.True(t, IsSecretKey("GITHUB_TOKEN"))
	assert.True(t, IsSecretKey("ENCRYPTION_KEY"))
	assert.False(t, IsSecretKey("POSTGRES_PASSWORD_FILE"))
	assert.False(t, IsSecretKey("DOMAIN"))
	assert.False(t, IsSecretKey("KEYCLOAK_URL"))
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(24)
	require.NoError(t, err)
	b, err := GenerateSecret(24)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")

	_, err = GenerateSecret(0)
	assert.Error(t, err)
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ExampleFileName, `# Public hostname
DOMAIN=app.example.com
POSTGRES_USER=app
POSTGRES_PASSWORD=changeme
JWT_SECRET=
ACME_EMAIL=ops@example.com # used by Traefik
`)

	generated, err := Init(dir, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"POSTGRES_PASSWORD", "JWT_SECRET"}, generated)

	info, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "# Public hostname\n"))

	env, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", env.Get("DOMAIN"))
	assert.Equal(t, "ops@example.com", env.Get("ACME_EMAIL"))
	assert.Len(t, env.Get("JWT_SECRET"), 64)
	assert.Len(t, env.Get("POSTGRES_PASSWORD"), 32)

	_, err = Init(dir, false)
	assert.True(t, errors.Is(err, ErrEnvExists))

	_, err = Init(dir, true)
	assert.NoError(t, err)
}

func TestInit_NoExample(t *testing.T) {
	_, err := Init(t.TempDir(), false)
	assert.True(t, errors.Is(err, ErrEnvNotFound))
}
