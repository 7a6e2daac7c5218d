package docker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePS(t *testing.T) {
	ndjson := `{"Name":"shop-db-1","Service":"db","State":"running","Health":"healthy","ExitCode":0}
{"Name":"shop-api-1","Service":"api","State":"running","Health":"","Publishers":[{"URL":"0.0.0.0","TargetPort":8080,"PublishedPort":8080,"Protocol":"tcp"},{"URL":"::","TargetPort":8080,"PublishedPort":8080,"Protocol":"tcp"}]}
`
	array := `[{"Name":"shop-db-1","Service":"db","State":"exited","ExitCode":1},{"Name":"shop-api-1","Service":"api","State":"running","Health":"starting"}]`

	states, err := ParsePS([]byte(ndjson))
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "api", states[0].Service)
	assert.True(t, states[0].Ready())
	assert.Equal(t, "8080->8080/tcp", states[0].Ports())
	assert.True(t, states[1].Ready())

	states, err = ParsePS([]byte(array))
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.False(t, states[0].Ready())
	assert.False(t, states[0].Failed())
	assert.True(t, states[1].Failed())

	states, err = ParsePS([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, states)

	_, err = ParsePS([]byte("{not json"))
	assert.Error(t, err)
}

func TestServiceState_Failed(t *testing.T) {
	assert.True(t, ServiceState{State: "dead"}.Failed())
	assert.False(t, ServiceState{State: "exited", ExitCode: 0}.Failed())
	assert.False(t, ServiceState{State: "restarting"}.Failed())
}

func TestClient_ComposeUp(t *testing.T) {
	fake := &FakeRunner{}
	client := NewClient(fake)
	p := Project{Name: "shop", Dir: "/srv/shop", File: "/srv/shop/docker-compose.yml"}

	require.NoError(t, client.ComposeUp(context.Background(), p, UpOptions{Build: true, Services: []string{"api"}}))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"compose", "-f", "/srv/shop/docker-compose.yml", "--project-directory", "/srv/shop", "-p", "shop",
		"up", "-d", "--remove-orphans", "--build", "api",
	}, calls[0].Args)
}

func TestClient_NetworkExists(t *testing.T) {
	fake := (&FakeRunner{}).
		On("network inspect", "", &ExitError{Code: 1, Stderr: "Error: No such network: traefik-public"}).
		On("network inspect --format {{.Name}} backend", "backend\n", nil)
	client := NewClient(fake)

	ok, err := client.NetworkExists(context.Background(), "traefik-public")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = client.NetworkExists(context.Background(), "backend")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_NetworkCreate(t *testing.T) {
	fake := &FakeRunner{}
	client := NewClient(fake)

	err := client.NetworkCreate(context.Background(), "traefik-public", "bridge", map[string]string{"managed-by": "stackctl"})
	require.NoError(t, err)
	assert.Equal(t, "network create --driver bridge --label managed-by=stackctl traefik-public", fake.Calls()[0].String())
}

func TestClient_ComposeVersionGate(t *testing.T) {
	fake := (&FakeRunner{}).On("compose version --short", "v2.19.1\n", nil)
	client := NewClient(fake)

	v, err := client.CheckCompose(context.Background())
	assert.Equal(t, "2.19.1", v)
	assert.Error(t, err)

	fake.On("compose version --short", "2.29.7\n", nil)
	v, err = client.CheckCompose(context.Background())
	assert.Equal(t, "2.29.7", v)
	assert.NoError(t, err)
}

func TestClient_Version(t *testing.T) {
	fake := (&FakeRunner{}).On("version --format {{.Server.Version}}", "27.3.1\n", nil)
	v, err := NewClient(fake).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "27.3.1", v)

	fake.On("version", "", &ExitError{Code: 1, Stderr: "Cannot connect to the Docker daemon"})
	_, err = NewClient(fake).Version(context.Background())
	assert.ErrorContains(t, err, "Cannot connect to the Docker daemon")
}

func TestClient_ComposeExecStreams(t *testing.T) {
	fake := (&FakeRunner{}).On("exec -T db pg_dump", "-- dump\n", nil)
	client := NewClient(fake)
	p := Project{Dir: "/srv/shop"}

	var out bytes.Buffer
	err := client.ComposeExec(context.Background(), p, "db", []string{"pg_dump", "-U", "postgres"}, strings.NewReader("input"), &out)
	require.NoError(t, err)
	assert.Equal(t, "-- dump\n", out.String())
	assert.Equal(t, []byte("input"), fake.Calls()[0].Stdin)
}

func TestExitError(t *testing.T) {
	err := &ExitError{
		Args:   []string{"compose", "-f", "/srv/x.yml", "--project-directory", "/srv", "up", "-d"},
		Code:   1,
		Stderr: "pulling...\nservice \"api\" refers to undefined network\n",
	}
	assert.Equal(t, `docker compose up exited with code 1: service "api" refers to undefined network`, err.Error())

	wrapped := errors.Join(errors.New("context"), err)
	assert.True(t, IsExitError(wrapped))
	assert.False(t, IsExitError(errors.New("plain")))
}

func TestExecRunner(t *testing.T) {
	runner := NewExecRunner("sh")

	res, err := runner.Run(context.Background(), Cmd{Args: []string{"-c", "echo out; echo oops >&2; exit 3"}})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "oops\n", exitErr.Stderr)
	assert.Equal(t, "out\n", string(res.Stdout))

	var out bytes.Buffer
	_, err = runner.Run(context.Background(), Cmd{Args: []string{"-c", "cat"}, Stdin: strings.NewReader("piped"), Stdout: &out})
	require.NoError(t, err)
	assert.Equal(t, "piped", out.String())

	_, err = NewExecRunner("definitely-not-a-docker-binary").Run(context.Background(), Cmd{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
