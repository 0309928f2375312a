package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/kit/internal/config"
	"github.com/phrazzld/kit/internal/database"
	"github.com/phrazzld/kit/internal/kit"
	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/phrazzld/kit/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKit(t *testing.T) *kit.Kit {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Root = t.TempDir()
	_, log := logger.SetupTestLogger(t)
	k, err := kit.NewFromConfig(cfg, kit.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func run(t *testing.T, k *kit.Kit, script string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, New(k, &out).Run(context.Background(), strings.NewReader(script)))
	return out.String()
}

func countVisits(t *testing.T, k *kit.Kit) int {
	t.Helper()
	engine, err := k.Engine()
	require.NoError(t, err)
	var n int
	require.NoError(t, engine.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM visits").Scan(&n))
	return n
}

func TestSQLAndCommit(t *testing.T) {
	k := newTestKit(t)

	out := run(t, k, `
exec CREATE TABLE visits (id INTEGER PRIMARY KEY, date TEXT)
exec INSERT INTO visits (date) VALUES ('2025-01-01')
sql SELECT id, date, NULL AS note FROM visits
commit
tables
quit
exec INSERT INTO visits (date) VALUES ('never')
`)

	assert.Contains(t, out, "1 row(s) affected")
	assert.Contains(t, out, "id  date        note")
	assert.Contains(t, out, "1   2025-01-01  NULL")
	assert.Contains(t, out, "(1 row(s))")
	assert.Contains(t, out, "committed")
	assert.Contains(t, out, "visits\n")
	assert.Equal(t, 1, countVisits(t, k), "Lines after quit are not run")

	sessions, err := k.Sessions()
	require.NoError(t, err)
	assert.Zero(t, sessions.Len(), "The shell session is removed")
}

func TestUncommittedWorkIsRolledBack(t *testing.T) {
	k := newTestKit(t)
	engine, err := k.Engine()
	require.NoError(t, err)
	require.NoError(t, engine.EnsureSchema(context.Background(), database.Schema{
		"": {"CREATE TABLE IF NOT EXISTS visits (id INTEGER PRIMARY KEY, date TEXT)"},
	}))

	out := run(t, k, `
exec INSERT INTO visits (date) VALUES ('2025-01-01')
rollback
sql SELECT COUNT(*) AS n FROM visits
exec INSERT INTO visits (date) VALUES ('2025-01-02')
`)

	assert.Contains(t, out, "rolled back")
	assert.Contains(t, out, "n\n0\n")
	assert.Zero(t, countVisits(t, k), "The shell does not commit on exit")
}

func TestErrorsDoNotStopTheShell(t *testing.T) {
	k := newTestKit(t)

	out := run(t, k, "frobnicate\nsql SELEC nothing\nsql\n# comment\n\nhelp\n")

	assert.Contains(t, out, `error: unknown command "frobnicate"`)
	assert.Contains(t, out, "error: usage: sql <query>")
	assert.Equal(t, 3, strings.Count(out, "error:"))
	assert.Contains(t, out, "send <task> [json]")
	assert.NotContains(t, out, "  exit", "Aliases are not listed")
}

func TestTasksCommands(t *testing.T) {
	k := newTestKit(t)
	app, err := k.Tasks()
	require.NoError(t, err)
	noop := func(context.Context, json.RawMessage) (any, error) { return nil, nil }
	require.NoError(t, app.Register("add", noop))
	require.NoError(t, app.Periodic("poll", 10*time.Minute, noop))

	var out bytes.Buffer
	s := New(k, &out)
	ctx := database.NewScope(context.Background())

	require.NoError(t, s.Exec(ctx, "tasks"))
	assert.Contains(t, out.String(), "add")
	assert.Contains(t, out.String(), "poll  every 10m0s")

	out.Reset()
	require.NoError(t, s.Exec(ctx, `send add {"x": 1}`))
	id := strings.TrimSpace(out.String())
	rec, err := app.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "celery", rec.Queue)
	assert.JSONEq(t, `{"x": 1}`, string(rec.Payload))

	out.Reset()
	require.NoError(t, s.Exec(ctx, "send remote.only"))
	remoteID := strings.TrimSpace(out.String())
	rec, err = app.Result(ctx, remoteID)
	require.NoError(t, err)
	assert.Equal(t, "remote.only", rec.Name, "Unregistered tasks go to the default queue")

	out.Reset()
	require.NoError(t, s.Exec(ctx, "result "+id))
	assert.Contains(t, out.String(), `"status": "pending"`)

	assert.Error(t, s.Exec(ctx, "send add {oops"))
	assert.Error(t, s.Exec(ctx, "result missing"))
}

func TestWorkersAndRoutes(t *testing.T) {
	k := newTestKit(t)
	var out bytes.Buffer
	s := New(k, &out)
	ctx := context.Background()

	require.NoError(t, s.Exec(ctx, "workers"))
	assert.Contains(t, out.String(), "no worker online")

	app, err := k.Tasks()
	require.NoError(t, err)
	require.NoError(t, app.Broker().Heartbeat(ctx, task.WorkerInfo{Hostname: "w1.example.org", Queues: []string{"celery"}}, time.Minute))
	out.Reset()
	require.NoError(t, s.Exec(ctx, "workers"))
	assert.Contains(t, out.String(), "w1.example.org  celery")

	web, err := k.Web()
	require.NoError(t, err)
	web.Get("/visits", func(http.ResponseWriter, *http.Request) {})
	out.Reset()
	require.NoError(t, s.Exec(ctx, "routes"))
	assert.Regexp(t, `GET +/visits\n`, out.String())
	assert.Contains(t, out.String(), "/health")
}

func TestConfigIsRedacted(t *testing.T) {
	k := newTestKit(t)
	k.Config().Settings()["auth"] = map[string]any{"jwt_secret": "a-very-long-signing-secret-of-32-bytes"}

	var out bytes.Buffer
	require.NoError(t, New(k, &out).Exec(context.Background(), "config"))

	assert.Contains(t, out.String(), "database:")
	assert.Contains(t, out.String(), "jwt_secret: '[REDACTED]'")
	assert.NotContains(t, out.String(), "a-very-long-signing-secret")
}
