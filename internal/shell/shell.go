// Package shell implements the interactive console of a kit: SQL through
// the shell session, task sending and inspection of the loaded
// components.
package shell

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/phrazzld/kit/internal/database"
	"github.com/phrazzld/kit/internal/kit"
	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/phrazzld/kit/internal/redact"
	"github.com/phrazzld/kit/internal/task"
	"gopkg.in/yaml.v3"
)

// Prompt is printed before every command.
const Prompt = "kit> "

// ErrUnknownCommand is returned by Exec for unknown commands.
var ErrUnknownCommand = errors.New("unknown command")

var errQuit = errors.New("quit")

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, args string) error
}

// Shell runs commands against a kit. Statements share one session, which
// is rolled back when the shell ends unless committed.
type Shell struct {
	kit      *kit.Kit
	out      io.Writer
	commands map[string]command
}

// New returns a shell for k writing to out.
func New(k *kit.Kit, out io.Writer) *Shell {
	s := &Shell{kit: k, out: out}
	s.commands = map[string]command{
		"help":     {usage: "help", help: "list the commands", run: s.help},
		"config":   {usage: "config", help: "print the effective configuration", run: s.config},
		"sql":      {usage: "sql <query>", help: "run a query and print its rows", run: s.query},
		"exec":     {usage: "exec <statement>", help: "run a statement", run: s.exec},
		"commit":   {usage: "commit", help: "commit the session", run: s.commit},
		"rollback": {usage: "rollback", help: "roll the session back", run: s.rollback},
		"tables":   {usage: "tables", help: "list the database tables", run: s.tables},
		"tasks":    {usage: "tasks", help: "list the registered tasks", run: s.tasks},
		"send":     {usage: "send <task> [json]", help: "send a task", run: s.send},
		"result":   {usage: "result <id>", help: "print the state of a task", run: s.result},
		"workers":  {usage: "workers", help: "list the live workers", run: s.workers},
		"routes":   {usage: "routes", help: "list the web routes", run: s.routes},
		"quit":     {usage: "quit", help: "leave the shell", run: func(context.Context, string) error { return errQuit }},
	}
	s.commands["exit"] = s.commands["quit"]
	return s
}

// Run reads commands from in until quit or end of input. Command errors
// are printed and do not stop the shell.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	ctx = database.NewScope(logger.WithLogger(ctx, s.kit.Logger()))
	defer func() {
		if err := s.kit.RemoveSession(ctx, kit.OriginShell); err != nil {
			s.kit.Logger().Warn("failed to end shell session", "error", err)
		}
	}()

	cfg := s.kit.Config()
	fmt.Fprintf(s.out, "kit shell for %s (%s)\nType help to list the commands.\n", cfg.ProjectName(), cfg.Path)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(s.out, Prompt)
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		err := s.Exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %s\n", redact.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Exec runs one command line. Blank lines and lines starting with # are
// ignored.
func (s *Shell) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	name, args, _ := strings.Cut(line, " ")
	cmd, ok := s.commands[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%w %q, type help", ErrUnknownCommand, name)
	}
	return cmd.run(ctx, strings.TrimSpace(args))
}

func (s *Shell) help(context.Context, string) error {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		if name != "exit" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		c := s.commands[name]
		fmt.Fprintf(tw, "  %s\t%s\n", c.usage, c.help)
	}
	return tw.Flush()
}

func (s *Shell) config(context.Context, string) error {
	out, err := yaml.Marshal(redact.Settings(s.kit.Config().Settings()))
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = s.out.Write(out)
	return err
}

func (s *Shell) query(ctx context.Context, q string) error {
	if q == "" {
		return errors.New("usage: sql <query>")
	}
	session, err := s.kit.Session(ctx)
	if err != nil {
		return err
	}
	rows, err := session.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	return s.printRows(rows)
}

func (s *Shell) printRows(rows *sql.Rows) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))

	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	n := 0
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatValue(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "(%d row(s))\n", n)
	return nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	}
	return fmt.Sprint(v)
}

func (s *Shell) exec(ctx context.Context, stmt string) error {
	if stmt == "" {
		return errors.New("usage: exec <statement>")
	}
	session, err := s.kit.Session(ctx)
	if err != nil {
		return err
	}
	res, err := session.ExecContext(ctx, stmt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		fmt.Fprintf(s.out, "%d row(s) affected\n", n)
	}
	return nil
}

func (s *Shell) commit(ctx context.Context, _ string) error {
	session, err := s.kit.Session(ctx)
	if err != nil {
		return err
	}
	if err := session.Commit(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "committed")
	return nil
}

func (s *Shell) rollback(ctx context.Context, _ string) error {
	session, err := s.kit.Session(ctx)
	if err != nil {
		return err
	}
	if err := session.Rollback(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "rolled back")
	return nil
}

func (s *Shell) tables(ctx context.Context, _ string) error {
	session, err := s.kit.Session(ctx)
	if err != nil {
		return err
	}
	names, err := session.Tables(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(s.out, name)
	}
	return nil
}

func (s *Shell) tasks(context.Context, string) error {
	app, err := s.kit.Tasks()
	if err != nil {
		return err
	}
	every := make(map[string]string)
	for _, p := range app.PeriodicTasks() {
		every[p.Name] = "every " + p.Every.String()
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, name := range app.Names() {
		fmt.Fprintf(tw, "%s\t%s\n", name, every[name])
	}
	return tw.Flush()
}

// send delays a registered task, or sends an unknown one to the default
// queue for remote workers.
func (s *Shell) send(ctx context.Context, args string) error {
	name, raw, _ := strings.Cut(args, " ")
	if name == "" {
		return errors.New("usage: send <task> [json]")
	}
	var payload any
	if raw = strings.TrimSpace(raw); raw != "" {
		if !json.Valid([]byte(raw)) {
			return errors.New("payload must be JSON")
		}
		payload = json.RawMessage(raw)
	}

	app, err := s.kit.Tasks()
	if err != nil {
		return err
	}
	res, err := app.Delay(ctx, name, payload)
	if errors.Is(err, task.ErrUnknownTask) {
		res, err = app.Send(ctx, name, "", payload)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, res.ID)
	return nil
}

func (s *Shell) result(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("usage: result <id>")
	}
	app, err := s.kit.Tasks()
	if err != nil {
		return err
	}
	rec, err := app.Result(ctx, id)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(out))
	return nil
}

func (s *Shell) workers(ctx context.Context, _ string) error {
	app, err := s.kit.Tasks()
	if err != nil {
		return err
	}
	workers, err := app.Broker().Workers(ctx)
	if err != nil {
		return err
	}
	if len(workers) == 0 {
		fmt.Fprintln(s.out, "no worker online")
		return nil
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, w := range workers {
		fmt.Fprintf(tw, "%s\t%s\tactive %d\tprocessed %d\n", w.Hostname, strings.Join(w.Queues, ","), w.Active, w.Processed)
	}
	return tw.Flush()
}

func (s *Shell) routes(context.Context, string) error {
	web, err := s.kit.Web()
	if err != nil {
		return err
	}
	routes, err := web.Routes()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, r := range routes {
		fmt.Fprintf(tw, "%s\t%s\n", r.Method, r.Pattern)
	}
	return tw.Flush()
}
