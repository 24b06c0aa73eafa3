// Program cocaine-worker is a diagnostic host for the worker runtime. It can
// run an echo worker against a real supervisor endpoint, or exercise the
// full protocol against an in-memory supervisor.
//
// The echo command implements the launch contract a supervisor uses when
// spawning a worker process: the worker identity and the endpoint must both
// be present on the command line, and the absence of either is a fatal
// configuration error reported before any connection attempt.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/google/uuid"
	worker "github.com/nobodyisme/cocaine-worker"
	"github.com/nobodyisme/cocaine-worker/channel"
	"github.com/nobodyisme/cocaine-worker/handler"
	"github.com/nobodyisme/cocaine-worker/supervisor"
	"go.uber.org/zap"
)

var flags struct {
	UUID     string `flag:"uuid,Worker identity assigned by the supervisor"`
	Endpoint string `flag:"endpoint,Supervisor endpoint (socket path or host:port)"`
	App      string `flag:"app,Application name (informational)"`
	Config   string `flag:"config,Path to a TOML timing configuration file"`
	Debug    bool   `flag:"debug,Enable debug logging"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Diagnostic host for the cocaine worker runtime.",

		SetFlags: command.Flags(flax.MustBind, &flags),

		Commands: []*command.C{
			{
				Name: "echo",
				Help: `Run an echo worker against a supervisor endpoint.

The worker registers "echo" (streams every request chunk back) and "ping"
(replies "pong" and closes). It exits non-zero when the engine stops for any
fatal reason: a TERMINATE from the supervisor, a disown timeout, or bad
handler code.`,
				Run: runEcho,
			},
			{
				Name: "selftest",
				Help: "Run the echo worker against an in-memory supervisor and verify a round trip.",
				Run:  runSelftest,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func newLogger() (*zap.Logger, error) {
	if flags.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newWorker(id string) (*worker.Worker, error) {
	log, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	cfg := worker.Config{ID: id, Log: log}
	if flags.Config != "" {
		fc, err := loadConfig(flags.Config)
		if err != nil {
			return nil, err
		}
		cfg.Heartbeat = fc.Heartbeat.Duration
		cfg.Disown = fc.Disown.Duration
	}
	w, err := worker.New(cfg)
	if err != nil {
		return nil, err
	}
	return w.RegisterAll(map[string]any{
		"echo": handler.Stream(echo),
		"ping": handler.Func(ping),
	}), nil
}

func runEcho(env *command.Env) error {
	if flags.UUID == "" {
		return fmt.Errorf("%w: --uuid is required", worker.ErrMissingID)
	}
	if flags.Endpoint == "" {
		return fmt.Errorf("%w: --endpoint is required", worker.ErrInvalidEndpoint)
	}
	ep, err := worker.ParseEndpoint(flags.Endpoint)
	if err != nil {
		return err
	}

	w, err := newWorker(flags.UUID)
	if err != nil {
		return err
	}
	ch, err := channel.Dial(ep)
	if err != nil {
		return fmt.Errorf("connecting %v: %w", ep, err)
	}

	if st := w.Start(ch).Wait(); st != nil {
		return fmt.Errorf("worker stopped: %v", st)
	}
	return nil
}

func runSelftest(env *command.Env) error {
	id := flags.UUID
	if id == "" {
		id = uuid.NewString()
	}
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	loc, err := supervisor.NewLocal(worker.Config{
		ID:        id,
		Heartbeat: 50 * time.Millisecond,
		Disown:    time.Second,
		Log:       log,
	}, supervisor.AutoHeartbeat())
	if err != nil {
		return err
	}
	defer loc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Skip the handshake and wait for a heartbeat exchange, then run one
	// echo session end to end.
	for {
		msg, err := loc.S.Next(ctx)
		if err != nil {
			return fmt.Errorf("waiting for heartbeat: %w", err)
		}
		if msg.Op == worker.OpHeartbeat {
			break
		}
	}

	const session = 1
	const probe = "selftest probe"
	if err := loc.S.Invoke(session, "echo"); err != nil {
		return err
	}
	if err := loc.S.Chunk(session, []byte(probe)); err != nil {
		return err
	}
	if err := loc.S.Choke(session); err != nil {
		return err
	}

	var got []byte
	for {
		msg, err := loc.S.Next(ctx)
		if err != nil {
			return fmt.Errorf("waiting for echo: %w", err)
		}
		switch {
		case msg.Op == worker.OpChunk && msg.Session == session:
			got = append(got, msg.Payload...)
		case msg.Op == worker.OpChoke && msg.Session == session:
			if string(got) != probe {
				return fmt.Errorf("echo returned %q, want %q", got, probe)
			}
			fmt.Printf("selftest ok: worker %s echoed %d bytes\n", id, len(got))
			return nil
		case msg.Op == worker.OpError:
			return fmt.Errorf("echo failed: %s", msg)
		}
	}
}

// echo streams every request chunk back to the supervisor.
func echo(ctx context.Context, req *worker.Request, rsp *worker.Response) error {
	for chunk, err := range req.All(ctx) {
		if err != nil {
			return err
		}
		if err := rsp.Write(chunk); err != nil {
			return err
		}
	}
	return rsp.Close()
}

// ping replies "pong" without consuming the request stream.
func ping(req *worker.Request, rsp *worker.Response) error {
	if err := rsp.Write([]byte("pong")); err != nil {
		return err
	}
	return rsp.Close()
}
