// Command vos-probe connects to a session as a synchronizing client, requests a
// snapshot and prints the roster and entities it receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/erilali/vossync/internal/config"
	"github.com/erilali/vossync/internal/logger"
	"github.com/erilali/vossync/internal/scene"
	"github.com/erilali/vossync/internal/synchronizer"
	"github.com/google/uuid"
)

func main() {
	var (
		configPath = flag.String("config", "vossync.yaml", "path to the YAML config")
		sessionArg = flag.String("session", "", "session id to join (random when -create is set)")
		create     = flag.Bool("create", false, "create the session before joining")
		sessionTag = flag.String("session-tag", "probe", "tag for a created session")
		clientTag  = flag.String("tag", "vos-probe", "client tag to join as")
		say        = flag.String("say", "", "custom message to send after the snapshot")
		timeout    = flag.Duration("timeout", 10*time.Second, "how long to wait for each step")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.InitLogger(cfg.Logger)
	log := logger.NewLogger("probe")

	if err := run(cfg, log, *sessionArg, *create, *sessionTag, *clientTag, *say, *timeout); err != nil {
		log.Errorf("Probe failed: %v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger, sessionArg string, create bool, sessionTag, clientTag, say string, timeout time.Duration) error {
	sessionID := uuid.Nil
	if sessionArg != "" {
		id, err := uuid.Parse(sessionArg)
		if err != nil {
			return fmt.Errorf("session id: %w", err)
		}
		sessionID = id
	} else if create {
		sessionID = uuid.New()
	} else {
		return fmt.Errorf("either -session or -create is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := cfg.Transport.NewAdapter(log.Component("transport"))
	if err != nil {
		return err
	}
	world := scene.New(log.Component("scene"))
	client, err := synchronizer.New(adapter, world, cfg.Synchronizer.Options(), log.Component("synchronizer"))
	if err != nil {
		return err
	}
	p := &probe{sync: client, tick: cfg.Synchronizer.TickInterval, timeout: timeout}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Connect(connectCtx, cfg.Transport.Endpoint()); err != nil {
		return err
	}
	defer client.Disconnect("probe done")
	if !p.waitFor(ctx, client.IsConnected) {
		return fmt.Errorf("transport did not connect within %s", timeout)
	}

	if create {
		if err := client.CreateSession(sessionID, sessionTag); err != nil {
			return err
		}
		log.Infof("Created session %s (%s)", sessionID, sessionTag)
	}
	clientID, err := client.JoinSession(sessionID, clientTag)
	if err != nil {
		return err
	}
	log.WithFields(map[string]interface{}{"session": sessionID, "client": clientID}).Info("Joined session")

	received := false
	if err := client.GetSessionState(func() { received = true }); err != nil {
		return err
	}
	if !p.waitFor(ctx, func() bool { return received }) {
		return fmt.Errorf("no session state within %s", timeout)
	}
	report(os.Stdout, client)

	if say != "" {
		if err := client.SendMessage("probe", say); err != nil {
			return err
		}
	}
	if err := client.ExitSession(); err != nil {
		return err
	}
	p.waitFor(ctx, func() bool { return !client.InSession() })
	return nil
}

type probe struct {
	sync    *synchronizer.Synchronizer
	tick    time.Duration
	timeout time.Duration
}

// waitFor ticks the synchronizer until cond holds, the timeout elapses or ctx ends.
func (p *probe) waitFor(ctx context.Context, cond func() bool) bool {
	deadline := time.Now().Add(p.timeout)
	last := time.Now()
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.tick):
		}
		now := time.Now()
		p.sync.Tick(now.Sub(last))
		last = now
	}
	return true
}

func report(out *os.File, s *synchronizer.Synchronizer) {
	fmt.Fprintf(out, "session %s\n", s.CurrentSessionID())

	users := s.SynchronizedUsers()
	ids := make([]uuid.UUID, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	fmt.Fprintf(out, "clients (%d)\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(out, "  %s %s\n", id, users[id])
	}

	entities := s.SynchronizedEntities()
	ids = ids[:0]
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	fmt.Fprintf(out, "entities (%d)\n", len(ids))
	for _, id := range ids {
		e := entities[id]
		parent := "-"
		if p := e.Parent(); p != nil {
			parent = p.ID().String()
		}
		pos := e.Position(true)
		fmt.Fprintf(out, "  %s %-9s %-16q parent=%s pos=(%.2f, %.2f, %.2f)\n", id, e.Kind(), e.Tag(), parent, pos.X, pos.Y, pos.Z)
	}
}
