// Command dropgate-relay demonstrates the P2P transfer protocol end to end
// over real TCP connections. It is a thin harness: the protocol package has
// no transport of its own, so something has to dial/listen and implement
// protocol.Channel — this is that something, not a production CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dropgate/dropgate/internal/clock"
	"github.com/dropgate/dropgate/internal/hooks"
	"github.com/dropgate/dropgate/internal/logger"
	"github.com/dropgate/dropgate/internal/relay"
	"github.com/dropgate/dropgate/internal/sessionid"
	"github.com/dropgate/dropgate/internal/sink"
	"github.com/dropgate/dropgate/protocol"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli", "mode", cfg.mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hookMgr := buildHookManager(cfg, log)
	defer hookMgr.Close()

	var runErr error
	switch cfg.mode {
	case "send":
		runErr = runSend(ctx, cfg, log, hookMgr)
	case "recv":
		runErr = runRecv(ctx, cfg, log, hookMgr)
	}
	if runErr != nil {
		log.Error("dropgate-relay exited with error", "error", runErr)
		os.Exit(1)
	}
}

func buildHookManager(cfg *cliConfig, log interface {
	Warn(msg string, args ...any)
}) *hooks.Manager {
	hc := hooks.DefaultConfig()
	hc.StdioFormat = cfg.hookStdio
	mgr := hooks.NewManager(hc, logger.Logger())

	for _, assignment := range cfg.hookScripts {
		eventType, path, _ := strings.Cut(assignment, "=")
		h := hooks.NewShellHook(eventType+"-script", path, 30*time.Second)
		if err := mgr.RegisterHook(hooks.EventType(eventType), h); err != nil {
			log.Warn("failed to register hook script", "error", err)
		}
	}
	for _, assignment := range cfg.hookWebhooks {
		eventType, url, _ := strings.Cut(assignment, "=")
		h := hooks.NewWebhookHook(eventType+"-webhook", url, 30*time.Second)
		if err := mgr.RegisterHook(hooks.EventType(eventType), h); err != nil {
			log.Warn("failed to register hook webhook", "error", err)
		}
	}
	return mgr
}

// runSend dials cfg.addr (and, if -relay-to was given, every additional
// destination) and sends cfg.file to each concurrently via internal/relay.
func runSend(ctx context.Context, cfg *cliConfig, log *slog.Logger, hookMgr *hooks.Manager) error {
	src, err := sink.OpenSource(cfg.file)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer src.Close()

	info, err := os.Stat(cfg.file)
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	opts := protocol.NewOptions()
	opts.ChunkSize = int(cfg.chunkSize)
	meta := protocol.Metadata{Name: info.Name(), Size: info.Size(), Mime: "application/octet-stream"}

	destinations := append([]string{cfg.addr}, cfg.relayTo...)
	if len(destinations) == 1 {
		sess := protocol.NewSession(sessionid.New(), protocol.ProtocolVersion)
		sess.SetMeta(meta)
		conn, err := net.Dial("tcp", cfg.addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", cfg.addr, err)
		}
		ch := newNetChannel(conn)
		sender := protocol.NewSender(sess, src, ch, opts, clock.New(), log, hookMgr)
		log.Info("sending", "file", cfg.file, "size", info.Size(), "addr", cfg.addr)
		return sender.Run(ctx)
	}

	mgr := relay.NewManager(src, meta, opts, clock.New(), log)
	for _, addr := range destinations {
		addr := addr
		if err := mgr.AddDestination(addr, func(ctx context.Context) (protocol.Channel, error) {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return nil, err
			}
			return newNetChannel(conn), nil
		}, 3, time.Second); err != nil {
			return fmt.Errorf("register destination %s: %w", addr, err)
		}
	}
	log.Info("broadcasting", "file", cfg.file, "size", info.Size(), "destinations", len(destinations))
	results := mgr.Broadcast(ctx)
	var failed []string
	for id, err := range results {
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", id, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d/%d destinations failed: %s", len(failed), len(destinations), strings.Join(failed, "; "))
	}
	return nil
}

// runRecv listens on cfg.addr and writes each accepted transfer to cfg.file,
// one connection at a time — enough to demonstrate the protocol without a
// registry of concurrent sessions the core itself has no opinion about.
func runRecv(ctx context.Context, cfg *cliConfig, log *slog.Logger, hookMgr *hooks.Manager) error {
	ln, err := net.Listen("tcp", cfg.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.addr, err)
	}
	defer ln.Close()
	log.Info("listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		if err := handleIncoming(ctx, conn, cfg, log, hookMgr); err != nil {
			log.Error("transfer failed", "remote", conn.RemoteAddr(), "error", err)
		}
	}
}

func handleIncoming(ctx context.Context, conn net.Conn, cfg *cliConfig, log *slog.Logger, hookMgr *hooks.Manager) error {
	ch := newNetChannel(conn)
	defer ch.Close()

	opts := protocol.NewOptions()
	opts.ChunkSize = int(cfg.chunkSize)
	sess := protocol.NewSession(sessionIDFromAddr(conn.RemoteAddr().String()), protocol.ProtocolVersion)

	// The destination file is opened lazily by the receiver's first Write
	// call rather than up front.
	lazy := newLazyDiskSink(cfg.file)
	r := protocol.NewReceiver(sess, lazy, ch, opts, clock.New(), log, hookMgr)
	log.Info("accepted connection", "remote", conn.RemoteAddr())
	return r.Run(ctx)
}

// sessionIDFromAddr gives the receiver side a placeholder session id derived
// from the peer's connection address. The receiver never chooses a session
// id per spec — it adopts whatever value the sender's hello frame carries
// once the handshake completes — so this only needs to be stable enough for
// logging before that point, unlike the sender's sessionid.New().
func sessionIDFromAddr(addr string) string {
	return "dropgate-" + strings.ReplaceAll(addr, ":", "-")
}

// lazyDiskSink defers opening the destination file until the first Write.
// The file is sized to the end of that first write, not to the declared
// transfer size; later writes extend it as needed. A transfer that delivers
// no chunks creates no file.
type lazyDiskSink struct {
	path  string
	inner *sink.DiskSink
}

func newLazyDiskSink(path string) *lazyDiskSink {
	return &lazyDiskSink{path: path}
}

func (l *lazyDiskSink) Write(ctx context.Context, offset int64, p []byte) error {
	if l.inner == nil {
		declaredEnd := offset + int64(len(p))
		s, err := sink.New(l.path, declaredEnd, nil)
		if err != nil {
			return err
		}
		l.inner = s
	}
	return l.inner.Write(ctx, offset, p)
}

func (l *lazyDiskSink) Close(ctx context.Context) error {
	if l.inner == nil {
		return nil
	}
	return l.inner.Close(ctx)
}
