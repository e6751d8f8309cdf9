// Command speed-daemon runs the protocol listener, the optional serial
// ALPR camera bridge, and the admin plane.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/protohackers/speed-daemon/internal/adminserver"
	"github.com/protohackers/speed-daemon/internal/auditlog"
	"github.com/protohackers/speed-daemon/internal/config"
	"github.com/protohackers/speed-daemon/internal/dispatch"
	"github.com/protohackers/speed-daemon/internal/ingest/serialcam"
	"github.com/protohackers/speed-daemon/internal/session"
	"github.com/protohackers/speed-daemon/internal/store"
)

func main() {
	configPath := flag.String("config", "/etc/speed-daemon/config.yaml", "Path to config file")
	listenAddr := flag.String("listen", "", "Override protocol listen address (e.g. :8080)")
	adminAddr := flag.String("admin-listen", "", "Override admin plane listen address (e.g. :8081)")
	demo := flag.Bool("demo", false, "Run with a synthetic camera source instead of the serial ALPR bridge")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] speed-daemon starting")

	cfg := config.Load(*configPath)
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *adminAddr != "" {
		cfg.Admin.ListenAddr = *adminAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	router := dispatch.New(nil)
	st := store.New(router)

	audit := auditlog.New(auditlog.Config{Enabled: cfg.AuditLog.Enabled, Path: cfg.AuditLog.Path})
	defer audit.Close()

	sinks := fanoutSink{audit: audit}
	if cfg.Admin.Enabled {
		admin := adminserver.New(cfg.Admin.ListenAddr, st, router)
		sinks.admin = admin
		go func() {
			if err := admin.Run(ctx); err != nil {
				log.Printf("[main] admin server exited: %v", err)
			}
		}()
	}
	router.SetSink(sinks)

	if *demo {
		log.Println("[main] demo mode: starting synthetic camera source")
		go runDemoSource(ctx, st)
	} else if cfg.SerialCamera.Enabled {
		go runSerialCameraWithRetry(ctx, cfg, st)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatalf("[main] listen on %s: %v", cfg.Listen, err)
	}
	log.Printf("[main] listening on %s", cfg.Listen)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Println("[main] shutdown complete")
				return
			default:
				log.Printf("[main] accept error: %v", err)
				continue
			}
		}
		go session.New(conn, st, router).Serve()
	}
}

// fanoutSink implements dispatch.EventSink, forwarding each minted
// ticket to the audit log and (if enabled) the admin plane's live feed
// and metrics collector.
type fanoutSink struct {
	audit *auditlog.Log
	admin *adminserver.Server
}

func (f fanoutSink) OnTicket(t store.Ticket) {
	f.audit.Record(t)
	if f.admin != nil {
		f.admin.OnTicket(t)
	}
}

// runSerialCameraWithRetry opens the configured serial ALPR port with
// exponential backoff. A missing or unopenable port is logged and
// retried indefinitely; it never prevents the TCP listener from serving
// traffic, matching the teacher's non-blocking connect philosophy.
func runSerialCameraWithRetry(ctx context.Context, cfg *config.Config, st *store.Store) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		bridge, err := serialcam.Open(serialcam.Config{
			Port:     cfg.SerialCamera.Port,
			BaudRate: cfg.SerialCamera.BaudRate,
			Road:     cfg.SerialCamera.Road,
			Limit:    cfg.SerialCamera.Limit,
		}, st)
		if err != nil {
			log.Printf("[serialcam] connect failed: %v (retry in %v)", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		log.Printf("[serialcam] connected on %s", cfg.SerialCamera.Port)
		done := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(done)
			bridge.Close()
		}()
		if err := bridge.Run(done); err != nil {
			log.Printf("[serialcam] disconnected: %v", err)
		}
		bridge.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
		delay = 1 * time.Second
	}
}
