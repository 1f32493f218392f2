package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fzft/go-async-event/config"
	"github.com/fzft/go-async-event/event"
	"github.com/fzft/go-async-event/log"
	"github.com/fzft/go-async-event/stack"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the echo demo server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Value:   "127.0.0.1:8080",
				Usage:   "listen address",
				EnvVars: []string{"AEVENT_ADDR"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file path",
				EnvVars: []string{"AEVENT_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "reactor thread count (overrides config)",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "poll driver (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := log.InitLogger(cfg.Debug); err != nil {
		return err
	}

	s, err := stack.NewStack(cfg)
	if err != nil {
		return err
	}
	s.Start()

	opts := stack.SocketOptions{
		NoDelay:    cfg.TCPNoDelay,
		RcvbufSize: cfg.TCPRcvbuf,
		Backlog:    cfg.ListenBacklog,
	}
	if _, err := s.Listen(c.String("addr"), opts, echoConn); err != nil {
		s.Stop()
		return err
	}

	if cfg.MetricsAddr != "" {
		go func() {
			handler := promhttp.HandlerFor(s.Metrics().Gatherer(), promhttp.HandlerOpts{})
			if err := http.ListenAndServe(cfg.MetricsAddr, handler); err != nil {
				log.Logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh
	log.Logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
	return s.Stop()
}

// echoConn wires a fresh connection for echoing: register read interest on
// its assigned worker and bounce whatever arrives straight back.
func echoConn(cs *stack.ConnectedSocket, w *stack.Worker) {
	center := w.Center()
	center.SubmitTo(center.ID(), func() {
		err := center.CreateFileEvent(cs.Fd(), event.EventReadable,
			event.CallbackFunc(func(uint64) { echoReadable(cs) }))
		if err != nil {
			log.Logger.Error("register echo connection",
				zap.Int("fd", cs.Fd()), zap.Error(err))
			cs.Close()
		}
	}, true)
}

func echoReadable(cs *stack.ConnectedSocket) {
	data, err := cs.Read()
	if err != nil {
		// peer went away
		cs.Close()
		return
	}
	if len(data) == 0 {
		return
	}
	if err := cs.Write(data); err != nil {
		log.Logger.Warn("echo write failed", zap.Int("fd", cs.Fd()), zap.Error(err))
		cs.Close()
	}
}
