package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/roomrtc/internal/config"
	"github.com/lanikai/roomrtc/internal/rlog"
	"github.com/lanikai/roomrtc/internal/signaling"
	"github.com/lanikai/roomrtc/internal/userstore"
)

var log = rlog.For("roomrtcd")

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}

	store, err := userstore.Load(flagUsersFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	cfg := config.Default().Signaling
	cfg.Bind = flagBind
	cfg.PSK = flagPSK
	cfg.MaxClients = flagMaxClients

	srv := signaling.NewServer(cfg, store)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("shutting down")
		srv.Close()
	}()

	log.Info().Str("bind", cfg.Bind).Int("maxClients", cfg.MaxClients).Msg("listening")
	if err := srv.ListenAndServe(); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
