package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"roadway/internal/keep"
	"roadway/internal/logging"
	"roadway/internal/network"
	"roadway/internal/peer"
	"roadway/internal/road"
	"roadway/internal/status"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a roadway node",
	Long: `Run a roadway node: bind the datagram carrier, restore identity
from the keep, and service the stack until interrupted.

A node with no assigned id joins through the bootstrap address first.`,
	RunE: runNode,
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "YAML configuration file")
	runCmd.Flags().Bool("join", false, "force a join even when already accepted")
	rootCmd.AddCommand(runCmd)
}

func runNode(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	forceJoin, _ := cmd.Flags().GetBool("join")

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON})
	log := logging.WithComponent("run")

	kp, err := keep.New(cfg.KeepDir)
	if err != nil {
		return err
	}
	local, err := kp.LoadLocal()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		local, err = peer.NewLocal(0, cfg.Listen.Host, cfg.Listen.Port, nil, nil)
		if err != nil {
			return err
		}
		if err := kp.DumpLocal(local); err != nil {
			return err
		}
		log.Info().Msg("generated new identity")
	}
	remotes, err := kp.LoadRemotes()
	if err != nil {
		return err
	}

	carrier, err := openCarrier(cfg)
	if err != nil {
		return err
	}

	stack, err := road.NewStack(road.Config{
		Name:          cfg.Name,
		Local:         local,
		Carrier:       carrier,
		Remotes:       remotes,
		BootstrapHost: cfg.Bootstrap.Host,
		BootstrapPort: cfg.Bootstrap.Port,
		Timeout:       cfg.Timeout,
		AutoAccept:    cfg.AutoAccept,
	})
	if err != nil {
		return err
	}
	defer stack.Close()
	log.Info().
		Str("addr", stack.Addr()).
		Uint32("id", local.ID).
		Str("carrier", cfg.Carrier).
		Msg("stack up")

	srv := status.NewServer(cfg.StatusAddr)
	srv.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	if !local.Accepted || forceJoin {
		if _, err := stack.Join(); err != nil {
			return fmt.Errorf("join: %v", err)
		}
		log.Info().
			Str("bootstrap", fmt.Sprintf("%s:%d", cfg.Bootstrap.Host, cfg.Bootstrap.Port)).
			Msg("joining channel")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info().Msg("shutting down")
			if err := kp.DumpLocal(local); err != nil {
				log.Error().Err(err).Msg("keep dump failed")
			}
			if err := kp.DumpRemotes(stack.Remotes); err != nil {
				log.Error().Err(err).Msg("keep dump failed")
			}
			return nil
		case <-ticker.C:
			stack.ServiceAll()
			srv.Update(snapshot(stack))
		}
	}
}

func openCarrier(cfg FileConfig) (network.Carrier, error) {
	if cfg.Carrier == "quic" {
		return network.NewQUICCarrier(cfg.Listen.Host, cfg.Listen.Port)
	}
	return network.NewUDPCarrier(cfg.Listen.Host, cfg.Listen.Port)
}

func snapshot(s *road.Stack) status.Snapshot {
	snap := status.Snapshot{
		Name:         s.Name,
		UID:          s.UID,
		LocalID:      s.Local.ID,
		Addr:         s.Addr(),
		Accepted:     s.Local.Accepted,
		Transactions: s.Transactions(),
	}
	for _, r := range s.Remotes.All() {
		snap.Peers = append(snap.Peers, status.PeerInfo{
			ID:       r.ID,
			Addr:     r.Addr(),
			Accepted: r.Accepted,
			Endowed:  r.Endowed,
		})
	}
	return snap
}
