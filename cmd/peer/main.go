// Command peer runs one node of the replicated ledger: it starts the
// Paxos transport listener and admin API, then reads transfer/fail/
// fix/print commands from stdin until EOF or a signal, the same
// command surface the original per-process REPL exposed.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rechain/ledger/internal/config"
	"github.com/rechain/ledger/internal/peer"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "peer",
		Short: "run one node of the replicated ledger",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a peer config YAML file")
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var nodeID int64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start this peer and read commands from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if nodeID != 0 {
				cfg.Node.ID = nodeID
			}

			p, err := peer.New(cfg)
			if err != nil {
				return fmt.Errorf("build peer: %w", err)
			}
			if err := p.Start(); err != nil {
				return fmt.Errorf("start peer: %w", err)
			}
			log.Printf("[peer-%d] up, listening on %s", cfg.Node.ID, cfg.Network.Peers[strconv.FormatInt(cfg.Node.ID, 10)])

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			cmdLines := make(chan string)
			go readCommands(cmdLines)

			for {
				select {
				case <-sigCh:
					log.Printf("[peer-%d] shutting down", cfg.Node.ID)
					return p.Stop()
				case line, ok := <-cmdLines:
					if !ok {
						return p.Stop()
					}
					dispatchCommand(p, cfg.Node.ID, line)
				}
			}
		},
	}
	cmd.Flags().Int64Var(&nodeID, "id", 0, "override this peer's node id from the config file")
	return cmd
}

func readCommands(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

func dispatchCommand(p *peer.Peer, selfID int64, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "moneyTransfer":
		if len(fields) != 4 {
			fmt.Println("usage: moneyTransfer <sender> <receiver> <amount>")
			return
		}
		sender, _ := strconv.ParseInt(fields[1], 10, 64)
		receiver, _ := strconv.ParseInt(fields[2], 10, 64)
		amount, _ := strconv.ParseInt(fields[3], 10, 64)
		if err := p.MoneyTransfer(context.Background(), sender, receiver, amount); err != nil {
			fmt.Printf("transfer failed: %v\n", err)
			return
		}
		fmt.Println("Money transferred.")

	case "failProcess":
		p.FailProcess()
		fmt.Println("Process failed.")

	case "fixProcess":
		if err := p.FixProcess(); err != nil {
			fmt.Printf("fix failed: %v\n", err)
			return
		}
		fmt.Println("Process fixed.")

	case "printBlockchain":
		for i, b := range p.Chain() {
			fmt.Printf("%d: %+v\n", i, b)
		}

	case "printBalance":
		fmt.Println(p.Balances())

	default:
		fmt.Printf("unknown command: %s\n", fields[0])
	}
}
