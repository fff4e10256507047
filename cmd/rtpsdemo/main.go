package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Klapeyron/rtps-go/rtps"
)

var (
	flagConfig    string
	flagDomain    uint32
	flagTopic     string
	flagType      string
	flagReliable  bool
	flagTransient bool
	flagVerbose   bool
)

func main() {
	root := &cobra.Command{
		Use:           "rtpsdemo",
		Short:         "Minimal publish/subscribe demo over the wire protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "participant config file (YAML)")
	root.PersistentFlags().Uint32Var(&flagDomain, "domain", 0, "domain id")
	root.PersistentFlags().StringVarP(&flagTopic, "topic", "t", "chatter", "topic name")
	root.PersistentFlags().StringVar(&flagType, "type", "", "type name (advisory)")
	root.PersistentFlags().BoolVar(&flagReliable, "reliable", true, "use reliable delivery")
	root.PersistentFlags().BoolVar(&flagTransient, "transient", false, "retain history for late joiners")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(pubCmd(), subCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rtpsdemo:", err)
		os.Exit(1)
	}
}

func buildConfig() (rtps.Config, error) {
	var cfg rtps.Config
	if flagConfig != "" {
		var err error
		if cfg, err = rtps.LoadConfig(flagConfig); err != nil {
			return rtps.Config{}, err
		}
	}
	if flagDomain != 0 {
		cfg.DomainID = flagDomain
	}
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, nil
}

func topicQoS() rtps.QoS {
	q := rtps.DefaultQoS()
	if flagReliable {
		q.Reliability = rtps.Reliable
	} else {
		q.Reliability = rtps.BestEffort
	}
	if flagTransient {
		q.Durability = rtps.TransientLocal
		q.History = rtps.KeepAll
	}
	return q
}

func startParticipant() (*rtps.Participant, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	tr, err := rtps.NewUDPTransport(cfg)
	if err != nil {
		return nil, err
	}
	p, err := rtps.NewParticipant(cfg, tr)
	if err != nil {
		tr.Close()
		return nil, err
	}
	if err := p.Start(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func pubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pub",
		Short: "Publish stdin lines to the topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := startParticipant()
			if err != nil {
				return err
			}
			defer p.Close()

			w, err := p.CreateWriter(flagTopic, flagType, topicQoS())
			if err != nil {
				return err
			}

			ctx := signalContext()
			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					lines <- sc.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						// let in-flight repairs finish before tearing down
						time.Sleep(500 * time.Millisecond)
						return nil
					}
					sn, err := w.Write([]byte(line))
					if err != nil {
						return err
					}
					fmt.Printf("published #%d: %s\n", sn, line)
				}
			}
		},
	}
}

func subCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sub",
		Short: "Subscribe and print samples from the topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := startParticipant()
			if err != nil {
				return err
			}
			defer p.Close()

			r, err := p.CreateReader(flagTopic, flagType, topicQoS())
			if err != nil {
				return err
			}

			ctx := signalContext()
			tick := time.NewTicker(50 * time.Millisecond)
			defer tick.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-p.Events():
					switch ev.Kind {
					case rtps.EventParticipantDiscovered:
						fmt.Printf("-- participant %s discovered\n", ev.Prefix)
					case rtps.EventParticipantLost:
						fmt.Printf("-- participant %s lost\n", ev.Prefix)
					case rtps.EventMatched:
						fmt.Printf("-- matched %s on %q\n", ev.Endpoint, ev.Topic)
					}
				case <-tick.C:
					for c := range r.Take() {
						switch c.Kind {
						case rtps.ChangeAlive:
							fmt.Printf("#%d [%s] %s\n", c.SeqNum, c.Timestamp.Format(time.TimeOnly), c.Payload)
						case rtps.ChangeDisposed:
							fmt.Printf("#%d disposed\n", c.SeqNum)
						case rtps.ChangeUnregistered:
							fmt.Printf("#%d unregistered\n", c.SeqNum)
						}
					}
				}
			}
		},
	}
}
