package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/webclip/clipclient"
)

var (
	flagURL  string
	flagRoom string
)

var rootCmd = &cobra.Command{
	Use:   "webclip-cli",
	Short: "Terminal client for a webclip shared clipboard server",
}

func init() {
	defaultURL := strings.TrimSpace(os.Getenv("WEBCLIP_URL"))
	if defaultURL == "" {
		defaultURL = "http://127.0.0.1:8220"
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagURL, "url", defaultURL, "server base URL (from env WEBCLIP_URL if set)")
	flags.StringVar(&flagRoom, "room", "default", "room name")

	rootCmd.AddCommand(getCmd, postCmd, uploadCmd, watchCmd)
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the room's current history",
	RunE: func(cmd *cobra.Command, args []string) error {
		hist, err := clipclient.New(flagURL).Get(cmd.Context(), flagRoom)
		if err != nil {
			return err
		}
		printEntries(hist)
		return nil
	},
}

var postCmd = &cobra.Command{
	Use:   "post <text>",
	Short: "Post a text entry to the room",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return clipclient.New(flagURL).PostText(cmd.Context(), flagRoom, strings.Join(args, " "))
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a file to the room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		return clipclient.New(flagURL).Upload(cmd.Context(), flagRoom, filepath.Base(args[0]), f)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the room and print entries as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sub := clipclient.NewSubscription(clipclient.New(flagURL), flagRoom)
		printer := newWatchPrinter(os.Stdout)
		sub.OnUpdate = printer.render
		sub.OnStatus = func(st clipclient.Status) {
			if st == clipclient.StatusOffline {
				log.Warn().Str("room", flagRoom).Msg("[webclip-cli] server unreachable, retrying")
			}
		}
		sub.Start(ctx)
		<-ctx.Done()
		sub.Stop()
		return nil
	},
}

func printEntries(entries []clipclient.Entry) {
	for _, e := range entries {
		printEntry(os.Stdout, e)
	}
}

func printEntry(out io.Writer, e clipclient.Entry) {
	ts := time.Unix(e.Timestamp, 0).Format("2006-01-02 15:04:05")
	switch e.Type {
	case "text":
		fmt.Fprintf(out, "[%s] %s\n", ts, e.Content)
	default:
		name := e.OriginalName
		if name == "" {
			name = e.Content
		}
		fmt.Fprintf(out, "[%s] (%s) %s -> %s\n", ts, e.Type, name, e.Content)
	}
}

// watchPrinter prints each entry of a followed room exactly once across
// successive full-history deliveries. Timestamps are second-resolution,
// so several entries can share one; the printer remembers how many
// entries it has printed at the newest timestamp instead of filtering on
// the bare timestamp alone.
type watchPrinter struct {
	out     io.Writer
	lastTS  int64
	lastIdx int // entries already printed at lastTS
}

func newWatchPrinter(out io.Writer) *watchPrinter {
	return &watchPrinter{out: out, lastTS: -1}
}

func (p *watchPrinter) render(hist []clipclient.Entry) {
	idx := 0
	for _, e := range hist {
		if e.Timestamp < p.lastTS {
			continue
		}
		if e.Timestamp == p.lastTS {
			idx++
			if idx <= p.lastIdx {
				continue
			}
		} else {
			p.lastTS = e.Timestamp
			idx = 1
		}
		printEntry(p.out, e)
		p.lastIdx = idx
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute webclip-cli command")
	}
}
