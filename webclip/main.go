package main

import (
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"
)

//go:embed static
var embeddedStatic embed.FS

var rootCmd = &cobra.Command{
	Use:   "webclip",
	Short: "Shared web clipboard (room-keyed polled store)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx)
	},
}

var (
	flagHTTPAddr   string
	flagDataPath   string
	flagServerURLs []string
	flagName       string
	flagCredKey    string
	flagHistoryCap int
	flagMaxUpload  int64
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagHTTPAddr, "listen", "127.0.0.1:8220", "local HTTP listen address (host:port, empty to disable)")
	flags.StringVar(&flagDataPath, "data-path", "./webclip-data", "directory used to persist rooms and uploads")
	flags.StringSliceVar(&flagServerURLs, "server-url", defaultRelayList(), "relayserver base URL(s); repeat or comma-separated (from env RELAY/RELAY_URL if set)")
	flags.StringVar(&flagName, "name", "webclip", "backend display name")
	flags.StringVar(&flagCredKey, "cred-key", "", "optional credential key for the relay listener (base64 private key)")
	flags.IntVar(&flagHistoryCap, "history-cap", defaultHistoryCap, "entries kept per room (oldest dropped first)")
	flags.Int64Var(&flagMaxUpload, "max-upload", 25<<20, "maximum upload size in bytes")
}

func defaultRelayList() []string {
	for _, key := range []string{"RELAY", "RELAY_URL"} {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return strings.Split(val, ",")
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute webclip command")
	}
}

func runServer(ctx context.Context) error {
	store, err := newRoomStore(storeConfig{
		Dir:        filepath.Join(flagDataPath, "rooms"),
		HistoryCap: flagHistoryCap,
	})
	if err != nil {
		return fmt.Errorf("open room store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("[webclip] store close error")
		}
	}()

	assets, err := newAssetStore(filepath.Join(flagDataPath, "uploads"))
	if err != nil {
		return fmt.Errorf("open asset store: %w", err)
	}

	staticFS, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		return fmt.Errorf("embed sub FS: %w", err)
	}

	a := &app{store: store, assets: assets, maxUpload: flagMaxUpload}
	handler := a.newHTTPHandler(staticFS)

	errCh := make(chan error, 2)
	relayClose, err := startRelayBridge(handler, errCh)
	if err != nil {
		return err
	}

	var httpSrv *http.Server
	if flagHTTPAddr != "" {
		httpSrv = &http.Server{
			Addr:              flagHTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
		log.Info().Msgf("[webclip] serving locally at http://%s", flagHTTPAddr)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}
	if relayClose == nil && httpSrv == nil {
		return fmt.Errorf("nothing to serve: provide --listen or --server-url")
	}

	shutdown := func() {
		if relayClose != nil {
			relayClose()
		}
		if httpSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
				log.Warn().Err(err).Msg("[webclip] local http shutdown error")
			}
		}
	}

	select {
	case <-ctx.Done():
		shutdown()
		log.Info().Msg("[webclip] shutdown complete")
		return nil
	case err := <-errCh:
		shutdown()
		return err
	}
}

// startRelayBridge exposes the handler over Portal relay listeners when
// relay URLs are configured; it returns a nil closer when no relays are
// set and local serving is the only surface.
func startRelayBridge(handler http.Handler, errCh chan<- error) (func(), error) {
	serverURLs := cleanServerURLs(flagServerURLs)
	if len(serverURLs) == 0 {
		return nil, nil
	}
	cred := sdk.NewCredential()
	if flagCredKey != "" {
		key, err := base64.StdEncoding.DecodeString(flagCredKey)
		if err != nil {
			return nil, fmt.Errorf("decode cred key: %w", err)
		}
		cred2, err := cryptoops.NewCredentialFromPrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("credential from key: %w", err)
		}
		cred = cred2
	}
	client, err := sdk.NewClient(func(c *sdk.RDClientConfig) {
		c.BootstrapServers = serverURLs
	})
	if err != nil {
		return nil, fmt.Errorf("relay client: %w", err)
	}
	ln, err := client.Listen(cred, flagName, []string{"http/1.1"})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay listen: %w", err)
	}
	log.Info().Str("name", flagName).Strs("servers", serverURLs).Msg("[webclip] serving relay")
	go func() {
		if err := http.Serve(ln, handler); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("relay http serve: %w", err)
		}
	}()
	return func() {
		_ = ln.Close()
		_ = client.Close()
	}, nil
}

func cleanServerURLs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
