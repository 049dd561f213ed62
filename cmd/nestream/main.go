package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nestream/nestream/internal/httpapi"
	"github.com/nestream/nestream/internal/nestconfig"
	"github.com/nestream/nestream/internal/nestlog"
	"github.com/nestream/nestream/internal/pairing"
	"github.com/nestream/nestream/internal/rtsp"
	"github.com/nestream/nestream/internal/session"
	"github.com/nestream/nestream/internal/state"
	"github.com/nestream/nestream/internal/streamer"
)

// rtspPort is the well-known GameStream RTSP port. It isn't part of
// nestconfig.Config because, unlike the UDP media ports and HTTP(S)
// ports, spec.md's External Interfaces section never calls it out as
// operator-configurable.
const rtspPort = 48010

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("nestream", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a nestream config file (key=value); defaults built in if omitted")
	logFlags := nestlog.RegisterFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Self-hosted GameStream/Moonlight-compatible streaming server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		nestlog.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return 1
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		return 1
	}

	log, err := nestlog.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		return 1
	}
	defer log.Close()

	log.Info("starting nestream", "log_config", logFlags.String())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		return 1
	}
	log.Info("configuration loaded",
		"data_dir", cfg.DataDir, "video_port", cfg.VideoPort, "audio_port", cfg.AudioPort,
		"control_port", cfg.ControlPort, "http_port", cfg.HTTPPort, "https_port", cfg.HTTPSPort)

	store, err := state.Open(cfg.DataDir)
	if err != nil {
		log.Error("failed to open state store", "error", err)
		return 1
	}
	log.Info("server identity loaded", "unique_id", store.UniqueID())

	identity, certFile, keyFile, err := loadOrCreateIdentity(cfg.DataDir, store.UniqueID())
	if err != nil {
		log.Error("failed to load or create server identity", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sessionMgr := session.NewManager(log.With("component", "session"))
	pairingMgr := pairing.NewManager(store)

	streamSrv, err := streamer.New(cfg, sessionMgr, log.With("component", "streamer"))
	if err != nil {
		log.Error("failed to initialize media pipeline", "error", err)
		return 1
	}
	defer streamSrv.Close()

	rtspSrv, err := rtsp.New(fmt.Sprintf(":%d", rtspPort), streamSrv, log.With("component", "rtsp"))
	if err != nil {
		log.Error("failed to start RTSP listener", "error", err)
		return 1
	}

	httpSrv := httpapi.New(httpapi.Config{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		Store:       store,
		Pairing:     pairingMgr,
		Session:     sessionMgr,
		Identity:    identity,
		Logger:      log.With("component", "httpapi"),
		PINProvider: readPINFromStdin(log),
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	runTask := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				log.Error("subsystem exited with error", "subsystem", name, "error", err)
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() { defer wg.Done(); streamSrv.Run(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); sessionMgr.Run(ctx) }()

	runTask("rtsp", func() error { return rtspSrv.Serve(ctx) })
	runTask("http", func() error { return httpSrv.Serve(ctx) })
	runTask("https", func() error { return httpSrv.ServeTLS(ctx, fmt.Sprintf(":%d", cfg.HTTPSPort), certFile, keyFile) })

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				log.Info("server status", "state", sessionMgr.State())
			}
		}
	}()

	fmt.Println("nestream ready")
	fmt.Printf("  unique id:    %s\n", store.UniqueID())
	fmt.Printf("  http:         0.0.0.0:%d\n", cfg.HTTPPort)
	fmt.Printf("  https:        0.0.0.0:%d\n", cfg.HTTPSPort)
	fmt.Printf("  video/audio/control ports: %d/%d/%d\n", cfg.VideoPort, cfg.AudioPort, cfg.ControlPort)
	fmt.Println("press Ctrl+C to stop")

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
		cancel()
		wg.Wait()
		log.Info("graceful shutdown complete")
		return 1
	case <-ctx.Done():
		wg.Wait()
		select {
		case <-errCh:
			return 2
		default:
			log.Info("graceful shutdown complete")
			return 0
		}
	}
}

func loadConfig(path string) (*nestconfig.Config, error) {
	if path == "" {
		return nestconfig.Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nestconfig.Default(), nil
	}
	return nestconfig.Load(path)
}

// loadOrCreateIdentity loads a persisted RSA key + self-signed
// certificate for the server's HTTPS/pairing identity, generating and
// saving a new one on first run. PEM files live alongside state.toml.
func loadOrCreateIdentity(dataDir, uniqueID string) (httpapi.ServerIdentity, string, string, error) {
	keyPath := filepath.Join(dataDir, "server_key.pem")
	certPath := filepath.Join(dataDir, "server_cert.pem")

	if keyPEM, err := os.ReadFile(keyPath); err == nil {
		certPEM, err := os.ReadFile(certPath)
		if err != nil {
			return httpapi.ServerIdentity{}, "", "", fmt.Errorf("reading %s: %w", certPath, err)
		}
		keyBlock, _ := pem.Decode(keyPEM)
		certBlock, _ := pem.Decode(certPEM)
		if keyBlock == nil || certBlock == nil {
			return httpapi.ServerIdentity{}, "", "", fmt.Errorf("malformed identity PEM in %s", dataDir)
		}
		key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
		if err != nil {
			return httpapi.ServerIdentity{}, "", "", fmt.Errorf("parsing server key: %w", err)
		}
		return httpapi.ServerIdentity{Key: key, Cert: certBlock.Bytes}, certPath, keyPath, nil
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return httpapi.ServerIdentity{}, "", "", fmt.Errorf("creating data dir: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return httpapi.ServerIdentity{}, "", "", fmt.Errorf("generating server key: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: uniqueID},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(20, 0, 0),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return httpapi.ServerIdentity{}, "", "", fmt.Errorf("creating server certificate: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return httpapi.ServerIdentity{}, "", "", fmt.Errorf("writing server key: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return httpapi.ServerIdentity{}, "", "", fmt.Errorf("writing server certificate: %w", err)
	}

	return httpapi.ServerIdentity{Key: key, Cert: certDER}, certPath, keyPath, nil
}

// readPINFromStdin satisfies httpapi.PINProvider: pairing's PIN entry
// is out-of-band per spec.md §4.8, so the operator types it at a
// terminal prompt when a client begins pairing.
func readPINFromStdin(log *nestlog.Logger) httpapi.PINProvider {
	return func(clientID string) (string, error) {
		fmt.Printf("pairing request from client %s - enter PIN shown on client: ", clientID)
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading PIN: %w", err)
		}
		pin := strings.TrimSpace(line)
		log.Info("PIN entered for pairing", "client_id", clientID)
		return pin, nil
	}
}
