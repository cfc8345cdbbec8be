package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/jrsteele09/go-pairing-server/abuse"
	abusesqlite "github.com/jrsteele09/go-pairing-server/abuse/sqlite"
	"github.com/jrsteele09/go-pairing-server/credentials"
	"github.com/jrsteele09/go-pairing-server/identity"
	"github.com/jrsteele09/go-pairing-server/internal/config"
	"github.com/jrsteele09/go-pairing-server/internal/db"
	"github.com/jrsteele09/go-pairing-server/pairing"
	"github.com/jrsteele09/go-pairing-server/server"
	"github.com/jrsteele09/go-pairing-server/sessions"
	sessionssqlite "github.com/jrsteele09/go-pairing-server/sessions/sqlite"
)

type flags struct {
	set        *pflag.FlagSet
	configFile string
	issueToken string
}

func main() {
	f := parseFlags(os.Args[1:])

	if err := run(f); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func parseFlags(args []string) flags {
	f := flags{set: pflag.NewFlagSet("pairing-server", pflag.ExitOnError)}
	config.RegisterFlags(f.set)
	f.set.StringVar(&f.configFile, "config", "", "optional config file (yaml, json, toml or env)")
	f.set.StringVar(&f.issueToken, "issue-token", "", "print an HS256 bearer token for this user ID and exit")
	_ = f.set.Parse(args)
	return f
}

func run(f flags) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	opts := []config.Option{config.WithFlags(f.set)}
	if f.configFile != "" {
		opts = append(opts, config.WithConfigFile(f.configFile))
	}
	c, err := config.New(opts...)
	if err != nil {
		return err
	}
	setupLogging(c.GetEnv())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	verifier, issuer, err := newVerifier(ctx, c)
	if err != nil {
		return err
	}
	if f.issueToken != "" {
		return printToken(issuer, f.issueToken)
	}

	displayAppname(c.GetAppName())

	repos, closeRepos, err := openRepos(ctx, c)
	if err != nil {
		return err
	}
	defer closeRepos()

	svc, err := pairing.NewService(repos, credentials.NewBcryptVerifier(c.GetBcryptCost()),
		pairing.WithMonitorOptions(
			abuse.WithWindow(c.GetAttemptWindow()),
			abuse.WithThreshold(c.GetRateLimitThreshold()),
		),
	)
	if err != nil {
		return err
	}

	janitor := pairing.NewJanitor(repos.Sessions, svc.Monitor(), pairing.JanitorConfig{
		Interval:       c.GetJanitorInterval(),
		PendingTTL:     c.GetPendingTTL(),
		EndedRetention: c.GetEndedSessionRetention(),
	})
	janitor.Start(ctx)
	defer janitor.Stop()

	handler, err := server.New(c, svc, verifier)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(srv) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func setupLogging(env string) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if env == config.EnvDev {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// openRepos returns the configured stores and a func that releases them.
func openRepos(ctx context.Context, c config.Config) (pairing.Repos, func(), error) {
	if c.GetStore() == config.StoreMemory {
		log.Warn().Msg("using in-memory store: sessions are lost on restart")
		return pairing.Repos{
			Sessions: sessions.NewInMemoryRepo(),
			Attempts: abuse.NewInMemoryAttemptRepo(),
		}, func() {}, nil
	}

	conn, err := db.Open(ctx, db.Config{Path: c.GetDBPath()})
	if err != nil {
		return pairing.Repos{}, nil, fmt.Errorf("open database: %w", err)
	}
	writer := db.NewWorker(conn)

	closeFn := func() {
		writer.Close()
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	}
	return pairing.Repos{
		Sessions: sessionssqlite.NewRepo(conn, writer),
		Attempts: abusesqlite.NewAttemptRepo(conn, writer),
	}, closeFn, nil
}

// newVerifier picks OIDC when an issuer is configured, otherwise HS256. The
// issuer is nil under OIDC.
func newVerifier(ctx context.Context, c config.Config) (identity.Verifier, *identity.Issuer, error) {
	if c.GetOIDCIssuer() != "" {
		v, err := identity.NewOIDCVerifier(ctx, c.GetOIDCIssuer(), c.GetOIDCClientID())
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("issuer", c.GetOIDCIssuer()).Msg("verifying OIDC ID tokens")
		return v, nil, nil
	}

	secret := c.GetJWTSecret()
	if secret == "" {
		secret = randomSecret()
		log.Warn().Msg("JWT_SECRET not set: using a throwaway secret, tokens will not survive a restart")
	}

	opts := []identity.Option{
		identity.WithIssuer(c.GetJWTIssuer()),
		identity.WithAudience(c.GetJWTAudience()),
	}
	v, err := identity.NewHMACVerifier(secret, opts...)
	if err != nil {
		return nil, nil, err
	}
	issuer, err := identity.NewIssuer(secret, opts...)
	if err != nil {
		return nil, nil, err
	}
	return v, issuer, nil
}

func printToken(issuer *identity.Issuer, userID string) error {
	if issuer == nil {
		return errors.New("--issue-token needs JWT_SECRET; OIDC tokens come from the provider")
	}
	token, err := issuer.Issue(identity.Identity{UserID: userID})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
