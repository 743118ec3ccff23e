package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-weconnect/api"
	"github.com/jrsteele09/go-weconnect/auth"
	"github.com/jrsteele09/go-weconnect/internal/config"
	"github.com/jrsteele09/go-weconnect/internal/errors"
	"github.com/jrsteele09/go-weconnect/internal/logger"
	"github.com/jrsteele09/go-weconnect/myvw"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
	"github.com/jrsteele09/go-weconnect/sessions"
	"github.com/jrsteele09/go-weconnect/store"
	"github.com/jrsteele09/go-weconnect/webauth"
	"github.com/jrsteele09/go-weconnect/weconnect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const tooManyRequestsWait = 15 * time.Minute

var errPanic = fmt.Errorf("panic recovered")

func main() {
	for {
		err := run()
		if err == nil {
			break
		}
		if !errors.Is(err, errPanic) {
			log.Fatalf("Error running weconnect: %s\n", err)
		}
		time.Sleep(1 * time.Second)
	}
	log.Printf("weconnect stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errPanic
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())
	l := logger.New(c.GetLogLevel(), c.GetEnv())

	if c.GetUsername() == "" || c.GetPassword() == "" {
		return fmt.Errorf("WECONNECT_USERNAME and WECONNECT_PASSWORD are required")
	}
	service := sessions.Service(c.GetService())
	url, err := vehiclesURL(service)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, responses, closeStores, err := openStores(ctx, c)
	if err != nil {
		return err
	}
	defer closeStores()

	if addr := c.GetMetricsAddr(); addr != "" {
		server := &http.Server{Addr: addr, Handler: promhttp.Handler()}
		go listenAndServe(server, l)
		defer shutdown(server, l)
	}

	manager := newManager(c, tokens, responses, l)
	defer persist(manager, l)

	session, err := manager.GetSession(ctx, service, sessions.User{Username: c.GetUsername(), Password: c.GetPassword()})
	if err != nil {
		return err
	}
	client := api.New(session, api.WithMaxAge(c.GetMaxAge()), api.WithLogger(l))
	return poll(ctx, client, manager, url, c.GetInterval(), l)
}

func newManager(c config.Config, tokens, responses store.Store, l zerolog.Logger) *sessions.Manager {
	browserLogger := webauth.WithLogger(l)
	return sessions.NewManager(tokens, responses,
		sessions.WithLogger(l),
		sessions.WithSessionOptions(
			auth.WithTimeout(c.GetTimeout()),
			auth.WithRetries(c.GetRetries()),
			auth.WithForceReloginAfter(c.GetForceReloginAfter()),
		),
		sessions.WithFactory(sessions.WeConnect, func(user sessions.User, opts ...auth.SessionOption) (*auth.Session, error) {
			return weconnect.New(webauth.Credentials{Username: user.Username, Password: user.Password},
				weconnect.WithAcceptTerms(c.GetAcceptTerms()),
				weconnect.WithBrowserOptions(browserLogger),
				weconnect.WithLogger(l),
			).NewSession(opts...)
		}),
		sessions.WithFactory(sessions.MyVW, func(user sessions.User, opts ...auth.SessionOption) (*auth.Session, error) {
			return myvw.New(webauth.Credentials{Username: user.Username, Password: user.Password},
				myvw.WithAcceptTerms(c.GetAcceptTerms()),
				myvw.WithBrowserOptions(browserLogger),
				myvw.WithLogger(l),
			).NewSession(opts...)
		}),
	)
}

func vehiclesURL(service sessions.Service) (string, error) {
	switch service {
	case sessions.WeConnect:
		return weconnect.VehiclesURL, nil
	case sessions.MyVW:
		return myvw.GarageURL, nil
	default:
		return "", fmt.Errorf("unknown service %q", service)
	}
}

// openStores uses Redis when REDIS_URL is set and JSON files otherwise.
func openStores(ctx context.Context, c config.Config) (tokens, responses store.Store, closeFn func(), err error) {
	if url := c.GetRedisURL(); url != "" {
		r, err := store.DialRedis(ctx, url)
		if err != nil {
			return nil, nil, nil, err
		}
		return r.Namespace("tokens:"), r.Namespace("cache:"), func() { _ = r.Close() }, nil
	}

	path := c.GetTokenStore()
	tokenFile, err := store.NewFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	cacheFile, err := store.NewFile(strings.TrimSuffix(path, ".json") + ".cache.json")
	if err != nil {
		return nil, nil, nil, err
	}
	return tokenFile, cacheFile, func() {}, nil
}

type vehicleList struct {
	Data []json.RawMessage `json:"data"`
}

func poll(ctx context.Context, client *api.Client, manager *sessions.Manager, url string, interval time.Duration, l zerolog.Logger) error {
	for {
		wait, err := update(ctx, client, manager, url, interval, l)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// update fetches once and returns how long to wait before the next fetch. Only errors that
// need user action end the loop.
func update(ctx context.Context, client *api.Client, manager *sessions.Manager, url string, interval time.Duration, l zerolog.Logger) (time.Duration, error) {
	vehicles, err := api.Fetch[vehicleList](ctx, client, url)
	switch {
	case err == nil:
		l.Info().Int("vehicles", len(vehicles.Data)).Msg("Update finished")
		if err := manager.Persist(ctx); err != nil {
			l.Error().Err(err).Msg("Could not persist sessions")
		}
		return interval, nil
	case ctx.Err() != nil:
		return 0, nil
	case errors.Is(err, oauthmodel.ErrTooManyRequests):
		l.Error().Err(err).Dur("retry_in", tooManyRequestsWait).Msg("Retrieval error during update. Too many requests from your account")
		return tooManyRequestsWait, nil
	case errors.IsAny(err, oauthmodel.ErrRetrieval, oauthmodel.ErrAPICompatibility, oauthmodel.ErrTemporaryAuthentication):
		l.Error().Err(err).Dur("retry_in", interval).Msg("Error during update")
		return interval, nil
	default:
		return 0, err
	}
}

func persist(manager *sessions.Manager, l zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Persist(ctx); err != nil {
		l.Error().Err(err).Msg("Could not persist sessions")
	}
}

func listenAndServe(server *http.Server, l zerolog.Logger) {
	l.Info().Str("addr", server.Addr).Msg("Metrics listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func shutdown(server *http.Server, l zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("server.Shutdown")
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
