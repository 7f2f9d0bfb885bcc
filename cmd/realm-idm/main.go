package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/realm-idm/pkg/errors"
	"github.com/tendant/realm-idm/pkg/federation"
	"github.com/tendant/realm-idm/pkg/grant"
	grantapi "github.com/tendant/realm-idm/pkg/grant/api"
	"github.com/tendant/realm-idm/pkg/iam"
	"github.com/tendant/realm-idm/pkg/idp"
	"github.com/tendant/realm-idm/pkg/keypair"
	"github.com/tendant/realm-idm/pkg/ratelimit"
	"github.com/tendant/realm-idm/pkg/rbac"
	"github.com/tendant/realm-idm/pkg/token"
)

type ServerConfig struct {
	Addr string `env:"SERVER_ADDR" env-default:":4000"`
}

type DbConfig struct {
	Enabled  bool   `env:"IDM_PG_ENABLED" env-default:"false"`
	Host     string `env:"IDM_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"IDM_PG_PORT" env-default:"5432"`
	Database string `env:"IDM_PG_DATABASE" env-default:"realm_idm"`
	User     string `env:"IDM_PG_USER" env-default:"idm"`
	Password string `env:"IDM_PG_PASSWORD" env-default:"pwd"`
}

func (d DbConfig) toDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		d.User, d.Password, d.Host, d.Port, d.Database)
}

type TokenConfig struct {
	Issuer        string        `env:"TOKEN_ISSUER" env-default:"realm-idm"`
	AccessExpiry  time.Duration `env:"ACCESS_TOKEN_EXPIRY" env-default:"1h"`
	RefreshExpiry time.Duration `env:"REFRESH_TOKEN_EXPIRY" env-default:"72h"`
}

type KeyConfig struct {
	Dir string `env:"KEY_DIR" env-default:"./keys"`
}

type StorageConfig struct {
	// DataDir switches the IAM repository to file persistence when the
	// database is disabled.
	DataDir string `env:"IDM_DATA_DIR" env-default:""`
}

type Config struct {
	ServerConfig  ServerConfig
	DbConfig      DbConfig
	TokenConfig   TokenConfig
	KeyConfig     KeyConfig
	StorageConfig StorageConfig
}

func main() {
	config := Config{}
	cleanenv.ReadEnv(&config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store rbac.Store
	var providers idp.Repository

	persistence := "memory"
	repoConfig := iam.RepositoryConfig{DataDir: config.StorageConfig.DataDir}

	if config.DbConfig.Enabled {
		pool, err := pgxpool.New(ctx, config.DbConfig.toDatabaseURL())
		if err != nil {
			slog.Error("Failed creating dbpool", "db", config.DbConfig.Database,
				"host", config.DbConfig.Host, "port", config.DbConfig.Port,
				"user", config.DbConfig.User, "err", err)
			os.Exit(-1)
		}
		defer pool.Close()
		persistence = "postgres"
		repoConfig.Pool = pool
		store = rbac.NewPostgresStore(pool)
		providers = idp.NewPostgresRepository(pool)
	} else {
		if config.StorageConfig.DataDir != "" {
			persistence = "file"
		}
		slog.Info("No database configured, using in-memory stores", "iam", persistence)
		store = rbac.NewInMemoryStore()
		providers = idp.NewInMemoryRepository()
	}

	users, err := iam.NewRepository(persistence, repoConfig)
	if err != nil {
		slog.Error("Failed creating IAM repository", "persistence", persistence, "err", err)
		os.Exit(-1)
	}

	if err := ensureMasterRealm(ctx, users); err != nil {
		slog.Error("Failed ensuring master realm", "err", err)
		os.Exit(-1)
	}

	keys := keypair.NewService(config.KeyConfig.Dir)
	tokens := token.NewService(keys, store,
		token.WithIssuer(config.TokenConfig.Issuer),
		token.WithAccessTokenExpiry(config.TokenConfig.AccessExpiry),
		token.WithRefreshTokenExpiry(config.TokenConfig.RefreshExpiry),
	)
	fed := federation.NewManager(providers, users, store)
	engine := grant.NewEngine(users, providers, fed, tokens, idp.StandardFlowFactory{})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		jwks, err := keys.JWKS()
		if err != nil {
			slog.Error("Failed to build JWKS", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		render.JSON(w, r, jwks)
	})
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(ratelimit.DefaultConfig()))
		r.Mount("/", grantapi.Handler(grantapi.NewTokenHandler(engine)))
	})

	server := &http.Server{
		Addr:    config.ServerConfig.Addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down server", "err", err)
		}
	}()

	slog.Info("Starting server", "addr", config.ServerConfig.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Server failed", "err", err)
		os.Exit(-1)
	}
}

// ensureMasterRealm creates the master realm on first start.
func ensureMasterRealm(ctx context.Context, users iam.Repository) error {
	_, err := users.FindMasterRealm(ctx)
	if err == nil {
		return nil
	}
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		return err
	}

	realm, err := users.CreateRealm(ctx, "master", true)
	if err != nil {
		return err
	}
	slog.Info("Created master realm", "realm_id", realm.ID)
	return nil
}
