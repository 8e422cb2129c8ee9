package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"setlist-sync/api"
	"setlist-sync/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	documentsTable := os.Getenv("DOCUMENTS_TABLE")
	savedQueueName := os.Getenv("SAVED_EVENTS_QUEUE")
	if connStr == "" || documentsTable == "" || savedQueueName == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, documentsTable, savedQueueName, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("DOCUMENT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DOCUMENT_CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cached := storage.NewCache(store, rc, cacheTTL)

	authCfg := api.AuthConfig{
		AccessSecret:    os.Getenv("ACCESS_TOKEN_SECRET"),
		FullPassword:    os.Getenv("FULL_ACCESS_PASSWORD"),
		LimitedPassword: os.Getenv("LIMITED_ACCESS_PASSWORD"),
	}
	if domain := os.Getenv("AUTH0_DOMAIN"); domain != "" {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		if jwtAudience == "" {
			log.Fatal("missing AUTH0_AUDIENCE")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		authCfg.JWKS = jwks
		authCfg.Audience = jwtAudience
		authCfg.Issuer = "https://" + domain + "/"
	}
	if authCfg.JWKS == nil && authCfg.AccessSecret == "" {
		log.Fatal("no auth configured: set AUTH0_DOMAIN or ACCESS_TOKEN_SECRET")
	}
	auth := api.NewAuth(authCfg)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(api.GzipRequestMiddleware())

	gateway := api.NewGateway(rc, logger)
	api.Register(e, cached, auth, gateway, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
