// The napixd server: a self-describing REST service built from manager
// registrations. This binary mounts the directory manager, which keeps
// track of running instances, on a configurable storage backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/napix-io/napixd/contrib/directory"
	"github.com/napix-io/napixd/core"
	"github.com/napix-io/napixd/core/access"
	"github.com/napix-io/napixd/core/conf"
	"github.com/napix-io/napixd/core/logger"
	"github.com/napix-io/napixd/core/notify"
	"github.com/napix-io/napixd/core/plugins"
	"github.com/napix-io/napixd/core/services"
	"github.com/napix-io/napixd/store"
)

// Settings holds the environment configuration for this service
type Settings struct {
	Port     int    `env:"PORT,default=8002" description:"the port the server listens on"`
	LogLevel string `env:"LOG_LEVEL,default=info" description:"the logrus log level"`
	// Conf is the path of the JSON settings file handed to the managers
	Conf string `env:"NAPIX_CONF" description:"the path of the JSON settings file"`

	StoreBackend string `env:"STORE_BACKEND,default=file" description:"one of file, directory, bolt, postgres, s3"`
	StoreRoot    string `env:"STORE_ROOT,default=./napix-store" description:"the root path of the file and directory backends"`
	BoltPath     string `env:"BOLT_PATH,default=./napix-store.db" description:"the database file of the bolt backend"`

	Postgres       string `env:"POSTGRES" description:"the connection string for the Postgres DB"`
	PostgresSchema string `env:"POSTGRES_SCHEMA,default=napixd" description:"the Postgres schema of the store table"`

	S3AccessID  string `env:"S3_ACCESS_ID" description:"the AWS access key id for the s3 backend"`
	S3AccessKey string `env:"S3_ACCESS_KEY" description:"the AWS secret access key for the s3 backend"`
	S3Region    string `env:"S3_REGION" description:"the AWS region of the bucket"`
	S3Bucket    string `env:"S3_BUCKET" description:"the bucket of the s3 backend"`

	JWTKey    string `env:"JWT_KEY" description:"the HMAC secret for bearer tokens; empty disables authentication"`
	JWTIssuer string `env:"JWT_ISSUER,default=napixd" description:"the accepted token issuer"`

	KafkaBrokers string `env:"KAFKA_BROKERS" description:"comma-separated broker list; empty disables notifications"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=napix-notifications" description:"the notification topic"`
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "napixd",
	Short: "napixd - a self-describing REST service built from managers",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("email", "", "the email the token authenticates")
	tokenCmd.Flags().StringSlice("role", nil, "a role carried by the token, repeatable")
	tokenCmd.Flags().Duration("expires-in", 24*time.Hour, "the token lifetime")
	tokenCmd.MarkFlagRequired("email")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := &Settings{}
		if err := envdecode.Decode(settings); err != nil {
			return err
		}
		level, err := logrus.ParseLevel(settings.LogLevel)
		if err != nil {
			return fmt.Errorf("bad log level %q: %v", settings.LogLevel, err)
		}
		logger.InitLogger(level)
		rlog := logger.Default()

		cfg := conf.Conf{}
		if settings.Conf != "" {
			if cfg, err = conf.Load(settings.Conf); err != nil {
				return err
			}
		}

		backend, err := newBackend(settings)
		if err != nil {
			return err
		}

		var notifier core.Notifier
		if settings.KafkaBrokers != "" {
			kafkaNotifier := notify.NewKafkaNotifier(&notify.KafkaNotifierBuilder{
				Brokers: strings.Split(settings.KafkaBrokers, ","),
				Topic:   settings.KafkaTopic,
			})
			defer kafkaNotifier.Close()
			notifier = kafkaNotifier
		}

		service := services.MustNewService(&services.Builder{
			Root:     directory.NewDescriptor(backend),
			Conf:     cfg,
			Notifier: notifier,
		})

		router := mux.NewRouter()
		logger.AddRequestID(router)
		router.Use(plugins.NewCorsMiddleware())
		if settings.JWTKey != "" {
			router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
				Key:    []byte(settings.JWTKey),
				Issuer: settings.JWTIssuer,
			}))
		}
		router.Use(plugins.NewLoggingMiddleware())
		service.RegisterRoutes(router)

		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", settings.Port),
			Handler: handlers.CompressHandler(router),
		}

		errCh := make(chan error, 1)
		go func() {
			rlog.Infof("serving %s on %s", service.CollectionURL(), server.Addr)
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			rlog.Infoln("shutting down")
		case err := <-errCh:
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the configured JWT key",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := &Settings{}
		if err := envdecode.Decode(settings); err != nil {
			return err
		}
		if settings.JWTKey == "" {
			return fmt.Errorf("JWT_KEY is not set")
		}
		email, _ := cmd.Flags().GetString("email")
		roles, _ := cmd.Flags().GetStringSlice("role")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")

		claims := jwt.MapClaims{
			"iss":   settings.JWTIssuer,
			"email": email,
			"exp":   time.Now().Add(expiresIn).Unix(),
		}
		if len(roles) > 0 {
			claims["roles"] = roles
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(settings.JWTKey))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func newBackend(settings *Settings) (store.Backend, error) {
	switch settings.StoreBackend {
	case "file":
		return store.NewFileBackend(settings.StoreRoot)
	case "directory":
		return store.NewDirectoryBackend(settings.StoreRoot)
	case "bolt":
		return store.NewBoltBackend(settings.BoltPath)
	case "postgres":
		if settings.Postgres == "" {
			return nil, fmt.Errorf("POSTGRES must be set for the postgres backend")
		}
		return store.NewPostgresBackend(settings.Postgres, settings.PostgresSchema)
	case "s3":
		return store.NewS3Backend(store.S3Configuration{
			AccessID:      settings.S3AccessID,
			AccessKey:     settings.S3AccessKey,
			AWSRegion:     settings.S3Region,
			AWSBucketName: settings.S3Bucket,
		})
	}
	return nil, fmt.Errorf("unknown store backend %q", settings.StoreBackend)
}
