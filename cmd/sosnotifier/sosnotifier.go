package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"raksha.dev/sosclient/internal/alertlog"
	"raksha.dev/sosclient/internal/notify"
)

func main() {
	viper.SetDefault("listen_addr", ":3344")
	viper.SetDefault("origin", "https://app.raksha.dev")
	viper.SetDefault("allowed_origins", []string{"https://app.raksha.dev"})
	viper.SetDefault("log_table", "notification_log")
	viper.SetEnvPrefix("raksha")
	viper.AutomaticEnv()

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("app", "sosnotifier").Logger()

	var recorder notify.Recorder
	if dbURL := viper.GetString("db_url"); dbURL != "" {
		pool, err := pgxpool.Connect(context.Background(), dbURL)
		if err != nil {
			logger.Err(err).Msg("unable to connect delivery log database")
		} else {
			store := alertlog.NewStore(pool, viper.GetString("log_table"), &alertlog.StoreConfig{
				BufSize:     50,
				TickerDur:   5 * time.Second,
				MaxAgeFlush: 10 * time.Second,
			})
			store.Run()
			recorder = store
		}
	}

	registry := notify.NewRegistry(viper.GetString("origin"), logger)
	tray := notify.NewTray(registry, recorder, logger)
	dispatcher := notify.NewDispatcher(tray, registry, logger)
	server := notify.NewServer(dispatcher, tray, registry, notify.ServerConfig{
		ListenAddr:     viper.GetString("listen_addr"),
		AllowedOrigins: viper.GetStringSlice("allowed_origins"),
	}, logger)
	server.Run()
}
