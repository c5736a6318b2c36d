package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/viper"

	"raksha.dev/sosclient/internal/evmux"
	"raksha.dev/sosclient/internal/geo"
	"raksha.dev/sosclient/internal/ingest"
	"raksha.dev/sosclient/internal/locstore"
	"raksha.dev/sosclient/internal/monitoring"
	"raksha.dev/sosclient/internal/roster"
	"raksha.dev/sosclient/internal/subject"
	"raksha.dev/sosclient/internal/track"
)

func main() {
	viper.SetDefault("api_url", "https://api.raksha.dev")
	viper.SetDefault("ws_url", "wss://api.raksha.dev/stream")
	viper.SetDefault("geo_url", "http://127.0.0.1:7789")
	viper.SetDefault("cache_path", "sosagent.db")
	viper.SetDefault("listen_addr", ":3343")
	viper.SetDefault("role", "user")
	viper.SetDefault("poll_interval", track.DefaultInterval)
	viper.SetEnvPrefix("raksha")
	viper.AutomaticEnv()

	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "sosagent").Value()

	token := viper.GetString("token")
	sub := subject.Context{
		Role:          subject.Role(viper.GetString("role")),
		Authenticated: token != "",
	}

	cache, err := locstore.Open(viper.GetString("cache_path"))
	if err != nil {
		panic(err.Error())
	}
	defer cache.Close()

	src := geo.NewHTTPSource(geo.HTTPSourceConfig{BaseURL: viper.GetString("geo_url")})
	apiURL := viper.GetString("api_url")
	tracker := track.New(track.Config{
		Source:    src,
		Cache:     cache,
		Roster:    roster.NewHTTPClient(apiURL, token),
		Publisher: ingest.NewPublisher(apiURL, token),
		Subject:   func() subject.Context { return sub },
		Interval:  viper.GetDuration("poll_interval"),
	})
	defer tracker.Dispose()

	mux := evmux.New(evmux.WebsocketDialer(viper.GetString("ws_url"), token))
	defer mux.Close()
	mux.OnState(func(connected bool) {
		logger.Info().Bool("connected", connected).Msg("event channel state")
	})
	mux.On(evmux.EventAlert, func(data json.RawMessage) {
		logger.Info().Str("event", evmux.EventAlert).Str("data", string(data)).Msg("alert received")
	})
	mux.On(evmux.EventAccident, func(data json.RawMessage) {
		logger.Warn().Str("event", evmux.EventAccident).Str("data", string(data)).Msg("accident detected")
	})

	if sub.Role == subject.RoleUser && sub.Authenticated {
		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Second)
		if err := tracker.RequestPermission(ctx); err != nil {
			logger.Warn().Err(err).Msg("permission not granted at startup")
		}
		cancel()
		tracker.StartTracking()
	}

	mon := monitoring.NewServer(tracker, mux, &monitoring.Config{ListenAddr: viper.GetString("listen_addr")})
	mon.Run()
}
