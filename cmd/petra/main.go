// MIT License
//
// Copyright (c) 2024 petra.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/petraio/petra/pkg/api"
	"github.com/petraio/petra/pkg/config"
	"github.com/petraio/petra/pkg/petra"
	"github.com/petraio/petra/pkg/utils/logger"
	"github.com/petraio/petra/pkg/utils/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	configFileName = "petra.yml"

	configFileOption          = "config.file"
	configAutoReloadOption    = "config.auto-reload"
	configWatchIntervalOption = "config.watch-interval"

	versionOption = "version"
	versionUsage  = "Print application version and exit."

	defaultAPIPort = 6067
)

func init() {
	prometheus.MustRegister(version.NewCollector("petra"))
}

func main() {
	// Cleanup all flags registered via init() methods of 3rd-party libraries.
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	var printVersion bool
	flag.BoolVar(&printVersion, versionOption, false, versionUsage)

	var configAutoReload bool
	flag.BoolVar(&configAutoReload, configAutoReloadOption, false, "")

	var configWatchInterval time.Duration
	flag.DurationVar(&configWatchInterval, configWatchIntervalOption, 10*time.Second, "")

	var configFile string
	flag.StringVar(&configFile, configFileOption, configFileName, "")

	flag.Parse()

	if printVersion {
		_, _ = fmt.Fprintln(os.Stdout, version.Print("Petra"))
		return
	}

	// Load environment overrides from a local .env file, if present.
	_ = godotenv.Load()

	// Load config file. The default file is optional; a missing explicit
	// file is fatal.
	var ldr *config.Loader
	cfg := &config.Configuration{}

	l, err := config.NewLoader(configFile, configAutoReload, configWatchInterval)
	switch {
	case err == nil:
		ldr = l
		cfg = ldr.Config()
	case errors.Is(err, os.ErrNotExist) && configFile == configFileName:
		// run on defaults
	default:
		_, _ = fmt.Fprintf(os.Stderr, "error loading config from %s: %v\n", configFile, err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error validating config:\n%v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Log)

	p, err := petra.New(cacheOptions(cfg.Cache))
	if err != nil {
		log.Fatal().Err(err).Msg("Initializing application")
	}

	// Fetch mode: resolve the given URLs through the cache and print the
	// local paths.
	if urls := flag.Args(); len(urls) > 0 {
		code := fetchAll(p, urls)
		p.Stop()
		os.Exit(code)
	}

	defer p.Stop()
	run(p, cfg, ldr)
}

// cacheOptions maps the cache config onto library options. Zero values
// select the library defaults.
func cacheOptions(cfg *config.Cache) petra.Options {
	if cfg == nil {
		return petra.Options{}
	}
	return petra.Options{
		Dir:                cfg.Dir,
		MinTTL:             config.Duration(cfg.MinTTL),
		PurgeStaleInterval: config.Duration(cfg.PurgeStaleInterval),
		MediaTypes:         cfg.MediaTypes,
		RequestTimeout:     config.Duration(cfg.RequestTimeout),
		ResponseTimeout:    config.Duration(cfg.ResponseTimeout),
		UserAgent:          cfg.UserAgent,
		Hash:               cfg.Hasher(),
	}
}

// fetchAll resolves each URL through the cache, printing one line per
// result. Returns a non-zero exit code if any fetch failed.
func fetchAll(p *petra.Petra, urls []string) int {
	code := 0
	for _, url := range urls {
		entry, err := p.Fetch(context.Background(), url)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", url, err)
			code = 1
			continue
		}
		fmt.Printf("%s %s expires=%s\n", url, entry.Path, entry.ExpiresAt.Format(time.RFC3339))
	}
	return code
}

// run serves the admin API until interrupted, reloading config on SIGHUP
// or on file change when auto-reload is enabled.
func run(p *petra.Petra, cfg *config.Configuration, ldr *config.Loader) {
	applyConfig := func(c *config.Configuration) {
		if c.Cache == nil {
			return
		}
		p.UpdateConfig(config.Duration(c.Cache.MinTTL), c.Cache.MediaTypes, c.Cache.UserAgent)
	}

	// Watch and reload config.
	if ldr != nil && ldr.AutoReload() {
		if err := ldr.Watch(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Watching config file")
		}
		defer ldr.Close()
		go func() {
			for changed := range ldr.Events {
				if !changed {
					continue
				}
				log.Info().Msg("Config file changed, reloading config")
				applyConfig(ldr.Config())
			}
		}()
	}

	// Reload config on SIGHUP.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-signals:
				log.Info().Msg("Received SIGHUP, reloading config")
				if ldr == nil {
					continue
				}
				if changed, err := ldr.Load(context.Background()); err != nil {
					log.Error().Err(err).Msg("Error reloading config")
				} else if changed {
					applyConfig(ldr.Config())
					log.Info().Msg("Config reloaded")
				} else {
					log.Info().Msg("Config not reloaded, no changes detected")
				}
			case <-stop:
				return
			}
		}
	}()

	apiCfg := config.API{Port: defaultAPIPort}
	if cfg.API != nil {
		apiCfg = *cfg.API
	}
	if apiCfg.Port == 0 {
		apiCfg.Port = defaultAPIPort
	}

	handler, err := api.New(apiCfg, p)
	if err != nil {
		log.Fatal().Err(err).Msg("Initializing API")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", apiCfg.Port),
		Handler: handler,
	}

	go func() {
		log.Info().Str("version", version.Info()).Int("port", apiCfg.Port).Msg("Petra just started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Starting API server")
		}
	}()

	// Wait until shutdown signal received.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
