package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/52poke/engquiz/internal/cache"
	"github.com/52poke/engquiz/internal/logger"
	"github.com/52poke/engquiz/internal/offline"
	"github.com/52poke/engquiz/internal/origin"
	"github.com/52poke/engquiz/internal/quiz"
)

type playConfig struct {
	Env            string        `env:"ENV" envDefault:"development"`
	BankURL        string        `env:"PLAY_URL" envDefault:"http://localhost:8080/"`
	CurriculumPath string        `env:"CURRICULUM_PATH"`
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`

	// InProcessOrigin skips the proxy: banks are read from this origin through
	// an in-memory cache manager.
	InProcessOrigin string   `env:"PLAY_ORIGIN"`
	CacheVersion    string   `env:"CACHE_VERSION" envDefault:"eng-quiz-v4.1"`
	Manifest        []string `env:"MANIFEST" envSeparator:"," envDefault:"/,/index.html,/style.css,/script.js,/icon.png"`
}

func main() {
	_ = godotenv.Load()
	var cfg playConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ENGQUIZ_"}); err != nil {
		log.Fatal(err)
	}

	logg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logg.Sync() }()

	curriculum, err := quiz.LoadCurriculum(cfg.CurriculumPath)
	if err != nil {
		logg.Fatal("load curriculum", zap.String("path", cfg.CurriculumPath), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var fetcher quiz.Fetcher = quiz.HTTPFetcher{
		BaseURL: cfg.BankURL,
		Client:  &http.Client{Timeout: cfg.FetchTimeout},
	}
	if cfg.InProcessOrigin != "" {
		manager, err := offline.New(offline.Options{
			Version:  cfg.CacheVersion,
			Manifest: cfg.Manifest,
			Store:    cache.NewMemoryStore(),
			Network:  origin.NewClient(cfg.InProcessOrigin, cfg.FetchTimeout),
			Logger:   logg,
		})
		if err != nil {
			logg.Fatal("build cache manager", zap.Error(err))
		}
		if err := manager.Install(ctx); err != nil {
			logg.Warn("install failed, banks are fetched live only", zap.Error(err))
		}
		logg.Debug("playing in-process", zap.String("generation", manager.Version()))
		fetcher = quiz.ManagerFetcher{Manager: manager}
	}

	player := &quiz.Player{
		Session:    quiz.NewSession(nil),
		Curriculum: curriculum,
		Fetcher:    fetcher,
		In:         os.Stdin,
		Out:        os.Stdout,
	}
	if err := player.Run(ctx); err != nil && ctx.Err() == nil {
		logg.Fatal("play", zap.Error(err))
	}
}
