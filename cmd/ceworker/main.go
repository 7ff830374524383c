package main

import (
	"context"
	"flag"
	"log"
	"time"

	_ "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/api"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/config"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/application"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/hooks"
	_ "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/registry_ext"
)

var (
	Version = "v0.1.0"
)

func main() {
	env := flag.String("env", "", "running environment: development|production|test")
	cfgPath := flag.String("config", "", "config file path (yaml or json)")
	flag.Parse()

	app := application.GetApp()
	if *env != "" || *cfgPath != "" {
		app.Configure(*env, *cfgPath)
	}
	// biz config is only loaded at boot; size the stop budget from it once known
	_ = app.AddHook("ceworker_shutdown_budget", hooks.BeforeStart, func(ctx context.Context) error {
		app.SetShutdownTimeout(bizConfig.GetBizConfig().Workers.ShutdownTimeout + 10*time.Second)
		return nil
	}, 0)

	log.Printf("ceworker %s starting", Version)
	if err := app.Run(); err != nil {
		log.Fatalf("app exited with error: %v", err)
	}
}
