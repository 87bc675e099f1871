package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"

	"leadharvest_backend/internal/controller"
	"leadharvest_backend/internal/model"
	"leadharvest_backend/internal/pipeline"
	"leadharvest_backend/internal/pipeline/fetch"
	"leadharvest_backend/pkg/config"
	"leadharvest_backend/pkg/cron"
	"leadharvest_backend/pkg/database"
)

func setupRoutes(app *fiber.App, ops *controller.Ops) {
	api := app.Group("/api")

	api.Get("/health", ops.Health)
	api.Get("/runs", ops.ListRuns)
	api.Post("/runs", ops.TriggerRun)
}

func main() {
	listingsOnly := flag.Bool("listings-only", false, "scrape listings, skip the contact pass")
	contactsOnly := flag.Bool("contacts-only", false, "only fetch contacts for stored leads")
	daemon := flag.Bool("daemon", false, "run the cron schedule and ops server instead of a single run")
	skipProxyTest := flag.Bool("skip-proxy-test", false, "skip the startup proxy connectivity check")
	zipsFlag := flag.String("zips", "", "comma separated zip codes, overrides ZIP_CODES")
	flag.Parse()

	cfg := config.Load()

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is not set in .env")
	}

	database.InitDB(cfg.Database.URL)
	err := database.MigrateDatabase(
		&model.Lead{},
		&model.Contact{},
		&model.ScrapeRun{},
	)
	if err != nil {
		log.Printf("Migration warning: %v", err)
	}

	zipCodes := splitZips(*zipsFlag)
	if len(zipCodes) == 0 {
		zipCodes = splitZips(os.Getenv("ZIP_CODES"))
	}
	if len(zipCodes) == 0 && !*contactsOnly {
		log.Fatal("No zip codes configured: set ZIP_CODES or pass --zips")
	}

	if cfg.Proxy.Host != "" && !*skipProxyTest && !cfg.Proxy.SkipTest {
		rotation := fetch.NewRotation(cfg.Proxy)
		if ip, err := fetch.CheckProxy(rotation.NextProxyURL()); err != nil {
			log.Fatal("Proxy connectivity check failed: ", err)
		} else {
			log.Printf("Proxy check ok, egress IP %s", ip)
		}
	}

	backends, err := fetch.BuildBackends(cfg)
	if err != nil {
		log.Fatal("Could not build fetch backends: ", err)
	}
	policy := fetch.NewPolicy(backends, fetch.NewRotation(cfg.Proxy), cfg.Scraper)
	p := pipeline.New(cfg, policy, database.GetDB())

	if *daemon {
		runDaemon(cfg, p, zipCodes)
		return
	}

	mode := model.RunModeFull
	switch {
	case *listingsOnly && *contactsOnly:
		log.Fatal("--listings-only and --contacts-only are mutually exclusive")
	case *listingsOnly:
		mode = model.RunModeListings
	case *contactsOnly:
		mode = model.RunModeContacts
	}

	run, err := p.Run(context.Background(), zipCodes, mode)
	if err != nil {
		log.Fatal("Pipeline run failed: ", err)
	}
	if run.Failed > 0 {
		os.Exit(1)
	}
}

func runDaemon(cfg *config.Config, p *pipeline.Pipeline, zipCodes []string) {
	cron.InitPipelineCron(cfg.Pipeline.CronSpec, p, zipCodes)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(cors.New())

	setupRoutes(app, controller.NewOps(p, zipCodes))

	log.Printf("Ops server is running on port %s", cfg.Server.Port)
	log.Fatal(app.Listen(":" + cfg.Server.Port))
}

func splitZips(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
