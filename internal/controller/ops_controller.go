package controller

import (
	"context"
	"log"

	"leadharvest_backend/internal/model"
	"leadharvest_backend/internal/pipeline"
	"leadharvest_backend/pkg/database"

	"github.com/gofiber/fiber/v2"
)

// Ops exposes the small operational surface of the daemon: health, recent
// run summaries and a manual trigger. There is no auth here; the daemon is
// expected to sit behind a private network.
type Ops struct {
	pipeline *pipeline.Pipeline
	zipCodes []string
}

func NewOps(p *pipeline.Pipeline, zipCodes []string) *Ops {
	return &Ops{pipeline: p, zipCodes: zipCodes}
}

type TriggerInput struct {
	Mode     string   `json:"mode"`
	ZipCodes []string `json:"zip_codes"`
}

func (o *Ops) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (o *Ops) ListRuns(c *fiber.Ctx) error {
	var runs []model.ScrapeRun
	err := database.GetDB().Order("started_at DESC").Limit(20).Find(&runs).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not list runs",
		})
	}
	return c.JSON(runs)
}

func (o *Ops) TriggerRun(c *fiber.Ctx) error {
	input := new(TriggerInput)
	if err := c.BodyParser(input); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	mode := model.RunModeFull
	switch input.Mode {
	case "", "full":
	case "listings":
		mode = model.RunModeListings
	case "contacts":
		mode = model.RunModeContacts
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown mode",
		})
	}

	zips := input.ZipCodes
	if len(zips) == 0 {
		zips = o.zipCodes
	}

	go func() {
		if _, err := o.pipeline.Run(context.Background(), zips, mode); err != nil {
			log.Printf("Triggered run failed: %v", err)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Run started",
	})
}
