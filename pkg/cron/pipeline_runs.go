package cron

import (
	"context"
	"log"
	"sync/atomic"

	"leadharvest_backend/internal/model"
	"leadharvest_backend/internal/pipeline"

	"github.com/robfig/cron/v3"
)

// running prevents overlapping scheduled runs; a slow run just skips ticks.
var running atomic.Bool

func InitPipelineCron(spec string, p *pipeline.Pipeline, zipCodes []string) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		runScheduledPipeline(p, zipCodes)
	})

	if err != nil {
		log.Printf("Could not initialize pipeline cron: %v", err)
		return
	}

	c.Start()
	log.Printf("Pipeline cron scheduled (%s) over %d zip codes", spec, len(zipCodes))
}

func runScheduledPipeline(p *pipeline.Pipeline, zipCodes []string) {
	if !running.CompareAndSwap(false, true) {
		log.Println("Previous pipeline run still in progress, skipping tick")
		return
	}
	defer running.Store(false)

	log.Println("Starting scheduled pipeline run...")
	if _, err := p.Run(context.Background(), zipCodes, model.RunModeFull); err != nil {
		log.Printf("Scheduled pipeline run failed: %v", err)
	}
}
