// File: internal/publish/publish.go
// Brief: Serialization and submission of assembled pipelines.

package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/example/pipectl/internal/pipeline"
	"github.com/example/pipectl/internal/spinnaker"
)

// Publisher posts assembled pipelines. It never retries.
type Publisher struct {
	api API
	log logr.Logger
}

func NewPublisher(api API, log logr.Logger) *Publisher {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Publisher{api: api, log: log}
}

// Publish serializes p and creates it remotely. A non-2xx answer becomes
// *pipeline.PipelineCreationFailedError carrying the body verbatim.
func (p *Publisher) Publish(ctx context.Context, pl *pipeline.AssembledPipeline) error {
	body, err := json.Marshal(pl)
	if err != nil {
		return fmt.Errorf("serialize pipeline %q: %w", pl.Name, err)
	}
	p.log.V(1).Info("pipeline JSON", "pipeline", pl.Name, "body", string(body))

	err = p.api.CreatePipeline(ctx, body)
	var apiErr *spinnaker.APIError
	switch {
	case errors.As(err, &apiErr):
		return &pipeline.PipelineCreationFailedError{
			Application: pl.Application,
			Region:      pl.Region,
			Name:        pl.Name,
			StatusCode:  apiErr.StatusCode,
			Payload:     apiErr.Body,
		}
	case err != nil:
		return fmt.Errorf("create pipeline %q: %w", pl.Name, err)
	}
	p.log.Info("created pipeline", "pipeline", pl.Name, "app", pl.Application, "region", pl.Region, "stages", len(pl.Stages))
	return nil
}
