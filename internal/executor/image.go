package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/telemetry"
	"github.com/felipepmaragno/puter-gateway/internal/translator"
)

// GenerateImage runs an image generation request. inputImage is base64
// without a data-URL prefix, or empty.
func (e *Executor) GenerateImage(ctx context.Context, auth Auth, imgReq *domain.ImageRequest, inputImage string) (*domain.ImageResponse, error) {
	req, err := e.authenticate(ctx, auth, endpointImage)
	if err != nil {
		return nil, err
	}
	if imgReq == nil || strings.TrimSpace(imgReq.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrInvalidRequest)
	}

	route := e.router.ResolveImage(imgReq.Model)
	req.model = route.Model
	req.provider = route.Provider

	ctx, span := telemetry.StartSpan(ctx, "executor.image")
	defer span.End()
	telemetry.AddRequestAttributes(span, req.tenantID(), route.Model, route.Driver, req.id, false)

	if err := e.acquire(ctx, req); err != nil {
		telemetry.AddErrorAttribute(span, err)
		e.finish(ctx, req, domain.Usage{}, err)
		return nil, err
	}

	call := translator.BuildImageCall(route, imgReq, inputImage)

	var img *translator.Image
	err = e.run(ctx, req, func(ctx context.Context, cred string) error {
		out, err := e.upstream.GenerateImage(ctx, cred, call)
		if err != nil {
			return err
		}
		img = out
		return nil
	})
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		e.finish(ctx, req, domain.Usage{}, err)
		return nil, err
	}

	e.finish(ctx, req, domain.Usage{}, nil)
	return translator.ToImageResponse(img, imgReq.ResponseFormat, e.now().Unix()), nil
}
