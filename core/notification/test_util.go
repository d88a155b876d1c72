package notification

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/astroacademy/backend/core"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a Service whose Send broadcasts synchronously.
func NewServiceMock(
	repo Repository,
	subRepo SubscriptionRepository,
	mailSvc core.EmailService,
	publisher Publisher,
	validate *validator.Validate,
	logger core.Logger,
) Service {
	return &serviceMock{
		service: service{
			repo:      repo,
			subRepo:   subRepo,
			mailSvc:   mailSvc,
			publisher: publisher,
			validate:  validate,
			logger:    logger,
		},
	}
}

func (svc *serviceMock) Send(ctx context.Context, req SendRequest) (Notification, error) {
	n, err := svc.createAndPublish(ctx, req)
	if err != nil {
		return Notification{}, err
	}
	// run synchronously
	svc.broadcastDetached(n, req.ContentType, req.ExtraData)
	return n, nil
}
