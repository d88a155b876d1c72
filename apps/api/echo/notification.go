package echoapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
)

type (
	subscriptionSummary struct {
		ID    int    `json:"id"`
		Email string `json:"email"`
	}

	subscribeResponse struct {
		Success      bool                `json:"success"`
		Subscription subscriptionSummary `json:"subscription"`
		Message      string              `json:"message"`
	}

	subscriptionResponse struct {
		Success      bool                      `json:"success"`
		Subscription notification.Subscription `json:"subscription"`
	}

	messageResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}

	markReadResponse struct {
		Success bool `json:"success"`
		Updated int  `json:"updated"`
	}

	sendResponse struct {
		Success      bool                      `json:"success"`
		Notification notification.Notification `json:"notification"`
	}

	testEmailResponse struct {
		Success   bool   `json:"success"`
		MessageID string `json:"messageId"`
		Message   string `json:"message"`
	}

	// BrowserSubscribeRequest is acknowledged but never stored: push delivery is not implemented.
	BrowserSubscribeRequest struct {
		Subscription json.RawMessage `json:"subscription"`
		UserID       *int            `json:"user_id"`
	}
)

type notificationApi struct {
	svc      notification.Service
	validate *validator.Validate
}

func registerNotificationAPI(
	g *echo.Group,
	limiter echo.MiddlewareFunc,
	svc notification.Service,
	validate *validator.Validate,
) {
	api := notificationApi{
		svc:      svc,
		validate: validate,
	}

	ng := g.Group("/notifications")
	ng.GET("", api.query)
	ng.POST("/mark-read", api.markRead)
	ng.POST("/send", api.send)
	ng.POST("/browser-subscribe", api.browserSubscribe)

	// public endpoints reached from emails and the landing page
	ng.POST("/subscribe-email", api.subscribe, limiter)
	ng.POST("/unsubscribe-email", api.unsubscribe, limiter)
	ng.GET("/preferences", api.retrievePreferences, limiter)
	ng.PUT("/preferences", api.updatePreferences, limiter)
	ng.GET("/test-email", api.testEmail, limiter)
}

// Handlers

func (api *notificationApi) query(ctx echo.Context) error {
	var params listParams
	if err := params.Bind(ctx); err != nil {
		return err
	}

	res, err := api.svc.List(ctx.Request().Context(), params.Filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	var data notification.MarkReadRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkReadRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	updated, err := api.svc.MarkRead(ctx.Request().Context(), data.NotificationIDs)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, markReadResponse{Success: true, Updated: updated})
}

func (api *notificationApi) send(ctx echo.Context) error {
	var data notification.SendRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SendRequest")
	}

	n, err := api.svc.Send(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sendResponse{Success: true, Notification: n})
}

func (api *notificationApi) browserSubscribe(ctx echo.Context) error {
	var data BrowserSubscribeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BrowserSubscribeRequest")
	}
	return ctx.JSON(http.StatusOK, messageResponse{Success: true, Message: "Browser notifications enabled"})
}

func (api *notificationApi) subscribe(ctx echo.Context) error {
	var data notification.SubscribeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubscribeRequest")
	}

	sub, err := api.svc.Subscribe(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, subscribeResponse{
		Success:      true,
		Subscription: subscriptionSummary{ID: sub.ID, Email: sub.Email},
		Message:      "Successfully subscribed to email notifications",
	})
}

func (api *notificationApi) unsubscribe(ctx echo.Context) error {
	var data notification.UnsubscribeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UnsubscribeRequest")
	}

	if _, err := api.svc.Unsubscribe(ctx.Request().Context(), data); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, messageResponse{Success: true, Message: "Successfully unsubscribed from email notifications"})
}

func (api *notificationApi) retrievePreferences(ctx echo.Context) error {
	sub, err := api.svc.GetSubscription(ctx.Request().Context(), ctx.QueryParam("token"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, subscriptionResponse{Success: true, Subscription: sub})
}

func (api *notificationApi) updatePreferences(ctx echo.Context) error {
	var data notification.UpdatePreferencesRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePreferencesRequest")
	}

	sub, err := api.svc.UpdatePreferences(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, subscriptionResponse{Success: true, Subscription: sub})
}

func (api *notificationApi) testEmail(ctx echo.Context) error {
	email := core.CleanString(ctx.QueryParam("email"))
	if email == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "email", Error: "this field is required"})
	}

	id, err := api.svc.SendTestEmail(ctx.Request().Context(), email)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, testEmailResponse{Success: true, MessageID: id, Message: "Test email sent to " + email})
}
