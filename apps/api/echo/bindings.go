package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
)

var (
	userIDParam = "user_id"
	typeParam   = "type"
	limitParam  = "limit"
)

type listParams struct {
	Filter notification.QueryFilter
}

// Bind reads the list filter from the query string. Missing params keep their zero value.
func (p *listParams) Bind(ctx echo.Context) error {
	if v := ctx.QueryParam(userIDParam); v != "" {
		uid, err := strconv.Atoi(v)
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: userIDParam, Error: "must be an integer"})
		}
		p.Filter.UserID = &uid
	}
	if v := ctx.QueryParam(limitParam); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: limitParam, Error: "must be an integer"})
		}
		p.Filter.Limit = limit
	}
	p.Filter.Type = notification.Type(ctx.QueryParam(typeParam))
	return nil
}
