package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			// The error handler has not run yet, so derive the status the
			// client will see from the error itself.
			status := c.Response().Status
			if err != nil {
				status, _ = statusFor(err)
			}

			evt := logger.Info()
			if status >= 500 {
				evt = logger.Error().Err(err)
			} else if err != nil {
				evt = logger.Warn().Err(err)
			}

			rid, _ := c.Get("request_id").(string)
			accountID, _ := c.Get("account_id").(string)
			evt.
				Str("request_id", rid).
				Str("account_id", accountID).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
