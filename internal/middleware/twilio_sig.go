package middleware

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/client"
)

// TwilioParamsKey is the echo context key holding the validated form parameters.
const TwilioParamsKey = "twilioParams"

// TwilioAuth validates Twilio webhook requests using the X-Twilio-Signature header.
// baseURL, when set, replaces the scheme and host Twilio saw (useful behind proxies and tunnels).
func TwilioAuth(getAuthToken func() string, baseURL string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authToken := getAuthToken()
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}

			bodyBytes, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}

			formData, err := url.ParseQuery(string(bodyBytes))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}

			params := make(map[string]string)
			for key, values := range formData {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			validator := client.NewRequestValidator(authToken)
			signature := c.Request().Header.Get("X-Twilio-Signature")
			if signature == "" || !validator.Validate(RequestURL(c.Request(), baseURL), params, signature) {
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}

			c.Set(TwilioParamsKey, params)
			return next(c)
		}
	}
}

// RequestURL reconstructs the public URL of r the way Twilio signs it.
func RequestURL(r *http.Request, baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://" + r.Host
	}
	u := base + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// TwilioParams returns the parameters stored by TwilioAuth.
func TwilioParams(c echo.Context) (map[string]string, bool) {
	p, ok := c.Get(TwilioParamsKey).(map[string]string)
	return p, ok
}
