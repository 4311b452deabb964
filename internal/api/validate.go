package api

import (
	"errors"
	"fmt"
	"net/url"

	"fleetroute/internal/model"
	"fleetroute/internal/problem"
)

func validateRunRequest(req *model.RunRequest) error {
	if req.CallbackURL == "" {
		if req.CallbackSecret != "" {
			return errors.New("callbackSecret requires callbackUrl")
		}
		return nil
	}
	u, err := url.Parse(req.CallbackURL)
	if err != nil {
		return fmt.Errorf("invalid callbackUrl: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("callbackUrl must be an absolute http(s) URL: %s", req.CallbackURL)
	}
	return nil
}

// validateSolveOptions rejects tenant defaults that every run would then fail on.
func validateSolveOptions(o model.SolveOptions) error {
	_, err := problem.Options(o)
	return err
}
