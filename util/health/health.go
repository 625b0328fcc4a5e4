// Package health aggregates the readiness checks of the node services into one JSON report.
package health

import (
	"context"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

type Check struct {
	Name  string
	Check func(context.Context, bool) (int, string, error)
}

type result struct {
	Resource string `json:"resource"`
	Status   int    `json:"status"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

type report struct {
	Status       int      `json:"status"`
	Dependencies []result `json:"dependencies"`
}

// CheckAll runs every check and reports 503 when any of them failed.
func CheckAll(ctx context.Context, checkLiveness bool, checks []Check) (int, string, error) {
	r := report{
		Status:       http.StatusOK,
		Dependencies: make([]result, 0, len(checks)),
	}

	for _, check := range checks {
		status, message, err := check.Check(ctx, checkLiveness)
		if err != nil || status != http.StatusOK {
			r.Status = http.StatusServiceUnavailable
		}

		res := result{Resource: check.Name, Status: status, Message: message}
		if err != nil {
			res.Error = err.Error()
		}

		r.Dependencies = append(r.Dependencies, res)
	}

	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(r)
	if err != nil {
		return http.StatusInternalServerError, "", err
	}

	return r.Status, body, nil
}
