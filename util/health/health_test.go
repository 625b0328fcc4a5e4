package health

import (
	"context"
	"net/http"
	"testing"

	"github.com/dieguito9000/rskj/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context, bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}

func TestCheckAll(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		status, body, err := CheckAll(context.Background(), false, []Check{{Name: "a", Check: ok}, {Name: "b", Check: ok}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)

		var r report
		require.NoError(t, jsoniter.UnmarshalFromString(body, &r))
		assert.Len(t, r.Dependencies, 2)
		assert.Equal(t, "a", r.Dependencies[0].Resource)
	})

	t.Run("one failing", func(t *testing.T) {
		failing := func(context.Context, bool) (int, string, error) {
			return http.StatusServiceUnavailable, "down", errors.NewServiceUnavailableError("store offline")
		}

		status, body, err := CheckAll(context.Background(), false, []Check{{Name: "a", Check: ok}, {Name: "store", Check: failing}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Contains(t, body, "store offline")
	})

	t.Run("no checks", func(t *testing.T) {
		status, _, err := CheckAll(context.Background(), true, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)
	})
}
