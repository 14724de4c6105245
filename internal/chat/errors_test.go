package chat

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tcases := []struct {
		name           string
		err            error
		expectedKind   ErrorKind
		expectedStatus int
		expectedMsg    string
	}{
		{"authentication", ErrAuthentication("invalid token"), KindAuthentication, http.StatusUnauthorized, "invalid token"},
		{"authorization", ErrAuthorization("not a participant"), KindAuthorization, http.StatusForbidden, "not a participant"},
		{"validation", ErrValidation("bad %s", "input"), KindValidation, http.StatusBadRequest, "bad input"},
		{"time window", ErrTimeWindow("too late"), KindTimeWindow, http.StatusBadRequest, "too late"},
		{"wrapped chat error", fmt.Errorf("handler: %w", ErrConflict("dup")), KindConflict, http.StatusConflict, "dup"},
		{"store not found", fmt.Errorf("get: %w", database.ErrNotFound), KindNotFound, http.StatusNotFound, "not found"},
		{"store duplicate", database.ErrDuplicate, KindConflict, http.StatusConflict, "already exists"},
		{"unknown error", errors.New("connection reset"), KindInternal, http.StatusInternalServerError, "internal server error"},
		{"internal hides cause", ErrInternal(errors.New("pq: timeout")), KindInternal, http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			kind := Kind(tc.err)
			assert.Equal(t, tc.expectedKind, kind)
			assert.Equal(t, tc.expectedStatus, kind.StatusCode())
			assert.Equal(t, tc.expectedMsg, PublicMessage(tc.err))
		})
	}
}

func TestStoreErr(t *testing.T) {
	err := storeErr(database.ErrNotFound, "message")
	assert.Equal(t, KindNotFound, Kind(err))
	assert.Equal(t, "message not found", PublicMessage(err))
	assert.ErrorIs(t, err, database.ErrNotFound, "expected the store error to stay in the chain")

	cause := errors.New("boom")
	err = storeErr(cause, "message")
	assert.Equal(t, KindInternal, Kind(err))
	assert.ErrorIs(t, err, cause)
}
