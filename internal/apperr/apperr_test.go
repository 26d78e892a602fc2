package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	req := require.New(t)

	req.Equal(http.StatusNotFound, Status(NotFound("room %s not found", "r1")))
	req.Equal(http.StatusForbidden, Status(Forbidden("nope")))
	req.Equal(http.StatusBadRequest, Status(BadRequest("blank name")))
	req.Equal(http.StatusConflict, Status(Conflict("duplicate")))
	req.Equal(http.StatusInternalServerError, Status(errors.New("boom")))
	req.Equal(http.StatusInternalServerError, Status(Internal("Database error", errors.New("conn reset"))))
}

func TestIs_MatchesKindThroughWrapping(t *testing.T) {
	req := require.New(t)

	err := fmt.Errorf("send: %w", Forbidden("not a member"))

	req.ErrorIs(err, ErrForbidden)
	req.NotErrorIs(err, ErrNotFound)
	req.Equal(KindForbidden, KindOf(err))
}

func TestMessage_HidesInternalCause(t *testing.T) {
	req := require.New(t)

	req.Equal("Database error", Message(Internal("Database error", errors.New("password=secret"))))
	req.Equal("Internal server error", Message(errors.New("raw")))
	req.Equal("room r1 not found", Message(NotFound("room %s not found", "r1")))
}
