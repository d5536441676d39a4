package presence

import (
	"errors"
	"fmt"

	"github.com/example/corridor-matching/internal/models"
)

// ErrNotFound is returned for operations on an identity with no record.
var ErrNotFound = errors.New("presence: unknown identity")

// ValidationError rejects out-of-bounds coordinates or seat counts. The
// record is left untouched.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// RoleMismatchError rejects a report whose role disagrees with the role the
// record was created with. Roles never change for a session.
type RoleMismatchError struct {
	ID   string
	Want models.Role
	Got  models.Role
}

func (e *RoleMismatchError) Error() string {
	return fmt.Sprintf("presence: %s registered as %s, got report for %s", e.ID, e.Want, e.Got)
}
