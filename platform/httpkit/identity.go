package httpkit

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Operator is the authenticated admin calling a handler.
type Operator struct {
	ID    uuid.UUID
	Roles []string
}

func (o Operator) HasRole(role string) bool {
	return slices.Contains(o.Roles, role)
}

// Label names the operator in audit reasons.
func (o Operator) Label() string {
	return "operator " + o.ID.String()
}

// OperatorFrom reads the operator set by AuthRequired.
func OperatorFrom(c *gin.Context) (Operator, bool) {
	value, ok := c.Get(ContextUserIDKey)
	if !ok {
		return Operator{}, false
	}
	id, ok := value.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return Operator{}, false
	}
	op := Operator{ID: id}
	if roles, ok := c.Get(ContextRolesKey); ok {
		op.Roles, _ = roles.([]string)
	}
	return op, true
}

// RequireOperator is OperatorFrom for handlers that cannot run anonymously.
// It writes a 401 and returns false when no operator is present.
func RequireOperator(c *gin.Context) (Operator, bool) {
	op, ok := OperatorFrom(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "unauthorized", nil)
		c.Abort()
		return Operator{}, false
	}
	return op, true
}
