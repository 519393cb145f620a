// Package identity is the thin collaborator resolving the acting user and
// admin role for HTTP requests, plus a minimal users read model for display
// names.
package identity

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/pkg/response"
	"gorm.io/gorm"

	"github.com/novastate/novacore/internal/rules"
)

const contextUserIDKey = "identity.user_id"

// User is the read model joined into leaderboards.
type User struct {
	gorm.Model
	Username string `gorm:"column:username;type:varchar(64);not null;uniqueIndex:ux_users_username"`
}

func (User) TableName() string {
	return "users"
}

// Middleware resolves the caller from the X-User-ID header. Requests without
// a valid header proceed unauthenticated; handlers that need a user reject
// them via CurrentUserID.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader("X-User-ID"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id > 0 {
				c.Set(contextUserIDKey, id)
			}
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated user id for the request.
func CurrentUserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// RequireAdmin rejects requests whose user is not a configured admin.
func RequireAdmin(policy *rules.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := CurrentUserID(c)
		if !ok {
			response.ErrorWithStatus(c, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
			c.Abort()
			return
		}
		if !policy.IsAdmin(userID) {
			response.ErrorWithStatus(c, http.StatusForbidden, "admin role required", "FORBIDDEN")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Directory resolves usernames from the users table.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Usernames(ctx context.Context, userIDs []uint64) (map[uint64]string, error) {
	if len(userIDs) == 0 {
		return map[uint64]string{}, nil
	}
	var users []User
	if err := d.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, err
	}
	names := make(map[uint64]string, len(users))
	for _, u := range users {
		names[uint64(u.ID)] = u.Username
	}
	return names, nil
}
