package http

import (
	"math/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mtktsuda/kotori/internal/blob"
	"github.com/mtktsuda/kotori/internal/domain"
	"github.com/mtktsuda/kotori/internal/identity"
	"github.com/mtktsuda/kotori/internal/notify"
	"github.com/mtktsuda/kotori/internal/query"
	"github.com/mtktsuda/kotori/internal/repo"
	"github.com/mtktsuda/kotori/internal/session"
)

// presenceWindow is how recently a user must have touched a session to show
// as active.
const presenceWindow = 300 * time.Second

type Handler struct {
	Store       *repo.Store
	Sessions    *session.Resolver
	Notifier    *notify.Notifier
	Blobs       blob.Storage
	Identity    identity.Provider
	AdAccountID string

	// adOffset picks the sponsored post slot; swapped out in tests.
	adOffset func(n int64) int64
}

func NewHandler(store *repo.Store, sessions *session.Resolver, notifier *notify.Notifier, blobs blob.Storage, idp identity.Provider, adAccountID string) *Handler {
	return &Handler{
		Store:       store,
		Sessions:    sessions,
		Notifier:    notifier,
		Blobs:       blobs,
		Identity:    idp,
		AdAccountID: adAccountID,
		adOffset:    func(n int64) int64 { return rand.Int63n(n) },
	}
}

func nowUTC() time.Time { return time.Now().UTC() }

// fail is the single error shape of the API.
func fail(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// currentSession returns the resolved session, nil for anonymous callers.
func currentSession(c *gin.Context) *session.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	return v.(*session.Session)
}

// currentUser loads the caller's user document. ok is false after a 400 has
// been written.
func (h *Handler) currentUser(c *gin.Context) (bson.M, bool) {
	sess := currentSession(c)
	if sess == nil {
		fail(c, "Invalid Token")
		return nil, false
	}
	user, err := h.Store.FindUserByEmail(c.Request.Context(), sess.Email)
	if err != nil || user == nil {
		fail(c, "Not Found User")
		return nil, false
	}
	return user, true
}

// optionalUser loads the caller when signed in; anonymous callers get nil
// without an error.
func (h *Handler) optionalUser(c *gin.Context) (bson.M, bool) {
	sess := currentSession(c)
	if sess == nil {
		return nil, true
	}
	user, err := h.Store.FindUserByEmail(c.Request.Context(), sess.Email)
	if err != nil {
		fail(c, "Not Found User")
		return nil, false
	}
	return user, true
}

func pathOID(c *gin.Context, param string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(param))
	if err != nil {
		fail(c, "Incorrect Parameters - "+param)
		return primitive.NilObjectID, false
	}
	return id, true
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// isActive reports whether a user document shows a live presence stamp.
func isActive(user bson.M) bool {
	return domain.Active(user, time.Now(), presenceWindow)
}

// listParams pulls filter/sort/skip/limit off a list request. A nil first
// return means a 400 has been written.
func listParams(c *gin.Context) (bson.M, bson.D, int64, int64, bool) {
	filter, err := query.ParseFilter(c.Query("filter"))
	if err != nil {
		fail(c, "Incorrect Parameters - filter")
		return nil, nil, 0, 0, false
	}
	sort := query.ParseSort(c.Query("sort"))
	skip := query.ParseSkip(c.Query("skip"))
	limit := query.ParseLimit(c.Query("limit"))
	return filter, sort, skip, limit, true
}

// blockWall returns the ids invisible to the caller, nil for anonymous.
func (h *Handler) blockWall(c *gin.Context, user bson.M) ([]primitive.ObjectID, bool) {
	if user == nil {
		return nil, true
	}
	ids, err := h.Store.BlockWallIDs(c.Request.Context(), domain.OID(user, "_id"))
	if err != nil {
		fail(c, err.Error())
		return nil, false
	}
	return ids, true
}
