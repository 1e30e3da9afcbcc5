package http

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mtktsuda/kotori/internal/blob"
	"github.com/mtktsuda/kotori/internal/domain"
	"github.com/mtktsuda/kotori/internal/fields"
	"github.com/mtktsuda/kotori/internal/query"
	"github.com/mtktsuda/kotori/internal/validate"
)

var (
	publicIDRules = validate.RuleSet{
		{Field: "id", Rules: []validate.Rule{
			validate.Required(), validate.MinLength(1), validate.MaxLength(20),
		}},
	}
	existsIDRules = validate.RuleSet{
		{Field: "id", Rules: []validate.Rule{
			validate.Required(), validate.MaxLength(20),
			validate.Regex(`[a-z][0-9a-z_]+[0-9a-z]`),
		}},
	}
	existsEmailRules = validate.RuleSet{
		{Field: "email", Rules: []validate.Rule{validate.Required(), validate.Email()}},
	}
)

// ListUsers searches public ids by prefix and returns them as handles.
func (h *Handler) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()

	prefix, has := c.GetQuery("id")
	if !has {
		fail(c, "Lack Of Parameters")
		return
	}

	filter := bson.M{}
	if prefix != "" {
		filter["id"] = bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}
	}
	sort := query.ParseSort(c.Query("sort"))
	if sort == nil {
		sort = bson.D{{Key: "latestJoinedAt", Value: -1}, {Key: "id", Value: 1}}
	}

	users, err := h.Store.ListUsers(ctx, filter, sort,
		query.ParseSkip(c.Query("skip")), query.ParseLimit(c.Query("limit")))
	if err != nil {
		fail(c, err.Error())
		return
	}

	handles := make([]string, len(users))
	for i, user := range users {
		handles[i] = "@" + domain.Str(user, "id")
	}
	c.JSON(http.StatusOK, handles)
}

// UserExists checks whether a public id or email is taken by someone other
// than the caller.
func (h *Handler) UserExists(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	params := map[string]any{}
	filter := bson.M{
		"_id":     bson.M{"$ne": domain.OID(user, "_id")},
		"deleted": bson.M{"$ne": true},
	}
	switch {
	case c.Query("id") != "":
		params["id"] = c.Query("id")
		out, rejected := existsIDRules.Apply(params)
		if len(rejected) > 0 {
			fail(c, "Incorrect Parameters - id")
			return
		}
		filter["id"] = out["id"]
	case c.Query("email") != "":
		params["email"] = c.Query("email")
		out, rejected := existsEmailRules.Apply(params)
		if len(rejected) > 0 {
			fail(c, "Incorrect Parameters - email")
			return
		}
		filter["email"] = out["email"]
	default:
		fail(c, "Lack Of Parameters")
		return
	}

	count, err := h.Store.CountUsers(ctx, filter)
	if err != nil {
		fail(c, err.Error())
		return
	}
	if count > 0 {
		fail(c, "Exists")
		return
	}
	c.JSON(http.StatusOK, false)
}

// GetUser is the public profile view: schema-filtered fields plus the
// relationship flags the caller has with this user.
func (h *Handler) GetUser(c *gin.Context) {
	ctx := c.Request.Context()

	viewer, ok := h.optionalUser(c)
	if !ok {
		return
	}

	if _, rejected := publicIDRules.Apply(map[string]any{"id": c.Param("id")}); len(rejected) > 0 {
		fail(c, "Incorrect Parameters - id")
		return
	}

	user, err := h.Store.FindAnyUserByPublicID(ctx, c.Param("id"))
	if err != nil {
		fail(c, err.Error())
		return
	}
	if user == nil {
		fail(c, "Not Found User")
		return
	}

	// a tombstoned account still answers, deleted flag only
	ret := bson.M{"id": c.Param("id")}
	if domain.Bool(user, "deleted") {
		ret["deleted"] = true
		c.JSON(http.StatusOK, ret)
		return
	}

	ret = fields.Filter(user, domain.PublicUserSchema)
	if viewer != nil {
		ret["active"] = isActive(user)
	}

	if viewer != nil {
		viewerID := domain.OID(viewer, "_id")
		userID := domain.OID(user, "_id")

		if blocking, err := h.Store.IsBlocking(ctx, viewerID, userID); err == nil && blocking {
			ret["isBlocking"] = true
		}
		if blocked, err := h.Store.IsBlocking(ctx, userID, viewerID); err == nil && blocked {
			ret["isBlocked"] = true
		}
		if following, err := h.Store.IsFollowing(ctx, viewerID, userID); err == nil && following {
			ret["isFollowing"] = true
		}
		if followed, err := h.Store.IsFollowing(ctx, userID, viewerID); err == nil && followed {
			ret["isFollowed"] = true
		}
	}

	c.JSON(http.StatusOK, ret)
}

// FollowUser records a follow unless a block exists in either direction.
func (h *Handler) FollowUser(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	userID := domain.OID(user, "_id")

	otherID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	other, err := h.Store.FindUserByID(ctx, otherID)
	if err != nil || other == nil {
		fail(c, "Not Found Data")
		return
	}

	walled, err := h.Store.BlockedEitherWay(ctx, userID, otherID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	if walled {
		fail(c, "Can't Follow")
		return
	}

	if err := h.Store.Follow(ctx, userID, otherID, nowUTC()); err != nil {
		fail(c, err.Error())
		return
	}
	if err := h.Notifier.Fanout(ctx, domain.ActionFollow, userID, []primitive.ObjectID{otherID}, primitive.NilObjectID); err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handler) UnfollowUser(c *gin.Context) {
	h.dropRelation(c, h.Store.Unfollow)
}

// BlockUser hides the two users from each other and severs their follows.
func (h *Handler) BlockUser(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	otherID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	other, err := h.Store.FindUserByID(ctx, otherID)
	if err != nil || other == nil {
		fail(c, "Not Found Data")
		return
	}

	if err := h.Store.Block(ctx, domain.OID(user, "_id"), otherID, nowUTC()); err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handler) UnblockUser(c *gin.Context) {
	h.dropRelation(c, h.Store.Unblock)
}

func (h *Handler) dropRelation(c *gin.Context, drop func(ctx context.Context, userID, otherID primitive.ObjectID) error) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	otherID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	other, err := h.Store.FindUserByID(ctx, otherID)
	if err != nil || other == nil {
		fail(c, "Not Found Data")
		return
	}

	if err := drop(ctx, domain.OID(user, "_id"), otherID); err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// ListFollowings returns who a user follows, newest follow first.
func (h *Handler) ListFollowings(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.optionalUser(c); !ok {
		return
	}
	user, ok := h.userByPublicID(c)
	if !ok {
		return
	}

	ids, err := h.Store.FollowingIDs(ctx, domain.OID(user, "_id"))
	if err != nil {
		fail(c, err.Error())
		return
	}

	out := []bson.M{}
	for _, id := range ids {
		followed, err := h.Store.FindUserByID(ctx, id)
		if err != nil {
			fail(c, err.Error())
			return
		}
		if followed != nil {
			out = append(out, fields.Filter(followed, domain.FollowingSchema))
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) CountFollowings(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.optionalUser(c); !ok {
		return
	}
	user, ok := h.userByPublicID(c)
	if !ok {
		return
	}

	count, err := h.Store.CountFollowing(ctx, domain.OID(user, "_id"))
	if err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, count)
}

// ListUserPosts returns one user's top-level posts as feed rows.
func (h *Handler) ListUserPosts(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.optionalUser(c); !ok {
		return
	}
	user, ok := h.userByPublicID(c)
	if !ok {
		return
	}

	rows, err := h.Store.ListPostsBy(ctx, domain.OID(user, "_id"),
		query.ParseSkip(c.Query("skip")), query.ParseLimit(c.Query("limit")))
	if err != nil {
		fail(c, err.Error())
		return
	}
	if rows == nil {
		rows = []bson.M{}
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) CountUserPosts(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.optionalUser(c); !ok {
		return
	}
	user, ok := h.userByPublicID(c)
	if !ok {
		return
	}

	count, err := h.Store.CountPosts(ctx, bson.M{
		"postedBy": domain.OID(user, "_id"),
		"parentId": bson.M{"$exists": false},
		"deleted":  bson.M{"$ne": true},
	})
	if err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, count)
}

// GetUserBg and GetUserAvatar stream profile images.
func (h *Handler) GetUserBg(c *gin.Context) {
	h.serveProfileImage(c, "bgId", "Bg Not Registered")
}

func (h *Handler) GetUserAvatar(c *gin.Context) {
	h.serveProfileImage(c, "avatarId", "Avatar Not Registered")
}

func (h *Handler) serveProfileImage(c *gin.Context, field, missingMsg string) {
	ctx := c.Request.Context()

	if _, ok := h.optionalUser(c); !ok {
		return
	}
	user, ok := h.userByPublicID(c)
	if !ok {
		return
	}

	fileID := domain.OID(user, field)
	if fileID.IsZero() {
		fail(c, missingMsg)
		return
	}
	file, err := h.Store.FindOwnedFile(ctx, fileID, domain.OID(user, "_id"))
	if err != nil || file == nil {
		fail(c, "Not Found File")
		return
	}

	data, err := h.Blobs.Load(ctx, file.ID.Hex())
	if err == blob.ErrNotFound {
		fail(c, "Not Found File")
		return
	}
	if err != nil {
		fail(c, err.Error())
		return
	}
	c.Data(http.StatusOK, file.Mimetype, data)
}

func (h *Handler) userByPublicID(c *gin.Context) (bson.M, bool) {
	if _, rejected := publicIDRules.Apply(map[string]any{"id": c.Param("id")}); len(rejected) > 0 {
		fail(c, "Incorrect Parameters - id")
		return nil, false
	}
	user, err := h.Store.FindUserByPublicID(c.Request.Context(), c.Param("id"))
	if err != nil || user == nil {
		fail(c, "Not Found User")
		return nil, false
	}
	return user, true
}
