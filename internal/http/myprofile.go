package http

import (
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mtktsuda/kotori/internal/domain"
	"github.com/mtktsuda/kotori/internal/fields"
	"github.com/mtktsuda/kotori/internal/query"
	"github.com/mtktsuda/kotori/internal/tags"
	"github.com/mtktsuda/kotori/internal/validate"
)

var (
	profileCreateRules = validate.RuleSet{
		{Field: "handle", Rules: []validate.Rule{validate.Required(), validate.MaxLength(20)}},
	}
	profilePatchRules = validate.RuleSet{
		{Field: "handle", Rules: []validate.Rule{validate.Required(), validate.MaxLength(20)}},
		{Field: "description", Rules: []validate.Rule{validate.MaxLength(2000), validate.IsHTML()}},
		{Field: "url", Rules: []validate.Rule{validate.MaxLength(2000), validate.IsURL()}},
		{Field: "bgColor", Rules: nil},
		{Field: "avatarColor", Rules: nil},
	}
	profileIDRules = validate.RuleSet{
		{Field: "newId", Rules: []validate.Rule{
			validate.Required(), validate.MinLength(1), validate.MaxLength(20),
		}},
	}
)

// GetMyProfile returns the caller's own record, email included.
func (h *Handler) GetMyProfile(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	ret := fields.Filter(user, domain.UserSchema)
	ret["active"] = isActive(user)
	c.JSON(http.StatusOK, ret)
}

// CreateMyProfile registers the signed-in identity as a service account. The
// email comes from the session, never the body.
func (h *Handler) CreateMyProfile(c *gin.Context) {
	ctx := c.Request.Context()

	sess := currentSession(c)
	if sess == nil {
		fail(c, "Invalid Token")
		return
	}

	existing, err := h.Store.FindUserByEmail(ctx, sess.Email)
	if err != nil {
		fail(c, err.Error())
		return
	}
	if existing != nil {
		fail(c, "Exists Email")
		return
	}

	body := map[string]any{}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, "Empty Body")
		return
	}
	data, rejected := profileCreateRules.Apply(body)
	if len(rejected) > 0 {
		fail(c, "Incorrect Parameters - handle")
		return
	}

	colorNo := rand.Intn(16) + 1
	user := bson.M{
		"id":         randomPublicID(),
		"handle":     data["handle"],
		"email":      sess.Email,
		"color":      "user-" + strconv.Itoa(colorNo),
		"bgColor":    "user-" + strconv.Itoa(colorNo),
		"authorized": true,
		"postedAt":   nowUTC(),
	}

	id, err := h.Store.InsertUser(ctx, user)
	if err != nil {
		fail(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"_id":    id,
		"id":     user["id"],
		"handle": user["handle"],
		"email":  sess.Email,
	})
}

// PatchMyProfile applies a validated diff; an update that changes nothing is
// an error.
func (h *Handler) PatchMyProfile(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	body := map[string]any{}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, "Empty Body")
		return
	}
	out, rejected := profilePatchRules.Apply(body)
	if len(rejected) > 0 {
		fail(c, "Incorrect Parameters - "+strings.Join(rejected, ","))
		return
	}

	data := bson.M{}
	for k, v := range out {
		data[k] = v
	}
	if desc, has := data["description"].(string); has {
		if found := tags.Extract(desc); len(found) > 0 {
			data["tags"] = found
		}
	}

	changed := fields.Changed(data, user)
	if len(changed) == 0 {
		fail(c, "Not Changed Data")
		return
	}
	changed["patchedAt"] = nowUTC()
	changed["patchedBy"] = domain.OID(user, "_id")

	if err := h.Store.UpdateUser(ctx, domain.OID(user, "_id"), changed); err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, changed)
}

// DeleteMyProfile removes the provider account first; only then does the
// local record tombstone and every session die.
func (h *Handler) DeleteMyProfile(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	userID := domain.OID(user, "_id")

	if err := h.Identity.DeleteUser(ctx, domain.Str(user, "email")); err != nil {
		fail(c, "Failed To Delete")
		return
	}
	if err := h.Store.SoftDeleteUser(ctx, userID, userID, nowUTC()); err != nil {
		fail(c, err.Error())
		return
	}
	if err := h.Store.InvalidateUserTokens(ctx, userID, nowUTC()); err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"_id": userID})
}

// PatchMyProfileID changes the public id.
func (h *Handler) PatchMyProfileID(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	body := map[string]any{}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, "Empty Body")
		return
	}
	out, rejected := profileIDRules.Apply(body)
	if len(rejected) > 0 {
		fail(c, "Incorrect Parameters - newId")
		return
	}

	if err := h.Store.UpdateUser(ctx, domain.OID(user, "_id"), bson.M{"id": out["newId"]}); err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, true)
}

// ListMyPosts returns the caller's own posts as feed rows.
func (h *Handler) ListMyPosts(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
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

// CountMyPosts counts the caller's own top-level posts, tombstones excluded.
func (h *Handler) CountMyPosts(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
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
	c.JSON(http.StatusOK, strconv.FormatInt(count, 10))
}

// UploadMyBg and UploadMyAvatar replace the profile images, retiring the
// previous file and blob.
func (h *Handler) UploadMyBg(c *gin.Context) {
	h.replaceProfileImage(c, "bgId", "bg")
}

func (h *Handler) UploadMyAvatar(c *gin.Context) {
	h.replaceProfileImage(c, "avatarId", "avatar")
}

func (h *Handler) replaceProfileImage(c *gin.Context, field, kind string) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	userID := domain.OID(user, "_id")

	if oldID := domain.OID(user, field); !oldID.IsZero() {
		old, err := h.Store.FindOwnedFile(ctx, oldID, userID)
		if err != nil {
			fail(c, err.Error())
			return
		}
		if old != nil {
			if err := h.Store.SoftDeleteFile(ctx, oldID, userID); err != nil {
				fail(c, err.Error())
				return
			}
			if err := h.Blobs.Delete(ctx, oldID.Hex()); err != nil {
				fail(c, err.Error())
				return
			}
		}
	}

	form, err := c.MultipartForm()
	if err != nil {
		fail(c, "Empty Body")
		return
	}

	for _, headers := range form.File {
		for _, fh := range headers {
			src, err := fh.Open()
			if err != nil {
				fail(c, err.Error())
				return
			}
			data, err := io.ReadAll(src)
			src.Close()
			if err != nil {
				fail(c, err.Error())
				return
			}

			row := &domain.File{
				UserID:   &userID,
				Type:     kind,
				Filename: fh.Filename,
				Mimetype: fh.Header.Get("Content-Type"),
				PostedBy: userID,
				PostedAt: nowUTC(),
			}
			if err := h.Store.InsertFile(ctx, row); err != nil {
				fail(c, err.Error())
				return
			}
			if err := h.Blobs.Save(ctx, row.ID.Hex(), data, row.Mimetype); err != nil {
				fail(c, err.Error())
				return
			}
			if err := h.Store.UpdateUser(ctx, userID, bson.M{field: row.ID}); err != nil {
				fail(c, err.Error())
				return
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handler) DeleteMyBg(c *gin.Context) {
	h.dropProfileImage(c, "bgId", "Bg Not Registered")
}

func (h *Handler) DeleteMyAvatar(c *gin.Context) {
	h.dropProfileImage(c, "avatarId", "Avatar Not Registered")
}

func (h *Handler) dropProfileImage(c *gin.Context, field, missingMsg string) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	userID := domain.OID(user, "_id")

	fileID := domain.OID(user, field)
	if fileID.IsZero() {
		fail(c, missingMsg)
		return
	}
	file, err := h.Store.FindOwnedFile(ctx, fileID, userID)
	if err != nil || file == nil {
		fail(c, "Not Found File")
		return
	}

	if err := h.Blobs.Delete(ctx, fileID.Hex()); err != nil {
		fail(c, err.Error())
		return
	}
	if err := h.Store.SoftDeleteFile(ctx, fileID, userID); err != nil {
		fail(c, err.Error())
		return
	}
	if err := h.Store.UnsetUserFields(ctx, userID, field); err != nil {
		fail(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"_id": fileID, "deleted": true})
}

const publicIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomPublicID() string {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = publicIDAlphabet[rand.Intn(len(publicIDAlphabet))]
	}
	return string(buf)
}
