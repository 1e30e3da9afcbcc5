package http

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mtktsuda/kotori/internal/domain"
	"github.com/mtktsuda/kotori/internal/fields"
	"github.com/mtktsuda/kotori/internal/query"
	"github.com/mtktsuda/kotori/internal/tags"
	"github.com/mtktsuda/kotori/internal/validate"
)

var postTextRules = validate.RuleSet{
	{Field: "text", Rules: []validate.Rule{validate.MaxLength(2000), validate.IsHTML()}},
}

// feedMatch builds the timeline predicate: top-level posts only, sponsored
// accounts out, the caller's block wall out, plus the client filter.
func (h *Handler) feedMatch(c *gin.Context, user bson.M, adIDs []primitive.ObjectID, filter bson.M) (bson.M, bool) {
	and := []bson.M{
		{"parentId": bson.M{"$exists": false}},
	}
	if len(adIDs) > 0 {
		and = append(and, bson.M{"postedBy": bson.M{"$nin": adIDs}})
	}
	wall, ok := h.blockWall(c, user)
	if !ok {
		return nil, false
	}
	if len(wall) > 0 {
		and = append(and, bson.M{"postedBy": bson.M{"$nin": wall}})
	}
	if len(filter) > 0 {
		and = append(and, filter)
	}
	return bson.M{"$and": and}, true
}

// ListPosts is the timeline: projected rows newest-first with one sponsored
// post spliced in when any exist.
func (h *Handler) ListPosts(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.optionalUser(c)
	if !ok {
		return
	}
	filter, sort, skip, limit, ok := listParams(c)
	if !ok {
		return
	}
	if sort == nil {
		sort = bson.D{{Key: "postedAt", Value: -1}}
	}

	adIDs, err := h.Store.AdUserIDs(ctx, h.AdAccountID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	match, ok := h.feedMatch(c, user, adIDs, filter)
	if !ok {
		return
	}

	adCount, err := h.Store.CountAdPosts(ctx, adIDs)
	if err != nil {
		fail(c, err.Error())
		return
	}
	// the injected ad occupies one slot of the requested page
	if adCount > 0 && skip > 0 {
		skip--
	}
	adFillsPage := false
	if adCount > 0 && limit > 0 {
		limit--
		// a one-slot page holds just the ad; zero would read as uncapped
		adFillsPage = limit == 0
	}

	rows := []bson.M{}
	if !adFillsPage {
		rows, err = h.Store.Feed(ctx, match, sort, skip, limit)
		if err != nil {
			fail(c, err.Error())
			return
		}
		if rows == nil {
			rows = []bson.M{}
		}
	}

	if adCount > 0 {
		ad, err := h.Store.AdPostAt(ctx, adIDs, h.adOffset(adCount))
		if err != nil {
			fail(c, err.Error())
			return
		}
		if ad != nil {
			row := bson.M{
				"_id":      ad["_id"],
				"postedAt": ad["postedAt"],
				"isAd":     true,
			}
			if parentID, ok := ad["parentId"]; ok {
				row["parentId"] = parentID
			}
			rows = append([]bson.M{row}, rows...)
		}
	}

	c.JSON(http.StatusOK, rows)
}

// CountPosts mirrors the timeline predicate, plus one for the ad slot.
func (h *Handler) CountPosts(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.optionalUser(c)
	if !ok {
		return
	}
	filter, _, _, _, ok := listParams(c)
	if !ok {
		return
	}

	adIDs, err := h.Store.AdUserIDs(ctx, h.AdAccountID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	match, ok := h.feedMatch(c, user, adIDs, filter)
	if !ok {
		return
	}

	count, err := h.Store.CountPosts(ctx, match)
	if err != nil {
		fail(c, err.Error())
		return
	}
	adCount, err := h.Store.CountAdPosts(ctx, adIDs)
	if err != nil {
		fail(c, err.Error())
		return
	}
	if adCount > 0 {
		count++
	}

	c.JSON(http.StatusOK, count)
}

// CreatePost writes a top-level post or a repost and notifies the author's
// followers.
func (h *Handler) CreatePost(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	userID := domain.OID(user, "_id")

	body := map[string]any{}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, "Empty Body")
		return
	}

	data, ok := h.validatedPostBody(c, body)
	if !ok {
		return
	}

	var refID primitive.ObjectID
	if raw, has := body["refId"].(string); has {
		var err error
		refID, err = primitive.ObjectIDFromHex(raw)
		if err != nil {
			fail(c, "Incorrect Parameters - refId")
			return
		}
		ref, err := h.Store.FindLivePostByID(ctx, refID)
		if err != nil || ref == nil {
			fail(c, "Not Found Ref")
			return
		}
		data["refId"] = refID
	}

	data["postedBy"] = userID
	data["postedAt"] = time.Now().UTC()

	id, err := h.Store.InsertPost(ctx, data)
	if err != nil {
		fail(c, err.Error())
		return
	}
	data["_id"] = id

	followers, err := h.Store.FollowerIDs(ctx, userID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	if err := h.Notifier.Fanout(ctx, domain.ActionPost, userID, followers, id); err != nil {
		fail(c, err.Error())
		return
	}

	if !refID.IsZero() {
		h.Notifier.Broadcast(ctx, "referenced", gin.H{"postId": refID, "userId": userID}, requestID(c))
	}

	c.JSON(http.StatusOK, data)
}

// validatedPostBody runs the text rules and harvests hashtags into the
// document and the tag registry.
func (h *Handler) validatedPostBody(c *gin.Context, body map[string]any) (bson.M, bool) {
	out, rejected := postTextRules.Apply(body)
	if len(rejected) > 0 {
		fail(c, "Incorrect Parameters - "+strings.Join(rejected, ","))
		return nil, false
	}

	data := bson.M{}
	for k, v := range out {
		data[k] = v
	}
	if text, ok := data["text"].(string); ok {
		if found := tags.Extract(text); len(found) > 0 {
			data["tags"] = found
			if err := h.Store.UpsertTags(c.Request.Context(), found, time.Now().UTC()); err != nil {
				fail(c, err.Error())
				return nil, false
			}
		}
	}
	return data, true
}

// GetPost composes the full detail view: tombstone handling, poster card,
// ancestor chain, repost target, attachments, caller flags, counts and the
// reply tree.
func (h *Handler) GetPost(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.optionalUser(c)
	if !ok {
		return
	}
	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}

	post, err := h.Store.FindPostByID(ctx, postID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	if post == nil {
		fail(c, "Not Found Post")
		return
	}

	ret := bson.M{"_id": postID}
	if domain.Bool(post, "deleted") {
		ret["deleted"] = true
	} else {
		if err := h.Store.IncPostViews(ctx, postID); err != nil {
			fail(c, err.Error())
			return
		}
		h.Notifier.Broadcast(ctx, "viewed", gin.H{"postId": postID}, requestID(c))
		ret = fields.Filter(post, domain.PostSchema)
	}

	if posterID := domain.OID(post, "postedBy"); !posterID.IsZero() {
		if ok := h.attachPoster(c, ret, user, posterID); !ok {
			return
		}
	}

	if parentID := domain.OID(post, "parentId"); !parentID.IsZero() {
		chain, err := h.Store.AncestorIDs(ctx, parentID)
		if err != nil {
			fail(c, err.Error())
			return
		}
		ret["parents"] = chain

		parent, err := h.Store.FindPostByID(ctx, parentID)
		if err != nil {
			fail(c, err.Error())
			return
		}
		if parent == nil {
			ret["Parent"] = bson.M{"deleted": true}
		} else {
			ret["Parent"] = fields.Filter(parent, domain.PostSchema)
		}
	}

	if refID := domain.OID(post, "refId"); !refID.IsZero() {
		ref, err := h.Store.FindPostByID(ctx, refID)
		if err != nil {
			fail(c, err.Error())
			return
		}
		if ref == nil {
			ret["Ref"] = bson.M{"deleted": true}
		} else {
			ret["Ref"] = fields.Filter(ref, domain.PostSchema)
		}
	}

	h.attachFiles(c, ret, postID)
	if c.IsAborted() {
		return
	}

	if user != nil {
		userID := domain.OID(user, "_id")
		if saw, err := h.Store.HasSaw(ctx, postID, userID); err == nil && saw {
			ret["saw"] = true
		}
		if liked, err := h.Store.IsLiked(ctx, postID, userID); err == nil && liked {
			ret["isLiked"] = true
		}
		if reposted, err := h.Store.HasRepostBy(ctx, postID, userID); err == nil && reposted {
			ret["isReferenced"] = true
		}
		if commented, err := h.Store.HasCommentBy(ctx, postID, userID); err == nil && commented {
			ret["isCommented"] = true
		}
	}

	likes, err := h.Store.CountLikes(ctx, postID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	ret["likesCount"] = likes

	reposts, err := h.Store.CountReposts(ctx, postID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	ret["referencesCount"] = reposts

	comments, err := h.Store.CountComments(ctx, postID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	ret["commentsCount"] = comments

	tree, err := h.Store.CommentTree(ctx, postID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	ret["children"] = tree

	c.JSON(http.StatusOK, ret)
}

// attachPoster fills the PostedBy card. A deleted poster tombstones the
// whole post view.
func (h *Handler) attachPoster(c *gin.Context, ret, viewer bson.M, posterID primitive.ObjectID) bool {
	ctx := c.Request.Context()

	poster, err := h.Store.FindAnyUserByID(ctx, posterID)
	if err != nil {
		fail(c, err.Error())
		return false
	}

	card := bson.M{"_id": posterID}
	if poster != nil {
		if domain.Bool(poster, "deleted") {
			card["id"] = domain.Str(poster, "id")
			card["deleted"] = true
			ret["deleted"] = true
			delete(ret, "text")
			delete(ret, "files")
		} else {
			card = fields.Filter(poster, domain.PosterSchema)
			if viewer != nil {
				card["active"] = isActive(poster)
			}
		}
	}
	ret["PostedBy"] = card

	adIDs, err := h.Store.AdUserIDs(ctx, h.AdAccountID)
	if err != nil {
		fail(c, err.Error())
		return false
	}
	for _, adID := range adIDs {
		if adID == posterID {
			ret["isAd"] = true
			break
		}
	}
	return true
}

// attachFiles swaps the raw files id list for attachment metadata.
func (h *Handler) attachFiles(c *gin.Context, ret bson.M, postID primitive.ObjectID) {
	rawIDs, has := ret["files"].(primitive.A)
	if !has {
		return
	}
	if poster, ok := ret["PostedBy"].(bson.M); ok && domain.Bool(poster, "deleted") {
		return
	}
	ids := make([]primitive.ObjectID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		if id, ok := raw.(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	rows, err := h.Store.ListPostFiles(c.Request.Context(), postID, ids)
	if err != nil {
		fail(c, err.Error())
		return
	}
	ret["Files"] = rows
	delete(ret, "files")
}

// PatchPost edits post text, re-harvesting hashtags.
func (h *Handler) PatchPost(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindPostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Post")
		return
	}

	body := map[string]any{}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, "Empty Body")
		return
	}
	data, ok := h.validatedPostBody(c, body)
	if !ok {
		return
	}

	data["patchedBy"] = domain.OID(user, "_id")
	data["patchedAt"] = time.Now().UTC()

	if err := h.Store.UpdatePost(ctx, postID, data); err != nil {
		fail(c, err.Error())
		return
	}

	data["_id"] = postID
	c.JSON(http.StatusOK, data)
}

// DeletePost tombstones the post and tells listeners the thread changed.
func (h *Handler) DeletePost(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	userID := domain.OID(user, "_id")

	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindPostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Post")
		return
	}

	if err := h.Store.TombstonePost(ctx, post, userID, time.Now().UTC()); err != nil {
		fail(c, err.Error())
		return
	}

	h.Notifier.Broadcast(ctx, "deleted", gin.H{"postId": postID, "userId": userID}, requestID(c))

	if refID := domain.OID(post, "refId"); !refID.IsZero() {
		h.Notifier.Broadcast(ctx, "unreferenced", gin.H{"postId": refID, "userId": userID}, requestID(c))
	} else if parentID := domain.OID(post, "parentId"); !parentID.IsZero() {
		h.Notifier.Broadcast(ctx, "uncommented", gin.H{"postId": parentID, "userId": userID}, requestID(c))
	}

	c.JSON(http.StatusOK, gin.H{"_id": postID, "deleted": true})
}

// CreateComment writes a reply under a post and notifies its author.
func (h *Handler) CreateComment(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	userID := domain.OID(user, "_id")

	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindPostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Data")
		return
	}

	body := map[string]any{}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, "Empty Body")
		return
	}
	data, ok := h.validatedPostBody(c, body)
	if !ok {
		return
	}

	data["parentId"] = postID
	data["postedAt"] = time.Now().UTC()
	data["postedBy"] = userID

	id, err := h.Store.InsertPost(ctx, data)
	if err != nil {
		fail(c, err.Error())
		return
	}

	// no self-notice on replies to your own post
	if posterID := domain.OID(post, "postedBy"); !posterID.IsZero() && posterID != userID {
		if err := h.Notifier.Fanout(ctx, domain.ActionComment, userID, []primitive.ObjectID{posterID}, id); err != nil {
			fail(c, err.Error())
			return
		}
	}
	h.Notifier.Broadcast(ctx, "commented", gin.H{"postId": postID, "userId": userID}, requestID(c))

	c.JSON(http.StatusOK, gin.H{"_id": id})
}

// ListPostComments returns the direct replies of a post, newest first.
func (h *Handler) ListPostComments(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.optionalUser(c); !ok {
		return
	}
	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindLivePostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Post")
		return
	}

	rows, err := h.Store.ListComments(ctx, postID,
		query.ParseSkip(c.Query("skip")), query.ParseLimit(c.Query("limit")))
	if err != nil {
		fail(c, err.Error())
		return
	}
	out := make([]bson.M, len(rows))
	for i, row := range rows {
		out[i] = fields.Filter(row, domain.PostSchema)
	}
	c.JSON(http.StatusOK, out)
}

// CountPostComments counts the caller's replies under a post.
func (h *Handler) CountPostComments(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindLivePostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Post")
		return
	}

	count, err := h.Store.CountPosts(ctx, bson.M{
		"parentId": postID,
		"postedBy": domain.OID(user, "_id"),
	})
	if err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, count)
}

// LikePost is idempotent and notifies the post's author.
func (h *Handler) LikePost(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	userID := domain.OID(user, "_id")

	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindLivePostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Data")
		return
	}

	if err := h.Store.Like(ctx, postID, userID, time.Now().UTC()); err != nil {
		fail(c, err.Error())
		return
	}

	if posterID := domain.OID(post, "postedBy"); !posterID.IsZero() {
		if err := h.Notifier.Fanout(ctx, domain.ActionLike, userID, []primitive.ObjectID{posterID}, postID); err != nil {
			fail(c, err.Error())
			return
		}
	}
	h.Notifier.Broadcast(ctx, "liked", gin.H{"postId": postID, "userId": userID}, requestID(c))

	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handler) UnlikePost(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	userID := domain.OID(user, "_id")

	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindPostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Data")
		return
	}

	if err := h.Store.Unlike(ctx, postID, userID); err != nil {
		fail(c, err.Error())
		return
	}
	h.Notifier.Broadcast(ctx, "unliked", gin.H{"postId": postID, "userId": userID}, requestID(c))

	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handler) CountPostLikes(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.optionalUser(c); !ok {
		return
	}
	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindLivePostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Post")
		return
	}

	count, err := h.Store.CountLikes(ctx, postID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, count)
}

// PostIsLiked and friends answer false for anonymous callers instead of
// erroring.
func (h *Handler) PostIsLiked(c *gin.Context) {
	h.callerPostFlag(c, func(ctx *gin.Context, postID, userID primitive.ObjectID) (bool, error) {
		return h.Store.IsLiked(ctx.Request.Context(), postID, userID)
	})
}

func (h *Handler) PostIsReferenced(c *gin.Context) {
	h.callerPostFlag(c, func(ctx *gin.Context, postID, userID primitive.ObjectID) (bool, error) {
		return h.Store.HasRepostBy(ctx.Request.Context(), postID, userID)
	})
}

func (h *Handler) PostIsCommented(c *gin.Context) {
	h.callerPostFlag(c, func(ctx *gin.Context, postID, userID primitive.ObjectID) (bool, error) {
		return h.Store.HasCommentBy(ctx.Request.Context(), postID, userID)
	})
}

func (h *Handler) callerPostFlag(c *gin.Context, probe func(*gin.Context, primitive.ObjectID, primitive.ObjectID) (bool, error)) {
	user, ok := h.optionalUser(c)
	if !ok {
		return
	}
	if user == nil {
		c.JSON(http.StatusOK, false)
		return
	}
	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindLivePostByID(c.Request.Context(), postID)
	if err != nil || post == nil {
		fail(c, "Not Found Post")
		return
	}
	flag, err := probe(c, postID, domain.OID(user, "_id"))
	if err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, flag)
}

// MarkPostSaw records that the caller has seen the post.
func (h *Handler) MarkPostSaw(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindLivePostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Post")
		return
	}

	if err := h.Store.MarkSaw(ctx, postID, domain.OID(user, "_id"), time.Now().UTC()); err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"_id": postID})
}

// UploadPostFiles stores multipart attachments and appends their ids to the
// post.
func (h *Handler) UploadPostFiles(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	userID := domain.OID(user, "_id")

	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	post, err := h.Store.FindPostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Post")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		fail(c, "Empty Body")
		return
	}

	var ids []any
	if raw, has := post["files"].(primitive.A); has {
		ids = append(ids, raw...)
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
				PostID:   &postID,
				Filename: fh.Filename,
				Mimetype: fh.Header.Get("Content-Type"),
				PostedBy: userID,
				PostedAt: time.Now().UTC(),
			}
			if err := h.Store.InsertFile(ctx, row); err != nil {
				fail(c, err.Error())
				return
			}
			if err := h.Blobs.Save(ctx, row.ID.Hex(), data, row.Mimetype); err != nil {
				fail(c, err.Error())
				return
			}
			ids = append(ids, row.ID)
		}
	}

	if err := h.Store.UpdatePost(ctx, postID, bson.M{"files": ids}); err != nil {
		fail(c, err.Error())
		return
	}
	c.Status(http.StatusOK)
}

// GetPostFile streams one attachment back as a download.
func (h *Handler) GetPostFile(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.optionalUser(c); !ok {
		return
	}
	postID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	fileID, ok := pathOID(c, "fileId")
	if !ok {
		return
	}

	post, err := h.Store.FindPostByID(ctx, postID)
	if err != nil || post == nil {
		fail(c, "Not Found Post")
		return
	}
	file, err := h.Store.FindPostFile(ctx, postID, fileID)
	if err != nil || file == nil {
		fail(c, "Not Found File")
		return
	}

	data, err := h.Blobs.Load(ctx, file.ID.Hex())
	if err != nil {
		fail(c, "Not Found File")
		return
	}

	c.Header("Content-Disposition", `attachment;filename="`+url.PathEscape(file.Filename)+`"`)
	c.Data(http.StatusOK, file.Mimetype, data)
}

