package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mtktsuda/kotori/internal/domain"
	"github.com/mtktsuda/kotori/internal/fields"
)

// ListNotices returns the caller's notice ids, optionally unseen only.
func (h *Handler) ListNotices(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
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

	rows, err := h.Store.ListNotices(ctx, domain.OID(user, "_id"), filter,
		c.Query("notsaw") != "", sort, skip, limit)
	if err != nil {
		fail(c, err.Error())
		return
	}
	if rows == nil {
		rows = []bson.M{}
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) CountNotices(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	filter, _, _, _, ok := listParams(c)
	if !ok {
		return
	}

	count, err := h.Store.CountNotices(ctx, domain.OID(user, "_id"), filter, c.Query("notsaw") != "")
	if err != nil {
		fail(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, count)
}

// GetNotice composes a notice with the sender card and the post excerpt. A
// dead sender or post hides the notice behind a deleted flag.
func (h *Handler) GetNotice(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.currentUser(c); !ok {
		return
	}

	noticeID, ok := pathOID(c, "id")
	if !ok {
		return
	}
	notice, err := h.Store.FindNoticeByID(ctx, noticeID)
	if err != nil {
		fail(c, err.Error())
		return
	}
	if notice == nil {
		fail(c, "Not Found Notice")
		return
	}

	ret := bson.M{
		"_id":    notice.ID,
		"action": notice.Action,
	}
	if notice.PostID != nil {
		ret["postId"] = *notice.PostID
	}
	if notice.Saw {
		ret["saw"] = true
	}

	sender, err := h.Store.FindAnyUserByID(ctx, notice.PostedBy)
	if err != nil {
		fail(c, err.Error())
		return
	}
	card := bson.M{"_id": notice.PostedBy}
	if sender == nil {
		ret["hidden"] = true
		ret["deleted"] = true
	} else if domain.Bool(sender, "deleted") {
		card["id"] = domain.Str(sender, "id")
		card["deleted"] = true
		ret["deleted"] = true
	} else {
		card = fields.Filter(sender, domain.PosterSchema)
		card["active"] = isActive(sender)
	}
	ret["PostedBy"] = card

	if notice.PostID != nil {
		post, err := h.Store.FindPostByID(ctx, *notice.PostID)
		if err != nil {
			fail(c, err.Error())
			return
		}
		if post == nil {
			ret["hidden"] = true
			ret["deleted"] = true
		} else {
			ret["Post"] = fields.Filter(post, domain.NoticePostSchema)
		}
	}

	c.JSON(http.StatusOK, ret)
}

// MarkNoticeSaw flags a notice as seen.
func (h *Handler) MarkNoticeSaw(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.currentUser(c); !ok {
		return
	}
	noticeID, ok := pathOID(c, "id")
	if !ok {
		return
	}

	if err := h.Store.MarkNoticeSaw(ctx, noticeID); err != nil {
		fail(c, "Not Found Notice")
		return
	}
	c.JSON(http.StatusOK, gin.H{"_id": noticeID})
}
