package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mtktsuda/kotori/internal/query"
)

// SearchTags prefix-matches registered hashtags and returns them '#'-framed.
func (h *Handler) SearchTags(c *gin.Context) {
	ctx := c.Request.Context()

	prefix, has := c.GetQuery("text")
	if !has {
		fail(c, "Lack Of Parameters")
		return
	}

	texts, err := h.Store.SearchTags(ctx, prefix,
		query.ParseSort(c.Query("sort")),
		query.ParseSkip(c.Query("skip")),
		query.ParseLimit(c.Query("limit")))
	if err != nil {
		fail(c, err.Error())
		return
	}

	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = "#" + text
	}
	c.JSON(http.StatusOK, out)
}
