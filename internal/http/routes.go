package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Metrics())

	r.GET("/", h.Root)
	r.GET("/ping", h.Ping)
	r.GET("/echo/:name", h.Echo)
	r.GET("/db", h.DBStatus)
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/", h.Auth())

	auth.GET("/users", h.ListUsers)
	auth.GET("/users/exists", h.UserExists)
	auth.GET("/users/:id", h.GetUser)
	auth.POST("/users/:id/follow", h.FollowUser)
	auth.DELETE("/users/:id/follow", h.UnfollowUser)
	auth.POST("/users/:id/block", h.BlockUser)
	auth.DELETE("/users/:id/block", h.UnblockUser)
	auth.GET("/users/:id/followings", h.ListFollowings)
	auth.GET("/users/:id/followings/count", h.CountFollowings)
	auth.GET("/users/:id/posts", h.ListUserPosts)
	auth.GET("/users/:id/posts/count", h.CountUserPosts)
	auth.GET("/users/:id/bg", h.GetUserBg)
	auth.GET("/users/:id/avatar", h.GetUserAvatar)

	auth.GET("/myprofile", h.GetMyProfile)
	auth.POST("/myprofile", h.CreateMyProfile)
	auth.PATCH("/myprofile", h.PatchMyProfile)
	auth.DELETE("/myprofile", h.DeleteMyProfile)
	auth.PATCH("/myprofile/id", h.PatchMyProfileID)
	auth.GET("/myprofile/posts", h.ListMyPosts)
	auth.GET("/myprofile/posts/count", h.CountMyPosts)
	auth.POST("/myprofile/bg", h.UploadMyBg)
	auth.DELETE("/myprofile/bg", h.DeleteMyBg)
	auth.POST("/myprofile/avatar", h.UploadMyAvatar)
	auth.DELETE("/myprofile/avatar", h.DeleteMyAvatar)

	auth.GET("/posts", h.ListPosts)
	auth.GET("/posts/count", h.CountPosts)
	auth.POST("/posts", h.CreatePost)
	auth.GET("/posts/:id", h.GetPost)
	auth.PATCH("/posts/:id", h.PatchPost)
	auth.DELETE("/posts/:id", h.DeletePost)
	auth.POST("/posts/:id/upload", h.UploadPostFiles)
	auth.GET("/posts/:id/files/:fileId", h.GetPostFile)
	auth.GET("/posts/:id/isLiked", h.PostIsLiked)
	auth.GET("/posts/:id/isReferenced", h.PostIsReferenced)
	auth.GET("/posts/:id/isCommented", h.PostIsCommented)
	auth.POST("/posts/:id/likes", h.LikePost)
	auth.DELETE("/posts/:id/likes", h.UnlikePost)
	auth.GET("/posts/:id/likes/count", h.CountPostLikes)
	auth.GET("/posts/:id/comments", h.ListPostComments)
	auth.GET("/posts/:id/comments/count", h.CountPostComments)
	auth.POST("/posts/:id/comments", h.CreateComment)
	auth.POST("/posts/:id/saw", h.MarkPostSaw)

	auth.GET("/notices", h.ListNotices)
	auth.GET("/notices/count", h.CountNotices)
	auth.GET("/notices/:id", h.GetNotice)
	auth.POST("/notices/:id/saw", h.MarkNoticeSaw)

	auth.GET("/tags", h.SearchTags)

	return r
}
