package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatwire/chatwire/pkg/store"
)

// Result is the uniform response envelope
type Result struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Result{Code: 0, Message: "ok", Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, Result{Code: 1, Message: message})
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "username and password are required")
		return
	}

	userID, err := s.deps.Users.Register(req.Username, req.Password)
	if err == store.ErrUsernameTaken {
		fail(c, http.StatusConflict, "username already taken")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "registration failed")
		return
	}
	ok(c, gin.H{"userId": userID, "username": req.Username})
}

type friendRequestBody struct {
	FromUserID string `json:"fromUserId" binding:"required"`
	ToUserID   string `json:"toUserId" binding:"required"`
	Remark     string `json:"remark"`
}

func (s *Server) handleFriendRequestSend(c *gin.Context) {
	var req friendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "fromUserId and toUserId are required")
		return
	}

	sent, err := s.deps.Friends.AddRequest(req.FromUserID, req.ToUserID, req.Remark)
	if err != nil {
		fail(c, http.StatusInternalServerError, "request failed")
		return
	}
	if !sent {
		fail(c, http.StatusConflict, "request already pending or already friends")
		return
	}
	ok(c, gin.H{"fromUserId": req.FromUserID, "toUserId": req.ToUserID})
}

type friendHandleBody struct {
	FromUserID string `json:"fromUserId" binding:"required"`
	ToUserID   string `json:"toUserId" binding:"required"`
	Accepted   *bool  `json:"accepted" binding:"required"`
}

func (s *Server) handleFriendRequestHandle(c *gin.Context) {
	var req friendHandleBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "fromUserId, toUserId and accepted are required")
		return
	}

	resolved, err := s.deps.Friends.ResolveRequest(req.FromUserID, req.ToUserID, *req.Accepted)
	if err != nil {
		fail(c, http.StatusInternalServerError, "request failed")
		return
	}
	if !resolved {
		fail(c, http.StatusNotFound, "no pending request")
		return
	}
	ok(c, gin.H{"accepted": *req.Accepted})
}

func (s *Server) handleUserInfo(c *gin.Context) {
	user, err := s.deps.Users.GetByID(c.Param("userId"))
	if err == store.ErrNotFound {
		fail(c, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}
	ok(c, user)
}

func (s *Server) handleUserOnline(c *gin.Context) {
	userID := c.Param("userId")
	_, live := s.deps.Registry.Lookup(userID)
	ok(c, gin.H{
		"userId": userID,
		"online": live || s.deps.Presence.IsOnline(userID),
	})
}

func (s *Server) handleFriendList(c *gin.Context) {
	ids, err := s.deps.Friends.ListFriends(c.Param("userId"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}

	friends := make([]*store.User, 0, len(ids))
	for _, id := range ids {
		user, err := s.deps.Users.GetByID(id)
		if err != nil {
			continue
		}
		friends = append(friends, user)
	}
	ok(c, friends)
}

func (s *Server) handleFriendRequests(c *gin.Context) {
	reqs, err := s.deps.Friends.PendingRequests(c.Param("userId"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}
	if reqs == nil {
		reqs = []store.FriendRequest{}
	}
	ok(c, reqs)
}

func (s *Server) handleUserGroups(c *gin.Context) {
	groups, err := s.deps.Groups.GroupsOf(c.Param("userId"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}
	if groups == nil {
		groups = []store.Group{}
	}
	ok(c, groups)
}

func (s *Server) handleGroupInfo(c *gin.Context) {
	group, err := s.deps.Groups.Get(c.Param("groupId"))
	if err == store.ErrNotFound {
		fail(c, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}
	ok(c, group)
}

func (s *Server) handleGroupMembers(c *gin.Context) {
	members, err := s.deps.Groups.Members(c.Param("groupId"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}
	if members == nil {
		members = []store.GroupMember{}
	}
	ok(c, members)
}

func (s *Server) handleMessageHistory(c *gin.Context) {
	userID := c.Param("userId")
	peerID := c.Query("peerId")
	if peerID == "" {
		fail(c, http.StatusBadRequest, "peerId is required")
		return
	}
	before, limit := pagingParams(c)

	msgs, err := s.deps.Messages.History(userID, peerID, before, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	ok(c, msgs)
}

func (s *Server) handleGroupHistory(c *gin.Context) {
	before, limit := pagingParams(c)
	msgs, err := s.deps.Messages.GroupHistory(c.Param("groupId"), before, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	ok(c, msgs)
}

func (s *Server) handleStats(c *gin.Context) {
	online := s.deps.Registry.Online()
	ok(c, gin.H{
		"onlineUsers": len(online),
		"userIds":     online,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UnixMilli(),
	})
}

func pagingParams(c *gin.Context) (before int64, limit int) {
	before, _ = strconv.ParseInt(c.Query("before"), 10, 64)
	limit, _ = strconv.Atoi(c.Query("limit"))
	return before, limit
}
