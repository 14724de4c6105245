package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

type CreateConversationRequest struct {
	ParticipantIds []string `json:"participantIds"`
	IsGroup        bool     `json:"isGroup"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Settings       *struct {
		CanParticipantsAddMembers *bool `json:"canParticipantsAddMembers"`
	} `json:"settings"`
	InitialMessage string `json:"initialMessage"`
}

type AddParticipantRequest struct {
	UserId string `json:"userId"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type CountResponse struct {
	Count int `json:"count"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

// writeError responds with the status matching a chat service error.
func (s *GoChatApp) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := NewChatError(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *GoChatApp) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}
	return true
}

// actor is the caller of an authenticated REST request. REST calls have no
// connection, so no acknowledgement is addressed to them.
func actor(r *http.Request) (chat.Actor, bool) {
	user, ok := User(r.Context())
	return chat.Actor{User: user}, ok
}

// pageParams reads the page and limit query parameters. Missing values are
// left at zero for the service to default.
func pageParams(r *http.Request) (int, int, bool) {
	var page, limit int
	var err error

	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, false
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, false
		}
	}
	return page, limit, true
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.svc.CreateUser(r.Context(), chat.CreateUserParams{
		Name:         req.Name,
		EmailAddress: req.Email,
		AvatarUrl:    req.Avatar,
		PasswordHash: pwdHash,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, user)
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if !s.decode(w, r, &lr) {
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, hash, err := s.svc.Credentials(r.Context(), lr.Email)
	if err != nil {
		if chat.Kind(err) == chat.KindNotFound {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		s.writeError(w, r, err)
		return
	}

	if !verifyPassword(hash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(user, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, LoginResponse{User: user, Token: token})
}

func (s *GoChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.svc.GetUser(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *GoChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one
	http.SetCookie(w, createJwtCookie("", -defaultJwtExpiration))
	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) createConversation(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateConversationRequest
	if !s.decode(w, r, &req) {
		return
	}

	params := chat.CreateConversationParams{
		ParticipantIds: req.ParticipantIds,
		IsGroup:        req.IsGroup,
		Title:          req.Title,
		Description:    req.Description,
		InitialMessage: req.InitialMessage,
	}
	if req.Settings != nil {
		params.CanParticipantsAddMembers = req.Settings.CanParticipantsAddMembers
	}

	conv, created, ds, err := s.svc.CreateConversation(r.Context(), a, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.cs.Deliver(ds)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJson(w, status, conv)
}

func (s *GoChatApp) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	page, limit, ok := pageParams(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convs, err := s.svc.ListConversations(r.Context(), userId, page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, convs)
}

func (s *GoChatApp) getConversation(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	conv, err := s.svc.GetConversation(r.Context(), userId, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *GoChatApp) addParticipant(w http.ResponseWriter, r *http.Request) {
	a, _ := actor(r)

	var req AddParticipantRequest
	if !s.decode(w, r, &req) {
		return
	}

	conv, ds, err := s.svc.AddParticipant(r.Context(), a, r.PathValue("id"), req.UserId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.cs.Deliver(ds)

	s.writeJson(w, http.StatusOK, conv)
}

func (s *GoChatApp) removeParticipant(w http.ResponseWriter, r *http.Request) {
	a, _ := actor(r)

	conv, ds, err := s.svc.RemoveParticipant(r.Context(), a, r.PathValue("id"), r.PathValue("userId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.cs.Deliver(ds)

	s.writeJson(w, http.StatusOK, conv)
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	page, limit, ok := pageParams(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgs, err := s.svc.ListMessages(r.Context(), userId, r.PathValue("id"), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *GoChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	a, _ := actor(r)

	var req events.SendMessage
	if !s.decode(w, r, &req) {
		return
	}

	msg, ds, err := s.svc.SendMessage(r.Context(), a, chat.SendMessageParams{
		ConversationId: req.ConversationId,
		Content:        req.Content,
		MessageType:    req.MessageType,
		FileUrl:        req.FileUrl,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		ReplyTo:        req.ReplyTo,
		ClientId:       req.ClientId,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.cs.Deliver(ds)

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *GoChatApp) markMessageRead(w http.ResponseWriter, r *http.Request) {
	a, _ := actor(r)

	msg, ds, err := s.svc.MarkRead(r.Context(), a, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.cs.Deliver(ds)

	s.writeJson(w, http.StatusOK, msg)
}

func (s *GoChatApp) markConversationRead(w http.ResponseWriter, r *http.Request) {
	a, _ := actor(r)

	n, ds, err := s.svc.MarkAllRead(r.Context(), a, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.cs.Deliver(ds)

	s.writeJson(w, http.StatusOK, CountResponse{Count: n})
}

func (s *GoChatApp) editMessage(w http.ResponseWriter, r *http.Request) {
	a, _ := actor(r)

	var req EditMessageRequest
	if !s.decode(w, r, &req) {
		return
	}

	msg, ds, err := s.svc.EditMessage(r.Context(), a, r.PathValue("id"), req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.cs.Deliver(ds)

	s.writeJson(w, http.StatusOK, msg)
}

func (s *GoChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	a, _ := actor(r)

	var forEveryone bool
	if v := r.URL.Query().Get("everyone"); v != "" {
		var err error
		if forEveryone, err = strconv.ParseBool(v); err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	ds, err := s.svc.DeleteMessage(r.Context(), a, r.PathValue("id"), forEveryone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.cs.Deliver(ds)

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) unreadCount(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	n, err := s.svc.UnreadCount(r.Context(), userId, r.URL.Query().Get("conversationId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, CountResponse{Count: n})
}

// serveWs authenticates the handshake, upgrades the connection and hands
// the client to the hub subscribed to all of the user's conversations.
// Authentication failures are answered before the upgrade.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	tokenString, err := tokenFromRequest(r)
	if err != nil {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, err := s.extractUserIdFromToken(tokenString)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket handshake rejected")
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.svc.GetUser(r.Context(), userId)
	if err != nil {
		errResp := NewUnauthorizedError()
		if chat.Kind(err) == chat.KindInternal {
			errResp = NewChatError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms, err := s.svc.ConversationIds(r.Context(), user.Id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(user.Summary(), conn, s.cs, s.svc, s.log)
	if err := s.attachClient(r.Context(), client, user.Id, rooms); err != nil {
		s.log.Warn().Err(err).Msg("failed to register client")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}

	if err := s.cs.Serve(client); err != nil {
		conn.Close()
	}
}

// attachClient registers c subscribed to rooms, then joins the conversations
// the user gained after rooms was loaded. JoinUsers dispatches applied
// before registration could not reach c.
func (s *GoChatApp) attachClient(ctx context.Context, c *server.Client, userId string, rooms []string) error {
	if err := s.cs.Register(c, rooms); err != nil {
		return err
	}

	current, err := s.svc.ConversationIds(ctx, userId)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userId).Msg("failed to refresh rooms")
		return nil
	}

	var ds []chat.Dispatch
	for _, id := range current {
		if !slices.Contains(rooms, id) {
			ds = append(ds, chat.Dispatch{Scope: chat.JoinConn, ConnId: c.Id(), ConversationId: id})
		}
	}
	s.cs.Deliver(ds)
	return nil
}
