package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kttrack/api/internal/domain"
	"kttrack/api/internal/identity"
	"kttrack/api/internal/search"
)

type authenticator interface {
	SignIn(ctx context.Context, username, password string) (identity.Session, error)
	Refresh(ctx context.Context, refreshToken string) (identity.Session, error)
	SignOut(ctx context.Context, principal identity.Principal, refreshToken string) error
	Principal(ctx context.Context, accessToken string) (identity.Principal, error)
	ResolveProfile(ctx context.Context, principal identity.Principal) (domain.User, error)
}

type eventStream interface {
	ServeSSE(w http.ResponseWriter, r *http.Request)
}

type HTTPServer struct {
	service    *Service
	auth       authenticator
	events     eventStream
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, auth authenticator, events eventStream, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, auth: auth, events: events, corsOrigin: corsOrigin, logger: logger}
}

const (
	viewerKey    = "viewer"
	principalKey = "principal"
)

func (s *HTTPServer) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog(), cors.New(s.corsConfig()))

	api := router.Group("/api")
	api.GET("/health", s.health)
	api.HEAD("/health", s.health)
	api.GET("/ready", s.ready)

	api.POST("/auth/signin", s.signIn)
	api.POST("/auth/refresh", s.refresh)
	api.GET("/session", s.session)

	authed := api.Group("")
	authed.Use(s.requireViewer)
	{
		authed.POST("/auth/signout", s.signOut)
		authed.GET("/events", s.stream)
		authed.GET("/search", s.search)

		projects := authed.Group("/projects")
		projects.GET("", s.listProjects)
		projects.POST("", s.createProject)
		projects.GET("/:id", s.getProject)
		projects.DELETE("/:id", s.deleteProject)
		projects.POST("/:id/status", s.updateProjectStatus)
		projects.GET("/:id/report.pdf", s.projectReport)

		projects.POST("/:id/members", s.addMember)
		projects.PATCH("/:id/members/:userId", s.updateMember)
		projects.DELETE("/:id/members/:userId", s.removeMember)

		projects.POST("/:id/sections", s.addSection)
		projects.DELETE("/:id/sections/:sectionId", s.removeSection)
		projects.POST("/:id/sections/:sectionId/status", s.updateSectionStatus)
		projects.PUT("/:id/sections/:sectionId/content", s.saveSectionContent)
		projects.PUT("/:id/sections/:sectionId/contributor", s.assignSection)
		projects.POST("/:id/sections/:sectionId/comments", s.addComment)
		projects.POST("/:id/sections/:sectionId/attachments", s.addAttachment)
		projects.GET("/:id/sections/:sectionId/attachments/:attachmentId", s.downloadAttachment)
		projects.DELETE("/:id/sections/:sectionId/attachments/:attachmentId", s.removeAttachment)
		projects.GET("/:id/sections/:sectionId/history", s.sectionHistory)

		authed.GET("/templates", s.listTemplates)
		authed.POST("/templates", s.createTemplate)
		authed.PUT("/templates/:id", s.updateTemplate)
		authed.DELETE("/templates/:id", s.deleteTemplate)

		authed.GET("/users", s.listUsers)
		authed.POST("/users", s.createUser)
		authed.PATCH("/users/:id", s.updateUser)
		authed.DELETE("/users/:id", s.deactivateUser)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "code": CodeNotFound, "error": "Not found"})
	})
	return router
}

func (s *HTTPServer) corsConfig() cors.Config {
	config := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if s.corsOrigin == "" || s.corsOrigin == "*" {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = strings.Split(s.corsOrigin, ",")
	}
	return config
}

func (s *HTTPServer) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		c.Header("X-Request-ID", requestID)
		c.Header("Cache-Control", "no-store")

		started := time.Now()
		c.Next()

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// requireViewer resolves the bearer token. EventSource cannot set headers,
// so the token may also arrive as ?token=.
func (s *HTTPServer) requireViewer(c *gin.Context) {
	token := bearerToken(c.Request)
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		s.fail(c, domainError(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil))
		return
	}
	principal, err := s.auth.Principal(c.Request.Context(), token)
	if err != nil {
		s.fail(c, domainError(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil))
		return
	}
	c.Set(principalKey, principal)
	c.Set(viewerKey, Viewer{UserID: principal.UserID, Name: principal.Username, Role: principal.Role})
	c.Next()
}

func viewerOf(c *gin.Context) Viewer {
	if v, ok := c.Get(viewerKey); ok {
		if viewer, ok := v.(Viewer); ok {
			return viewer
		}
	}
	return Viewer{}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	body := gin.H{"success": false, "code": code, "error": message}
	if details != nil {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, body)
}

func ok(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(status, body)
}

func (s *HTTPServer) bind(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		s.fail(c, domainError(http.StatusBadRequest, CodeInvalidBody, "invalid JSON body", nil))
		return false
	}
	return true
}

func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{"database": gin.H{"status": "ok"}}
	status, code := "ready", http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		status, code = "not_ready", http.StatusServiceUnavailable
		checks["database"] = gin.H{"status": "error", "error": err.Error()}
	}
	c.JSON(code, gin.H{"ok": status == "ready", "status": status, "checks": checks})
}

func (s *HTTPServer) signIn(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !s.bind(c, &body) {
		return
	}
	session, err := s.auth.SignIn(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"session": session})
}

func (s *HTTPServer) refresh(c *gin.Context) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !s.bind(c, &body) {
		return
	}
	session, err := s.auth.Refresh(c.Request.Context(), body.RefreshToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"session": session})
}

func (s *HTTPServer) signOut(c *gin.Context) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = c.ShouldBindJSON(&body)
	principal, _ := c.Get(principalKey)
	p, _ := principal.(identity.Principal)
	if err := s.auth.SignOut(c.Request.Context(), p, body.RefreshToken); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

// session reports the signed-in user, resolved to its profile.
func (s *HTTPServer) session(c *gin.Context) {
	token := bearerToken(c.Request)
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"authenticated": false, "user": nil})
		return
	}
	principal, err := s.auth.Principal(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false, "user": nil})
		return
	}
	user, err := s.auth.ResolveProfile(c.Request.Context(), principal)
	if err != nil {
		if errors.Is(err, identity.ErrTimedOut) {
			s.logger.Warn("session profile lookup timed out", zap.String("user_id", principal.UserID))
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": user})
}

func (s *HTTPServer) stream(c *gin.Context) {
	if s.events == nil {
		s.fail(c, domainError(http.StatusServiceUnavailable, CodeRemoteUnavailable, "Event stream unavailable", nil))
		return
	}
	s.events.ServeSSE(c.Writer, c.Request)
}

func (s *HTTPServer) search(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	response := s.service.Search(viewerOf(c), c.Query("q"), search.ResultType(c.Query("type")), limit)
	ok(c, http.StatusOK, gin.H{"results": response.Results, "total": response.Total, "query": response.Query})
}

func (s *HTTPServer) listProjects(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"projects": s.service.ListProjects(viewerOf(c))})
}

func (s *HTTPServer) createProject(c *gin.Context) {
	var input ProjectInput
	if !s.bind(c, &input) {
		return
	}
	project, err := s.service.CreateProject(c.Request.Context(), viewerOf(c), input)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"project": project})
}

func (s *HTTPServer) getProject(c *gin.Context) {
	project, err := s.service.GetProject(viewerOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"project": project})
}

func (s *HTTPServer) deleteProject(c *gin.Context) {
	if err := s.service.DeleteProject(c.Request.Context(), viewerOf(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *HTTPServer) updateProjectStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if !s.bind(c, &body) {
		return
	}
	status, valid := domain.ParseProjectStatus(body.Status)
	if !valid {
		s.fail(c, invalid("unknown project status "+body.Status))
		return
	}
	project, err := s.service.UpdateProjectStatus(c.Request.Context(), viewerOf(c), c.Param("id"), status)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"project": project})
}

func (s *HTTPServer) projectReport(c *gin.Context) {
	result, err := s.service.ProjectReport(c.Request.Context(), viewerOf(c), c.Param("id"), c.Query("format") == "html")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.MimeType, result.Data)
}

func (s *HTTPServer) addMember(c *gin.Context) {
	var input MemberInput
	if !s.bind(c, &input) {
		return
	}
	member, err := s.service.AddMember(c.Request.Context(), viewerOf(c), c.Param("id"), input)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"member": member})
}

func (s *HTTPServer) updateMember(c *gin.Context) {
	var input MemberInput
	if !s.bind(c, &input) {
		return
	}
	member, err := s.service.UpdateMember(c.Request.Context(), viewerOf(c), c.Param("id"), c.Param("userId"), input)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"member": member})
}

func (s *HTTPServer) removeMember(c *gin.Context) {
	if err := s.service.RemoveMember(c.Request.Context(), viewerOf(c), c.Param("id"), c.Param("userId")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *HTTPServer) addSection(c *gin.Context) {
	var input SectionInput
	if !s.bind(c, &input) {
		return
	}
	project, err := s.service.AddSection(c.Request.Context(), viewerOf(c), c.Param("id"), input)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"project": project})
}

func (s *HTTPServer) removeSection(c *gin.Context) {
	project, err := s.service.RemoveSection(c.Request.Context(), viewerOf(c), c.Param("id"), c.Param("sectionId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"project": project})
}

func (s *HTTPServer) updateSectionStatus(c *gin.Context) {
	var body struct {
		Status  string  `json:"status"`
		Content *string `json:"content"`
	}
	if !s.bind(c, &body) {
		return
	}
	status, valid := domain.ParseSectionStatus(body.Status)
	if !valid {
		s.fail(c, invalid("unknown section status "+body.Status))
		return
	}
	project, err := s.service.UpdateSectionStatus(c.Request.Context(), viewerOf(c), c.Param("id"), c.Param("sectionId"), status, body.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"project": project})
}

func (s *HTTPServer) saveSectionContent(c *gin.Context) {
	var body struct {
		Content string `json:"content"`
	}
	if !s.bind(c, &body) {
		return
	}
	project, err := s.service.SaveSectionContent(c.Request.Context(), viewerOf(c), c.Param("id"), c.Param("sectionId"), body.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"project": project})
}

func (s *HTTPServer) assignSection(c *gin.Context) {
	var body struct {
		ContributorID *string `json:"contributorId"`
	}
	if !s.bind(c, &body) {
		return
	}
	project, err := s.service.AssignSection(c.Request.Context(), viewerOf(c), c.Param("id"), c.Param("sectionId"), body.ContributorID)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"project": project})
}

func (s *HTTPServer) addComment(c *gin.Context) {
	var body struct {
		Text string `json:"text"`
	}
	if !s.bind(c, &body) {
		return
	}
	comment, err := s.service.AddComment(c.Request.Context(), viewerOf(c), c.Param("id"), c.Param("sectionId"), body.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"comment": comment})
}

func (s *HTTPServer) addAttachment(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		s.fail(c, domainError(http.StatusBadRequest, CodeInvalidBody, "multipart field \"file\" is required", nil))
		return
	}
	file, err := header.Open()
	if err != nil {
		s.fail(c, domainError(http.StatusBadRequest, CodeInvalidBody, "unreadable upload", nil))
		return
	}
	defer file.Close()

	attachment, err := s.service.AddAttachment(c.Request.Context(), viewerOf(c), c.Param("id"), c.Param("sectionId"), Upload{
		FileName:    header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"attachment": attachment})
}

func (s *HTTPServer) downloadAttachment(c *gin.Context) {
	url, err := s.service.AttachmentURL(c.Request.Context(), viewerOf(c), c.Param("id"), c.Param("sectionId"), c.Param("attachmentId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (s *HTTPServer) removeAttachment(c *gin.Context) {
	project, err := s.service.RemoveAttachment(c.Request.Context(), viewerOf(c), c.Param("id"), c.Param("sectionId"), c.Param("attachmentId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"project": project})
}

func (s *HTTPServer) sectionHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	revisions, err := s.service.SectionHistory(viewerOf(c), c.Param("id"), c.Param("sectionId"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"revisions": revisions})
}

func (s *HTTPServer) listTemplates(c *gin.Context) {
	templates, err := s.service.ListTemplates(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"templates": templates})
}

func (s *HTTPServer) createTemplate(c *gin.Context) {
	var input TemplateInput
	if !s.bind(c, &input) {
		return
	}
	template, err := s.service.CreateTemplate(c.Request.Context(), viewerOf(c), input)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"template": template})
}

func (s *HTTPServer) updateTemplate(c *gin.Context) {
	var input TemplateInput
	if !s.bind(c, &input) {
		return
	}
	template, err := s.service.UpdateTemplate(c.Request.Context(), viewerOf(c), c.Param("id"), input)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"template": template})
}

func (s *HTTPServer) deleteTemplate(c *gin.Context) {
	if err := s.service.DeleteTemplate(c.Request.Context(), viewerOf(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *HTTPServer) listUsers(c *gin.Context) {
	users, err := s.service.ListUsers(c.Request.Context(), viewerOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"users": users})
}

func (s *HTTPServer) createUser(c *gin.Context) {
	var input UserInput
	if !s.bind(c, &input) {
		return
	}
	user, err := s.service.CreateUser(c.Request.Context(), viewerOf(c), input)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"user": user})
}

func (s *HTTPServer) updateUser(c *gin.Context) {
	var input UserInput
	if !s.bind(c, &input) {
		return
	}
	user, err := s.service.UpdateUser(c.Request.Context(), viewerOf(c), c.Param("id"), input)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"user": user})
}

func (s *HTTPServer) deactivateUser(c *gin.Context) {
	if err := s.service.DeactivateUser(c.Request.Context(), viewerOf(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}
