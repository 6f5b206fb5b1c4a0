// Package server exposes the meeting pipeline over HTTP: record CRUD,
// audio upload, status polling (plain and websocket), speaker mappings,
// re-trigger and publish endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openminutes/openminutes/internal/audio"
	"github.com/openminutes/openminutes/internal/meeting"
	"github.com/openminutes/openminutes/internal/pipeline"
	"github.com/openminutes/openminutes/internal/publish"
	"github.com/openminutes/openminutes/internal/store"
)

// Server wires the HTTP surface to the store and the orchestrator.
type Server struct {
	store *store.Store
	orch  *pipeline.Orchestrator
	log   *logrus.Entry

	audioDir    string
	maxUploadMB int
	retention   time.Duration
}

// New builds the server.
func New(st *store.Store, orch *pipeline.Orchestrator, audioDir string, maxUploadMB int, retention time.Duration, log *logrus.Entry) *Server {
	return &Server{
		store:       st,
		orch:        orch,
		log:         log,
		audioDir:    audioDir,
		maxUploadMB: maxUploadMB,
		retention:   retention,
	}
}

// App builds the fiber application with all routes registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             (s.maxUploadMB + 1) * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Post("/meetings", s.createMeeting)
	api.Get("/meetings", s.listMeetings)
	api.Get("/meetings/:id", s.getMeeting)
	api.Patch("/meetings/:id", s.updateMeeting)
	api.Delete("/meetings/:id", s.deleteMeeting)
	api.Get("/meetings/:id/status", s.getStatus)
	api.Get("/meetings/:id/speakers", s.getSpeakers)
	api.Patch("/meetings/:id/speakers", s.updateSpeakers)
	api.Post("/meetings/:id/transcribe", s.retriggerTranscription)
	api.Post("/meetings/:id/summarize", s.retriggerSummary)
	api.Post("/meetings/:id/publish/wiki", s.publishWiki)
	api.Post("/meetings/:id/publish/chat", s.publishChat)
	api.Get("/meetings/:id/publish/wiki", s.wikiPublishStatus)
	api.Get("/meetings/:id/publish/chat", s.chatPublishStatus)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/meetings/:id/status", websocket.New(s.streamStatus))

	return app
}

// createMeeting registers a record from a multipart form. The audio part is
// optional: without it the record sits in pending with no run in flight;
// with it, processing starts immediately.
func (s *Server) createMeeting(c *fiber.Ctx) error {
	title := c.FormValue("title")
	if title == "" {
		return apiError(c, fiber.StatusBadRequest, "ERR_NO_TITLE", "Title is required")
	}

	meetingDate, err := parseDate(c.FormValue("meeting_date"))
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, "ERR_BAD_DATE", err.Error())
	}

	m := &meeting.Meeting{
		ID:          uuid.New().String(),
		TeamID:      c.FormValue("team_id"),
		CreatedBy:   c.FormValue("created_by"),
		Title:       title,
		MeetingDate: meetingDate,
	}

	file, err := c.FormFile("audio")
	if err == nil {
		if file.Size > int64(s.maxUploadMB)*1024*1024 {
			return apiError(c, fiber.StatusBadRequest, "ERR_FILE_TOO_LARGE",
				fmt.Sprintf("File too large (max %dMB)", s.maxUploadMB))
		}
		if !audio.ValidFormat(file.Filename) {
			return apiError(c, fiber.StatusBadRequest, "ERR_INVALID_FORMAT", "Unsupported audio format")
		}

		path := filepath.Join(s.audioDir, m.ID+filepath.Ext(file.Filename))
		if err := c.SaveFile(file, path); err != nil {
			s.log.WithError(err).Error("saving upload failed")
			return apiError(c, fiber.StatusInternalServerError, "ERR_SAVE_FAILED", "Failed to save file")
		}
		m.AudioPath = path
		m.AudioExpiresAt = time.Now().Add(s.retention)
	}

	if err := s.store.CreateMeeting(c.Context(), m); err != nil {
		s.log.WithError(err).Error("creating meeting failed")
		if m.AudioPath != "" {
			os.Remove(m.AudioPath)
		}
		return apiError(c, fiber.StatusInternalServerError, "ERR_CREATE_FAILED", "Failed to create meeting")
	}

	if m.HasAudio() {
		if err := s.orch.StartProcessing(c.Context(), m.ID); err != nil {
			s.log.WithError(err).WithField("meeting_id", m.ID).Error("starting pipeline failed")
		}
	}

	s.log.WithFields(logrus.Fields{"meeting_id": m.ID, "has_audio": m.HasAudio()}).
		Info("meeting created")
	return c.Status(fiber.StatusCreated).JSON(meetingSummaryJSON(m))
}

func (s *Server) listMeetings(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	meetings, err := s.store.ListMeetings(c.Context(), c.Query("team_id"), limit)
	if err != nil {
		s.log.WithError(err).Error("listing meetings failed")
		return apiError(c, fiber.StatusInternalServerError, "ERR_LIST_FAILED", "Failed to list meetings")
	}

	out := make([]fiber.Map, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, meetingSummaryJSON(m))
	}
	return c.JSON(fiber.Map{"meetings": out})
}

func (s *Server) getMeeting(c *fiber.Ctx) error {
	m, err := s.store.GetMeeting(c.Context(), c.Params("id"))
	if err != nil {
		return s.storeError(c, err, "loading meeting")
	}

	mappings, err := s.store.ListSpeakerMappings(c.Context(), m.ID)
	if err != nil {
		return s.storeError(c, err, "loading speaker mappings")
	}

	body := meetingSummaryJSON(m)
	body["transcript"] = m.Transcript
	body["corrected_transcript"] = m.CorrectedTranscript
	body["summary"] = m.Summary
	body["chat_view"] = m.ChatView(mappings)
	body["wiki_page_url"] = m.WikiPageURL
	body["wiki_published"] = publish.WikiPublished(m)
	body["chat_message_id"] = m.ChatMessageID
	body["chat_published"] = publish.ChatPublished(m)
	return c.JSON(body)
}

func (s *Server) updateMeeting(c *fiber.Ctx) error {
	var req struct {
		Title       string `json:"title"`
		MeetingDate string `json:"meeting_date"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "ERR_BAD_BODY", "Invalid request body")
	}

	m, err := s.store.GetMeeting(c.Context(), c.Params("id"))
	if err != nil {
		return s.storeError(c, err, "loading meeting")
	}

	title := m.Title
	if req.Title != "" {
		title = req.Title
	}
	date := m.MeetingDate
	if req.MeetingDate != "" {
		if date, err = parseDate(req.MeetingDate); err != nil {
			return apiError(c, fiber.StatusBadRequest, "ERR_BAD_DATE", err.Error())
		}
	}

	if err := s.store.UpdateMeetingInfo(c.Context(), m.ID, title, date); err != nil {
		return s.storeError(c, err, "updating meeting")
	}
	return c.JSON(fiber.Map{"id": m.ID, "title": title, "meeting_date": date})
}

// deleteMeeting removes the record and its audio payload. In-flight stage
// work discovers the record gone and discards its result.
func (s *Server) deleteMeeting(c *fiber.Ctx) error {
	m, err := s.store.GetMeeting(c.Context(), c.Params("id"))
	if err != nil {
		return s.storeError(c, err, "loading meeting")
	}

	if err := s.store.DeleteMeeting(c.Context(), m.ID); err != nil {
		return s.storeError(c, err, "deleting meeting")
	}
	if m.HasAudio() {
		if err := os.Remove(m.AudioPath); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).WithField("meeting_id", m.ID).Warn("could not delete audio file")
		}
	}

	s.log.WithField("meeting_id", m.ID).Info("meeting deleted")
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) getStatus(c *fiber.Ctx) error {
	m, err := s.store.GetMeeting(c.Context(), c.Params("id"))
	if err != nil {
		return s.storeError(c, err, "loading meeting")
	}
	return c.JSON(statusJSON(m))
}

func (s *Server) getSpeakers(c *fiber.Ctx) error {
	if _, err := s.store.GetMeeting(c.Context(), c.Params("id")); err != nil {
		return s.storeError(c, err, "loading meeting")
	}
	mappings, err := s.store.ListSpeakerMappings(c.Context(), c.Params("id"))
	if err != nil {
		return s.storeError(c, err, "loading speaker mappings")
	}

	out := make([]fiber.Map, 0, len(mappings))
	for _, mp := range mappings {
		out = append(out, fiber.Map{
			"speaker_label": mp.SpeakerLabel,
			"speaker_name":  mp.SpeakerName,
		})
	}
	return c.JSON(fiber.Map{"speakers": out})
}

// updateSpeakers applies label → name assignments. Mappings only affect the
// derived views; stored transcripts are untouched, so this is allowed in
// any status.
func (s *Server) updateSpeakers(c *fiber.Ctx) error {
	var req struct {
		Speakers map[string]string `json:"speakers"`
	}
	if err := c.BodyParser(&req); err != nil || len(req.Speakers) == 0 {
		return apiError(c, fiber.StatusBadRequest, "ERR_BAD_BODY", "Expected a speakers map")
	}

	if _, err := s.store.GetMeeting(c.Context(), c.Params("id")); err != nil {
		return s.storeError(c, err, "loading meeting")
	}
	if err := s.store.UpsertSpeakerMappings(c.Context(), c.Params("id"), req.Speakers); err != nil {
		return s.storeError(c, err, "updating speaker mappings")
	}
	return s.getSpeakers(c)
}

func (s *Server) retriggerTranscription(c *fiber.Ctx) error {
	err := s.orch.RetriggerTranscription(c.Context(), c.Params("id"))
	return s.triggerResponse(c, err, "re-transcription")
}

func (s *Server) retriggerSummary(c *fiber.Ctx) error {
	err := s.orch.RetriggerSummary(c.Context(), c.Params("id"))
	return s.triggerResponse(c, err, "re-summarization")
}

func (s *Server) publishWiki(c *fiber.Ctx) error {
	err := s.orch.RequestPublish(c.Context(), c.Params("id"), store.TaskPublishWiki)
	return s.triggerResponse(c, err, "wiki publish")
}

func (s *Server) publishChat(c *fiber.Ctx) error {
	err := s.orch.RequestPublish(c.Context(), c.Params("id"), store.TaskPublishChat)
	return s.triggerResponse(c, err, "chat publish")
}

func (s *Server) wikiPublishStatus(c *fiber.Ctx) error {
	m, err := s.store.GetMeeting(c.Context(), c.Params("id"))
	if err != nil {
		return s.storeError(c, err, "loading meeting")
	}
	return c.JSON(fiber.Map{
		"published":     publish.WikiPublished(m),
		"wiki_page_id":  m.WikiPageID,
		"wiki_page_url": m.WikiPageURL,
	})
}

func (s *Server) chatPublishStatus(c *fiber.Ctx) error {
	m, err := s.store.GetMeeting(c.Context(), c.Params("id"))
	if err != nil {
		return s.storeError(c, err, "loading meeting")
	}
	return c.JSON(fiber.Map{
		"published":       publish.ChatPublished(m),
		"chat_message_id": m.ChatMessageID,
		"chat_channel":    m.ChatChannel,
	})
}

func (s *Server) triggerResponse(c *fiber.Ctx, err error, what string) error {
	var conflict *meeting.ConflictError
	switch {
	case err == nil:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status":  "queued",
			"message": fmt.Sprintf("%s queued", what),
		})
	case errors.Is(err, meeting.ErrNotFound):
		return apiError(c, fiber.StatusNotFound, "ERR_NOT_FOUND", err.Error())
	case errors.As(err, &conflict):
		return apiError(c, fiber.StatusConflict, "ERR_BUSY", err.Error())
	default:
		s.log.WithError(err).Error(what + " request failed")
		return apiError(c, fiber.StatusInternalServerError, "ERR_INTERNAL", "Request failed")
	}
}

var streamPollInterval = time.Second

// statusConn is the slice of a websocket connection the status stream
// needs. Pings keep the loop honest: a gone client fails the next ping
// instead of leaving the poll running forever.
type statusConn interface {
	WriteJSON(v any) error
	Ping() error
}

type wsConn struct{ *websocket.Conn }

func (w wsConn) Ping() error {
	return w.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// streamStatus pushes status updates over a websocket until the record
// reaches a terminal state or the client goes away.
func (s *Server) streamStatus(c *websocket.Conn) {
	defer c.Close()
	s.pollStatus(context.Background(), c.Params("id"), wsConn{c})
}

func (s *Server) pollStatus(ctx context.Context, id string, conn statusConn) {
	var last meeting.Status
	for {
		m, err := s.store.GetMeeting(ctx, id)
		if errors.Is(err, meeting.ErrNotFound) {
			conn.WriteJSON(fiber.Map{"error": "meeting not found"})
			return
		}
		if err != nil {
			s.log.WithError(err).Warn("status stream read failed")
			return
		}

		if m.Status != last {
			last = m.Status
			if err := conn.WriteJSON(statusJSON(m)); err != nil {
				return
			}
		} else if err := conn.Ping(); err != nil {
			return
		}
		if m.Status == meeting.StatusCompleted || m.Status == meeting.StatusFailed {
			return
		}
		time.Sleep(streamPollInterval)
	}
}

func (s *Server) storeError(c *fiber.Ctx, err error, what string) error {
	if errors.Is(err, meeting.ErrNotFound) {
		return apiError(c, fiber.StatusNotFound, "ERR_NOT_FOUND", "Meeting not found")
	}
	s.log.WithError(err).Error(what + " failed")
	return apiError(c, fiber.StatusInternalServerError, "ERR_INTERNAL", "Internal error")
}

func apiError(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg, "code": code})
}

func statusJSON(m *meeting.Meeting) fiber.Map {
	return fiber.Map{
		"status":         m.Status,
		"status_display": m.Status.Display(),
		"error_message":  m.ErrorMessage,
	}
}

func meetingSummaryJSON(m *meeting.Meeting) fiber.Map {
	return fiber.Map{
		"id":             m.ID,
		"team_id":        m.TeamID,
		"created_by":     m.CreatedBy,
		"title":          m.Title,
		"meeting_date":   m.MeetingDate,
		"status":         m.Status,
		"status_display": m.Status.Display(),
		"has_audio":      m.HasAudio(),
		"created_at":     m.CreatedAt,
	}
}

// parseDate accepts RFC 3339 or "2006-01-02 15:04"; empty means now.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized meeting_date %q", raw)
}
