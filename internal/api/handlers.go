package api

import (
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/blob"
	"github.com/fathima-sithara/chatsync/internal/viewing"
)

// GET /conversations?q=
func (s *Server) listConversations(c *fiber.Ctx) error {
	rows, total, status, err := s.sess.Conversations(c.UserContext(), c.Query("q"))
	if err != nil {
		return appError(c, apperr.Classify("api.listConversations", err))
	}
	if !status.Loaded && status.Err != nil {
		return appError(c, status.Err)
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{
		"conversations": rows,
		"totalUnread":   total,
		"loaded":        status.Loaded,
	})
}

type openReq struct {
	PeerName string `json:"peerName"`
}

// POST /conversations/:peer/open
func (s *Server) openConversation(c *fiber.Ctx) error {
	var req openReq
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return JSONError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}
	st, err := s.sess.OpenConversation(c.UserContext(), c.Params("peer"), req.PeerName)
	if err != nil {
		return appError(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, st)
}

// POST /conversations/close
func (s *Server) closeConversation(c *fiber.Ctx) error {
	st, err := s.sess.CloseConversation(c.UserContext())
	if err != nil {
		return appError(c, apperr.Classify("api.closeConversation", err))
	}
	return JSONSuccess(c, fiber.StatusOK, st)
}

// POST /panel/:panel
func (s *Server) showPanel(c *fiber.Ctx) error {
	st, err := s.sess.ShowPanel(c.UserContext(), viewing.Panel(c.Params("panel")))
	if err != nil {
		return appError(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, st)
}

// GET /transcript
func (s *Server) transcript(c *fiber.Ctx) error {
	v, ok, err := s.sess.Transcript(c.UserContext())
	if err != nil {
		return appError(c, apperr.Classify("api.transcript", err))
	}
	if !ok {
		return JSONError(c, fiber.StatusNotFound, "no conversation is open")
	}
	return JSONSuccess(c, fiber.StatusOK, v)
}

// POST /transcript/older
func (s *Server) loadOlder(c *fiber.Ctx) error {
	n, err := s.sess.LoadOlder(c.UserContext())
	if err != nil {
		return appError(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"added": n})
}

type sendReq struct {
	Content string `json:"content"`
}

// POST /messages
func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendReq
	if err := c.BodyParser(&req); err != nil {
		return JSONError(c, fiber.StatusBadRequest, "invalid payload")
	}
	m, err := s.sess.Send(c.UserContext(), req.Content)
	if err != nil {
		return appError(c, err)
	}
	return JSONSuccess(c, fiber.StatusAccepted, m)
}

// POST /messages/:id/retry
func (s *Server) retryMessage(c *fiber.Ctx) error {
	m, err := s.sess.Retry(c.UserContext(), c.Params("id"))
	if err != nil {
		return appError(c, err)
	}
	return JSONSuccess(c, fiber.StatusAccepted, m)
}

// GET /contacts/:peer
func (s *Server) isContact(c *fiber.Ctx) error {
	ok, err := s.sess.IsContact(c.UserContext(), c.Params("peer"))
	if err != nil {
		return appError(c, apperr.Classify("api.isContact", err))
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"contact": ok})
}

type contactReq struct {
	UserID string `json:"userId"`
}

// POST /contacts
func (s *Server) addContact(c *fiber.Ctx) error {
	var req contactReq
	if err := c.BodyParser(&req); err != nil {
		return JSONError(c, fiber.StatusBadRequest, "invalid payload")
	}
	ct, err := s.sess.AddContact(c.UserContext(), req.UserID)
	if err != nil {
		return appError(c, err)
	}
	return JSONSuccess(c, fiber.StatusCreated, ct)
}

// POST /avatars (multipart/form-data 'file')
func (s *Server) uploadAvatar(c *fiber.Ctx) error {
	if s.avatars == nil {
		return JSONError(c, fiber.StatusServiceUnavailable, "avatar storage is disabled")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return JSONError(c, fiber.StatusBadRequest, "file missing")
	}
	f, err := fh.Open()
	if err != nil {
		return JSONError(c, fiber.StatusInternalServerError, "cannot open file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return JSONError(c, fiber.StatusBadRequest, "cannot read file")
	}
	ct := fh.Header.Get(fiber.HeaderContentType)
	if ct == "" {
		ct = http.DetectContentType(data)
	}

	p, err := s.avatars.AvatarPath(fh.Filename)
	if err != nil {
		return appError(c, err)
	}
	var last int64
	key, err := s.avatars.Upload(c.UserContext(), p, ct, data, func(pr blob.Progress) {
		last = pr.Transferred
	})
	if err != nil {
		return appError(c, err)
	}
	s.log.Infow("avatar uploaded", "path", key, "bytes", last)
	return JSONSuccess(c, fiber.StatusCreated, fiber.Map{"path": key, "bytes": last})
}

// GET /avatars/url?path=
func (s *Server) avatarURL(c *fiber.Ctx) error {
	if s.avatars == nil {
		return JSONError(c, fiber.StatusServiceUnavailable, "avatar storage is disabled")
	}
	p := c.Query("path")
	if p == "" {
		return JSONError(c, fiber.StatusBadRequest, "path is required")
	}
	u, err := s.avatars.SignedURL(c.UserContext(), p)
	if err != nil {
		return appError(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"url": u})
}
