package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/pkg/scoring"
)

// streamWriteTimeout bounds sending one reply frame.
const streamWriteTimeout = 5 * time.Second

// streamError is sent instead of a result when a frame cannot be scored. The
// connection stays open.
type streamError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// handlePractice handles GET /ws/practice. The client streams interim
// recognitions as {expected_text, recognized_text} text frames and receives
// one scoring result per frame, in order.
func (s *Server) handlePractice(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	// Two texts at the rune cap, each rune possibly a \uXXXX surrogate pair
	// (12 bytes), plus JSON framing. The rune cap is enforced per frame.
	conn.SetReadLimit(int64(2*12*s.maxText + 1024))

	ctx := r.Context()
	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

	log := observe.Logger(ctx)
	log.Debug("api: practice stream opened")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Debug("api: practice stream closed")
				return
			}
			log.Warn("api: practice stream read failed", "err", err)
			return
		}
		if typ != websocket.MessageText {
			if err := s.writeFrame(ctx, conn, streamError{Error: "expected a text frame"}); err != nil {
				return
			}
			continue
		}

		reply, ok := s.scoreFrame(ctx, data)
		if !ok {
			log.Debug("api: rejected practice frame", "reason", reply)
		}
		if err := s.writeFrame(ctx, conn, reply); err != nil {
			log.Warn("api: practice stream write failed", "err", err)
			return
		}
	}
}

// scoreFrame decodes and scores one frame. It reports false when the reply is
// a [streamError].
func (s *Server) scoreFrame(ctx context.Context, data []byte) (any, bool) {
	var req scoreRequest
	if err := decodeJSON(data, &req); err != nil {
		if errors.Is(err, scoring.ErrInvalidInput) {
			return streamError{Error: msgInvalidRequest, Details: err.Error()}, false
		}
		return streamError{Error: msgInvalidJSON}, false
	}
	expected, recognized, err := requiredTexts(req.ExpectedText, req.RecognizedText)
	if err != nil {
		return streamError{Error: msgInvalidRequest, Details: err.Error()}, false
	}
	if strings.TrimSpace(expected) == "" {
		return streamError{Error: msgMissingText}, false
	}
	if s.tooLong(expected, recognized) {
		return streamError{Error: msgTextTooLong}, false
	}
	res, err := s.coach.Score(ctx, expected, recognized, "")
	if err != nil {
		if errors.Is(err, scoring.ErrInvalidInput) {
			return streamError{Error: msgInvalidRequest}, false
		}
		return streamError{Error: msgScoringFailed}, false
	}
	return res, true
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
