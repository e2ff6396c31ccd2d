package handler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-lab/internal/device"
	"github.com/noah-isme/gema-speaking-lab/internal/middleware"
	"github.com/noah-isme/gema-speaking-lab/internal/service"
	"github.com/noah-isme/gema-speaking-lab/internal/utils"
)

const (
	socketWriteTimeout = 10 * time.Second
	socketCommandQueue = 4
	socketMaxChunk     = 1 << 20
)

// RecordingSocketHandler connects a browser's microphone to a workspace.
// JSON text frames carry device.Message values and binary frames carry
// encoded audio chunks.
type RecordingSocketHandler struct {
	service service.PracticeService
	logger  zerolog.Logger
}

// NewRecordingSocketHandler constructs the websocket handler.
func NewRecordingSocketHandler(service service.PracticeService, logger zerolog.Logger) *RecordingSocketHandler {
	return &RecordingSocketHandler{
		service: service,
		logger:  logger.With().Str("component", "recording_socket").Logger(),
	}
}

// Register binds the upgrade route under the workspace group.
func (h *RecordingSocketHandler) Register(router fiber.Router) {
	router.Get("/:workspaceID/socket", h.upgrade, websocket.New(h.serve, websocket.Config{
		ReadBufferSize:  64 << 10,
		WriteBufferSize: 16 << 10,
	}))
}

func (h *RecordingSocketHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	w, err := h.service.Get(c.Params("workspaceID"), userIDFromContext(c))
	if err != nil {
		status, message := practiceStatus(err)
		return utils.SendError(c, status, message)
	}
	c.Locals("workspace", w)
	c.Locals("request_ctx", middleware.ContextWithCorrelation(context.Background(), middleware.GetCorrelationID(c)))
	return c.Next()
}

// socketTransport serialises writes; gorilla connections allow one writer.
type socketTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *socketTransport) Send(msg device.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return t.conn.WriteJSON(msg)
}

func (h *RecordingSocketHandler) serve(conn *websocket.Conn) {
	w, ok := conn.Locals("workspace").(*service.Workspace)
	if !ok {
		_ = conn.Close()
		return
	}
	ctx, _ := conn.Locals("request_ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	logger := h.logger.With().
		Str("workspace_id", w.ID).
		Str("correlation_id", middleware.CorrelationIDFromContext(ctx)).
		Logger()

	transport := &socketTransport{conn: conn}
	detach := w.Device().Attach(transport)
	logger.Info().Msg("recording socket connected")

	commands := make(chan device.Message, socketCommandQueue)
	var worker sync.WaitGroup
	worker.Add(1)
	go func() {
		defer worker.Done()
		for cmd := range commands {
			h.runCommand(ctx, w, transport, cmd, logger)
		}
	}()

	conn.SetReadLimit(socketMaxChunk)
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("recording socket read loop ended")
			break
		}
		if kind == websocket.BinaryMessage {
			w.Device().HandleChunk(payload)
			continue
		}

		var msg device.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = transport.Send(device.Message{Type: device.MsgError, Error: "malformed message"})
			continue
		}
		switch msg.Type {
		case device.MsgPermission:
			w.Device().HandlePermission(msg.Granted)
		case device.MsgFlushed:
			w.Device().HandleFlushed(msg.MimeType)
		case device.MsgStart, device.MsgStop:
			select {
			case commands <- msg:
			default:
				_ = transport.Send(device.Message{Type: device.MsgError, Error: "busy, try again"})
			}
		default:
			_ = transport.Send(device.Message{Type: device.MsgError, Error: "unknown message type " + string(msg.Type)})
		}
	}

	detach()
	cancel()
	close(commands)
	worker.Wait()
	w.CancelRecording()
	_ = conn.Close()
	logger.Info().Msg("recording socket disconnected")
}

// runCommand handles start and stop off the read loop, since both wait for
// frames the read loop has to deliver.
func (h *RecordingSocketHandler) runCommand(ctx context.Context, w *service.Workspace, transport *socketTransport, cmd device.Message, logger zerolog.Logger) {
	switch cmd.Type {
	case device.MsgStart:
		info, err := w.StartRecording(ctx, cmd.ActivityID, cmd.ItemID, cmd.ReRecord)
		if err != nil {
			h.sendError(transport, err, logger)
			return
		}
		_ = transport.Send(device.Message{Type: device.MsgSession, Session: &info})
	case device.MsgStop:
		item, err := w.StopRecording(ctx)
		if err != nil {
			h.sendError(transport, err, logger)
			return
		}
		_ = transport.Send(device.Message{Type: device.MsgProgress, Item: &item})
	}
}

func (h *RecordingSocketHandler) sendError(transport *socketTransport, err error, logger zerolog.Logger) {
	status, message := practiceStatus(err)
	if status == fiber.StatusInternalServerError {
		logger.Error().Err(err).Msg("recording command failed")
	}
	_ = transport.Send(device.Message{Type: device.MsgError, Error: message})
}
